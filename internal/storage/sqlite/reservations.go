package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/glob"
)

const defaultReservationTTL = 30 * time.Minute

const reservationColumns = `id, project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, released_at, lock_holder_id`

// Reserve grants a path-pattern claim unless an active reservation overlaps
// it and either side is exclusive. The conflict scan and the insert run in
// one transaction; a separate check-then-insert would let two overlapping
// exclusive claims both land. Conflicts are a normal result, not an error.
func (s *Store) Reserve(ctx context.Context, req core.Reservation) (core.ReserveResult, error) {
	if req.ProjectKey == "" || req.AgentName == "" || req.PathPattern == "" {
		return core.ReserveResult{}, &core.ValidationError{Field: "reservation", Reason: "project_key, agent_name and path_pattern required"}
	}
	if err := glob.Validate(req.PathPattern); err != nil {
		return core.ReserveResult{}, &core.ValidationError{Field: "path_pattern", Reason: err.Error()}
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	now := s.now().UTC()

	var result core.ReserveResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		conflicts, err := s.scanConflicts(ctx, tx, req.ProjectKey, req.PathPattern, req.Exclusive, now)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			result = core.ReserveResult{Conflicts: conflicts}
			return nil
		}

		granted := core.Reservation{
			ID:           uuid.NewString(),
			ProjectKey:   req.ProjectKey,
			AgentName:    req.AgentName,
			PathPattern:  req.PathPattern,
			Exclusive:    req.Exclusive,
			Reason:       req.Reason,
			CreatedAt:    now,
			ExpiresAt:    now.Add(ttl),
			LockHolderID: req.LockHolderID,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reservations
			     (id, project_key, agent_name, path_pattern, exclusive, reason, created_at, expires_at, lock_holder_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			granted.ID, granted.ProjectKey, granted.AgentName, granted.PathPattern,
			boolInt(granted.Exclusive), granted.Reason, msec(granted.CreatedAt), msec(granted.ExpiresAt),
			granted.LockHolderID,
		)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		// Audit trail: the grant is recorded in the event log.
		_, err = s.appendEventTx(ctx, tx, core.Event{
			ProjectKey: granted.ProjectKey,
			Timestamp:  msec(now),
			Payload: core.ReservationMadePayload{
				ReservationID: granted.ID,
				Agent:         granted.AgentName,
				PathPattern:   granted.PathPattern,
				Exclusive:     granted.Exclusive,
				Reason:        granted.Reason,
			},
		})
		if err != nil {
			return err
		}
		result = core.ReserveResult{Granted: true, Reservation: &granted}
		return nil
	})
	if err != nil {
		return core.ReserveResult{}, err
	}
	return result, nil
}

// CheckConflicts previews what an acquisition of pathPattern would collide
// with, without writing anything.
func (s *Store) CheckConflicts(ctx context.Context, projectKey, pathPattern string, exclusive bool) ([]core.ConflictDetail, error) {
	if err := glob.Validate(pathPattern); err != nil {
		return nil, &core.ValidationError{Field: "path_pattern", Reason: err.Error()}
	}
	return s.scanConflicts(ctx, s.db, projectKey, pathPattern, exclusive, s.now().UTC())
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) scanConflicts(ctx context.Context, q querier, projectKey, pathPattern string, exclusive bool, now time.Time) ([]core.ConflictDetail, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, agent_name, path_pattern, exclusive, expires_at
		 FROM reservations
		 WHERE project_key = ? AND released_at IS NULL AND expires_at > ?`,
		projectKey, msec(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query active reservations: %w", err)
	}
	defer rows.Close()

	var conflicts []core.ConflictDetail
	for rows.Next() {
		var (
			id, agent, pattern string
			excl               int
			expires            int64
		)
		if err := rows.Scan(&id, &agent, &pattern, &excl, &expires); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		if !exclusive && excl == 0 {
			continue // two shared claims coexist
		}
		overlap, err := glob.Overlap(pathPattern, pattern)
		if err != nil {
			// A stored pattern that no longer parses can't be allowed to
			// block forever; treat it as overlapping so the operator sees it.
			overlap = true
		}
		if !overlap {
			continue
		}
		conflicts = append(conflicts, core.ConflictDetail{
			ReservationID: id,
			AgentName:     agent,
			PathPattern:   pattern,
			Exclusive:     excl != 0,
			ExpiresAt:     fromMsec(expires).Format(time.RFC3339Nano),
		})
	}
	return conflicts, rows.Err()
}

func (s *Store) GetReservation(ctx context.Context, id string) (core.Reservation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id,
	)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Reservation{}, core.ErrNotFound
	}
	return res, err
}

// ReleaseReservation marks the reservation released. Releasing an already
// released reservation is a no-op; the audit event is only written on the
// first transition.
func (s *Store) ReleaseReservation(ctx context.Context, id string) error {
	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT project_key, agent_name, released_at FROM reservations WHERE id = ?`, id,
		)
		var project, agent string
		var released sql.NullInt64
		if err := row.Scan(&project, &agent, &released); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrNotFound
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if released.Valid {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE reservations SET released_at = ? WHERE id = ?`, msec(now), id,
		); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
		_, err := s.appendEventTx(ctx, tx, core.Event{
			ProjectKey: project,
			Timestamp:  msec(now),
			Payload:    core.ReservationReleasedPayload{ReservationID: id, Agent: agent},
		})
		return err
	})
}

// ActiveReservations lists unreleased, unexpired reservations for a project.
// Expiry is decided here, at read time; nothing depends on a sweeper.
func (s *Store) ActiveReservations(ctx context.Context, projectKey string) ([]core.Reservation, error) {
	return s.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE project_key = ? AND released_at IS NULL AND expires_at > ?
		 ORDER BY created_at ASC`,
		projectKey, msec(s.now()),
	)
}

// AgentReservations lists an agent's reservations in a project, active first.
func (s *Store) AgentReservations(ctx context.Context, projectKey, agent string) ([]core.Reservation, error) {
	return s.listReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE project_key = ? AND agent_name = ?
		 ORDER BY released_at IS NULL DESC, created_at ASC`,
		projectKey, agent,
	)
}

func (s *Store) listReservations(ctx context.Context, query string, args ...any) ([]core.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(row scanner) (core.Reservation, error) {
	var r core.Reservation
	var exclusive int
	var createdAt, expiresAt int64
	var releasedAt sql.NullInt64
	err := row.Scan(&r.ID, &r.ProjectKey, &r.AgentName, &r.PathPattern, &exclusive,
		&r.Reason, &createdAt, &expiresAt, &releasedAt, &r.LockHolderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Reservation{}, err
		}
		return core.Reservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	r.Exclusive = exclusive != 0
	r.CreatedAt = fromMsec(createdAt)
	r.ExpiresAt = fromMsec(expiresAt)
	r.ReleasedAt = timePtr(releasedAt)
	return r, nil
}
