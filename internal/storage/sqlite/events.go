package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

// AppendEvent validates, appends and projects one event in a single
// transaction. Events are never updated or deleted; sequence equals the
// assigned id.
func (s *Store) AppendEvent(ctx context.Context, ev core.Event) (uint64, error) {
	if err := s.validateEvent(&ev); err != nil {
		return 0, err
	}
	var id uint64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.appendEventTx(ctx, tx, ev)
		return err
	})
	return id, err
}

func (s *Store) validateEvent(ev *core.Event) error {
	if ev.ProjectKey == "" {
		return &core.ValidationError{Field: "project_key", Reason: "required"}
	}
	if ev.Payload == nil {
		return &core.ValidationError{Field: "data", Reason: "payload required"}
	}
	if ev.Type == "" {
		ev.Type = ev.Payload.EventType()
	}
	if !core.KnownEventType(ev.Type) {
		return fmt.Errorf("%w: %q", core.ErrUnknownEventType, ev.Type)
	}
	if ev.Type != ev.Payload.EventType() {
		return &core.ValidationError{Field: "type", Reason: "does not match payload"}
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = msec(s.now())
	}
	return nil
}

func (s *Store) appendEventTx(ctx context.Context, tx *sql.Tx, ev core.Event) (uint64, error) {
	// Internal audit appends skip validateEvent, so the discriminator must be
	// derived here or the row is stored with an empty type.
	if ev.Type == "" && ev.Payload != nil {
		ev.Type = ev.Payload.EventType()
	}
	data, err := core.EncodePayload(ev.Payload)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (type, project_key, timestamp, data) VALUES (?, ?, ?, ?)`,
		string(ev.Type), ev.ProjectKey, ev.Timestamp, string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	// sequence mirrors id; SQLite can't reference the rowid inside the
	// insert itself.
	if _, err := tx.ExecContext(ctx, `UPDATE events SET sequence = id WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("set sequence: %w", err)
	}
	ev.ID = uint64(id)
	if err := s.applyEvent(ctx, tx, ev); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// QueryEvents returns events ordered by (timestamp, sequence) ascending.
// Ordering holds within a project; no ordering is promised across projects.
func (s *Store) QueryEvents(ctx context.Context, q storage.EventQuery) ([]core.Event, error) {
	query := `SELECT id, type, project_key, timestamp, data FROM events WHERE 1=1`
	var args []any
	if q.ProjectKey != "" {
		query += " AND project_key = ?"
		args = append(args, q.ProjectKey)
	}
	if q.Type != "" {
		query += " AND type = ?"
		args = append(args, string(q.Type))
	}
	if q.From > 0 {
		query += " AND timestamp >= ?"
		args = append(args, q.From)
	}
	if q.Until > 0 {
		query += " AND timestamp < ?"
		args = append(args, q.Until)
	}
	query += " ORDER BY timestamp ASC, sequence ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var (
			id        int64
			typ       string
			project   string
			timestamp int64
			data      string
		)
		if err := rows.Scan(&id, &typ, &project, &timestamp, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		payload, err := core.DecodePayload(core.EventType(typ), []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, core.Event{
			ID:         uint64(id),
			Type:       core.EventType(typ),
			ProjectKey: project,
			Timestamp:  timestamp,
			Payload:    payload,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// insertChunkSize is how many candidate rows share one INSERT statement
// during bulk import.
const insertChunkSize = 100

// InsertEvents appends a pre-formed batch in one transaction, grouping rows
// per statement for throughput, then folds each event into the projections.
func (s *Store) InsertEvents(ctx context.Context, batch storage.ImportBatch) error {
	events := batch.Events
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if err := s.validateEvent(&events[i]); err != nil {
			return err
		}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(events); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(events) {
				end = len(events)
			}
			if err := s.insertChunk(ctx, tx, events[start:end]); err != nil {
				return err
			}
		}
		// Backfill sequence for everything this transaction inserted.
		if _, err := tx.ExecContext(ctx, `UPDATE events SET sequence = id WHERE sequence = 0`); err != nil {
			return fmt.Errorf("set sequence: %w", err)
		}
		for _, ev := range events {
			if err := s.applyEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertChunk(ctx context.Context, tx *sql.Tx, events []core.Event) error {
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*4)
	for _, ev := range events {
		data, err := core.EncodePayload(ev.Payload)
		if err != nil {
			return err
		}
		placeholders = append(placeholders, "(?, ?, ?, ?)")
		args = append(args, string(ev.Type), ev.ProjectKey, ev.Timestamp, string(data))
	}
	query := `INSERT INTO events (type, project_key, timestamp, data) VALUES ` +
		strings.Join(placeholders, ", ")
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert event batch: %w", err)
	}
	return nil
}

// SessionEventExists reports whether an event with the given timestamp
// already carries the session identifier in its payload. The bulk importer
// uses this as its dedup check.
func (s *Store) SessionEventExists(ctx context.Context, timestamp int64, sessionID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM events
		     WHERE timestamp = ? AND json_extract(data, '$.session_id') = ?)`,
		timestamp, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("session event lookup: %w", err)
	}
	return exists == 1, nil
}
