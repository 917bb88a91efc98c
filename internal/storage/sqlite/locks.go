package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

// AcquireLock attempts to take the named-resource mutex. The read and the
// write MUST happen in one transaction: this is the one operation where a
// plain check-then-insert is a race that would hand the same lock to two
// holders. The store's single connection serializes in-process callers;
// SQLite's file lock plus busy_timeout and the retry wrapper serialize
// callers in other processes.
//
// Grant rules: absent or expired row -> new grant, seq+1; live lock with the
// same holder -> re-entrant renewal, expiry extended, seq unchanged; live
// lock with a different holder -> not granted, returned as a result value.
//
// Every fresh grant appends a lock.acquired event in the same transaction.
// Locks are not project scoped, so lock audit events carry no project key.
func (s *Store) AcquireLock(ctx context.Context, resource, holder string, ttl time.Duration) (core.LockResult, error) {
	if resource == "" || holder == "" {
		return core.LockResult{}, &core.ValidationError{Field: "lock", Reason: "resource and holder required"}
	}
	if ttl <= 0 {
		return core.LockResult{}, &core.ValidationError{Field: "ttl", Reason: "must be positive"}
	}
	now := s.now().UTC()

	var result core.LockResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT holder, seq, expires_at FROM locks WHERE resource = ?`, resource,
		)
		var (
			curHolder  string
			curSeq     uint64
			curExpires int64
		)
		err := row.Scan(&curHolder, &curSeq, &curExpires)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// no lock yet
		case err != nil:
			return fmt.Errorf("load lock: %w", err)
		case curHolder == holder && curExpires > msec(now):
			// Re-entrant renewal: extend, keep seq.
			expires := now.Add(ttl)
			if _, err := tx.ExecContext(ctx,
				`UPDATE locks SET expires_at = ? WHERE resource = ?`,
				msec(expires), resource,
			); err != nil {
				return fmt.Errorf("renew lock: %w", err)
			}
			result = core.LockResult{Granted: true, Holder: holder, Seq: curSeq, ExpiresAt: expires}
			return nil
		case curExpires > msec(now):
			// Live lock with a different holder.
			result = core.LockResult{Holder: curHolder, Seq: curSeq, ExpiresAt: fromMsec(curExpires)}
			return nil
		}

		seq := curSeq + 1
		expires := now.Add(ttl)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locks (resource, holder, seq, acquired_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(resource) DO UPDATE SET
			     holder = excluded.holder, seq = excluded.seq,
			     acquired_at = excluded.acquired_at, expires_at = excluded.expires_at`,
			resource, holder, seq, msec(now), msec(expires),
		); err != nil {
			return fmt.Errorf("insert lock: %w", err)
		}
		if _, err := s.appendEventTx(ctx, tx, core.Event{
			Timestamp: msec(now),
			Payload:   core.LockAcquiredPayload{Resource: resource, Holder: holder, Seq: seq},
		}); err != nil {
			return err
		}
		result = core.LockResult{Granted: true, Holder: holder, Seq: seq, ExpiresAt: expires}
		return nil
	})
	if err != nil {
		return core.LockResult{}, err
	}
	return result, nil
}

// ReleaseLock expires the lock in place only when holder matches; a
// mismatched holder gets ErrNotHolder so one agent can't drop another's lock.
// The row keeps its seq so the next grant continues the sequence instead of
// restarting at 1. Releasing an absent lock is a no-op; releasing an already
// expired lock writes no audit event.
func (s *Store) ReleaseLock(ctx context.Context, resource, holder string) error {
	now := s.now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT holder, expires_at FROM locks WHERE resource = ?`, resource,
		)
		var curHolder string
		var curExpires int64
		err := row.Scan(&curHolder, &curExpires)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load lock: %w", err)
		}
		if curHolder != holder {
			return fmt.Errorf("%w: %s holds %q", core.ErrNotHolder, curHolder, resource)
		}
		if curExpires <= msec(now) {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE locks SET expires_at = ? WHERE resource = ?`, msec(now), resource,
		); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		_, err = s.appendEventTx(ctx, tx, core.Event{
			Timestamp: msec(now),
			Payload:   core.LockReleasedPayload{Resource: resource, Holder: holder},
		})
		return err
	})
}

// GetLock returns the stored lock row whether or not it has expired; callers
// judge liveness against ExpiresAt.
func (s *Store) GetLock(ctx context.Context, resource string) (core.Lock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT resource, holder, seq, acquired_at, expires_at FROM locks WHERE resource = ?`,
		resource,
	)
	var l core.Lock
	var acquired, expires int64
	err := row.Scan(&l.Resource, &l.Holder, &l.Seq, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Lock{}, core.ErrNotFound
	}
	if err != nil {
		return core.Lock{}, fmt.Errorf("scan lock: %w", err)
	}
	l.AcquiredAt = fromMsec(acquired)
	l.ExpiresAt = fromMsec(expires)
	return l, nil
}
