package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mistakeknot/tessellate/internal/core"
)

// AdvanceCursor moves a consumer's position forward. A position below the
// stored one is a replay bug in the consumer, so it is rejected with a
// CursorRegressionError instead of being clamped. Re-submitting the current
// position is allowed (idempotent retries).
func (s *Store) AdvanceCursor(ctx context.Context, stream, checkpoint string, position uint64) error {
	if stream == "" || checkpoint == "" {
		return &core.ValidationError{Field: "cursor", Reason: "stream and checkpoint required"}
	}
	now := msec(s.now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT position FROM cursors WHERE stream = ? AND checkpoint = ?`,
			stream, checkpoint,
		)
		var stored uint64
		err := row.Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// first advance for this consumer
		case err != nil:
			return fmt.Errorf("load cursor: %w", err)
		case position < stored:
			return &core.CursorRegressionError{
				Stream:     stream,
				Checkpoint: checkpoint,
				Stored:     stored,
				Requested:  position,
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cursors (stream, checkpoint, position, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(stream, checkpoint) DO UPDATE SET
			     position = excluded.position, updated_at = excluded.updated_at`,
			stream, checkpoint, position, now,
		); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		return nil
	})
}

// ReadCursor returns the stored position, or 0 when the consumer has never
// advanced, so new consumers start from the beginning of the stream.
func (s *Store) ReadCursor(ctx context.Context, stream, checkpoint string) (uint64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT position FROM cursors WHERE stream = ? AND checkpoint = ?`,
		stream, checkpoint,
	)
	var position uint64
	err := row.Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return position, nil
}
