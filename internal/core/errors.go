package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownEventType is returned by append paths for types outside the
	// closed payload set. Unknown types are tolerated on read, never on write.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNotHolder is returned when a release names a holder that doesn't
	// own the lock.
	ErrNotHolder = errors.New("not lock holder")
)

// CursorRegressionError reports an attempt to move a cursor backward. That is
// a consumer replay bug, so it is surfaced rather than clamped.
type CursorRegressionError struct {
	Stream     string
	Checkpoint string
	Stored     uint64
	Requested  uint64
}

func (e *CursorRegressionError) Error() string {
	return fmt.Sprintf("cursor regression on %s/%s: stored %d, requested %d",
		e.Stream, e.Checkpoint, e.Stored, e.Requested)
}

// ValidationError marks a malformed request rejected before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
