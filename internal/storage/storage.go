// Package storage defines the substrate's store contract. All state lives in
// one embedded store per project workspace; callers never cache mutable rows
// across calls; every operation is a fresh round trip.
package storage

import (
	"context"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

// EventQuery narrows QueryEvents. From is inclusive, Until exclusive, both in
// milliseconds since epoch; zero values mean unbounded. Results are ordered
// by (timestamp, sequence) ascending, so callers can re-issue with a narrower
// range to restart.
type EventQuery struct {
	ProjectKey string
	Type       core.EventType
	From       int64
	Until      int64
	Limit      int
}

// ImportBatch is a set of pre-formed events the bulk importer replays.
type ImportBatch struct {
	Events []core.Event
}

// Store is the coordination substrate: append-only event log with synchronous
// projections, TTL reservations and locks, consumer cursors, and append-only
// decision traces.
type Store interface {
	// Event log. AppendEvent assigns the id/sequence and folds the event into
	// the projections in the same transaction.
	AppendEvent(ctx context.Context, ev core.Event) (uint64, error)
	QueryEvents(ctx context.Context, q EventQuery) ([]core.Event, error)

	// Bulk import support. InsertEvents appends a whole batch in one
	// transaction; SessionEventExists backs the importer's dedup check.
	InsertEvents(ctx context.Context, batch ImportBatch) error
	SessionEventExists(ctx context.Context, timestamp int64, sessionID string) (bool, error)

	// Agent projection.
	GetAgent(ctx context.Context, projectKey, name string) (core.Agent, error)
	ListAgents(ctx context.Context, projectKey string) ([]core.Agent, error)

	// Message projection.
	Inbox(ctx context.Context, projectKey, agent string, unreadOnly bool) ([]core.Message, error)
	MarkRead(ctx context.Context, messageID, agent string) error
	MarkAck(ctx context.Context, messageID, agent string) error
	Recipients(ctx context.Context, messageID string) ([]core.Recipient, error)
	DeleteMessage(ctx context.Context, projectKey, messageID string) error

	// Reservations. Conflicts come back as a result value, never an error.
	Reserve(ctx context.Context, req core.Reservation) (core.ReserveResult, error)
	GetReservation(ctx context.Context, id string) (core.Reservation, error)
	ReleaseReservation(ctx context.Context, id string) error
	ActiveReservations(ctx context.Context, projectKey string) ([]core.Reservation, error)
	AgentReservations(ctx context.Context, projectKey, agent string) ([]core.Reservation, error)
	CheckConflicts(ctx context.Context, projectKey, pathPattern string, exclusive bool) ([]core.ConflictDetail, error)

	// Locks.
	AcquireLock(ctx context.Context, resource, holder string, ttl time.Duration) (core.LockResult, error)
	ReleaseLock(ctx context.Context, resource, holder string) error
	GetLock(ctx context.Context, resource string) (core.Lock, error)

	// Cursors.
	AdvanceCursor(ctx context.Context, stream, checkpoint string, position uint64) error
	ReadCursor(ctx context.Context, stream, checkpoint string) (uint64, error)

	// Decision traces.
	RecordDecision(ctx context.Context, trace core.DecisionTrace) (core.DecisionTrace, error)
	ListDecisions(ctx context.Context, projectKey, agent string, limit int) ([]core.DecisionTrace, error)
	LinkEntity(ctx context.Context, link core.EntityLink) (core.EntityLink, error)
	TraceLinks(ctx context.Context, traceID string) ([]core.EntityLink, error)

	Close() error
}
