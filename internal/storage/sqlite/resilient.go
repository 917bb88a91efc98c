package sqlite

import (
	"context"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every Store method with circuit breaker + busy retry
// so transient SQLite contention doesn't bubble up to agents, and a
// persistently broken store fails fast instead of piling up goroutines.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient wraps inner with default breaker settings (threshold=5,
// resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker wraps inner with a custom breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// BreakerState reports the breaker state for health endpoints.
func (r *ResilientStore) BreakerState() string {
	return r.cb.State().String()
}

func guard[T any](r *ResilientStore, fn func() (T, error)) (T, error) {
	var result T
	err := r.cb.Execute(func() error {
		return RetryOnBusy(func() error {
			var innerErr error
			result, innerErr = fn()
			return innerErr
		})
	})
	return result, err
}

func (r *ResilientStore) guardErr(fn func() error) error {
	return r.cb.Execute(func() error {
		return RetryOnBusy(fn)
	})
}

func (r *ResilientStore) AppendEvent(ctx context.Context, ev core.Event) (uint64, error) {
	return guard(r, func() (uint64, error) { return r.inner.AppendEvent(ctx, ev) })
}

func (r *ResilientStore) QueryEvents(ctx context.Context, q storage.EventQuery) ([]core.Event, error) {
	return guard(r, func() ([]core.Event, error) { return r.inner.QueryEvents(ctx, q) })
}

func (r *ResilientStore) InsertEvents(ctx context.Context, batch storage.ImportBatch) error {
	return r.guardErr(func() error { return r.inner.InsertEvents(ctx, batch) })
}

func (r *ResilientStore) SessionEventExists(ctx context.Context, timestamp int64, sessionID string) (bool, error) {
	return guard(r, func() (bool, error) { return r.inner.SessionEventExists(ctx, timestamp, sessionID) })
}

func (r *ResilientStore) GetAgent(ctx context.Context, projectKey, name string) (core.Agent, error) {
	return guard(r, func() (core.Agent, error) { return r.inner.GetAgent(ctx, projectKey, name) })
}

func (r *ResilientStore) ListAgents(ctx context.Context, projectKey string) ([]core.Agent, error) {
	return guard(r, func() ([]core.Agent, error) { return r.inner.ListAgents(ctx, projectKey) })
}

func (r *ResilientStore) Inbox(ctx context.Context, projectKey, agent string, unreadOnly bool) ([]core.Message, error) {
	return guard(r, func() ([]core.Message, error) { return r.inner.Inbox(ctx, projectKey, agent, unreadOnly) })
}

func (r *ResilientStore) MarkRead(ctx context.Context, messageID, agent string) error {
	return r.guardErr(func() error { return r.inner.MarkRead(ctx, messageID, agent) })
}

func (r *ResilientStore) MarkAck(ctx context.Context, messageID, agent string) error {
	return r.guardErr(func() error { return r.inner.MarkAck(ctx, messageID, agent) })
}

func (r *ResilientStore) Recipients(ctx context.Context, messageID string) ([]core.Recipient, error) {
	return guard(r, func() ([]core.Recipient, error) { return r.inner.Recipients(ctx, messageID) })
}

func (r *ResilientStore) DeleteMessage(ctx context.Context, projectKey, messageID string) error {
	return r.guardErr(func() error { return r.inner.DeleteMessage(ctx, projectKey, messageID) })
}

func (r *ResilientStore) Reserve(ctx context.Context, req core.Reservation) (core.ReserveResult, error) {
	return guard(r, func() (core.ReserveResult, error) { return r.inner.Reserve(ctx, req) })
}

func (r *ResilientStore) GetReservation(ctx context.Context, id string) (core.Reservation, error) {
	return guard(r, func() (core.Reservation, error) { return r.inner.GetReservation(ctx, id) })
}

func (r *ResilientStore) ReleaseReservation(ctx context.Context, id string) error {
	return r.guardErr(func() error { return r.inner.ReleaseReservation(ctx, id) })
}

func (r *ResilientStore) ActiveReservations(ctx context.Context, projectKey string) ([]core.Reservation, error) {
	return guard(r, func() ([]core.Reservation, error) { return r.inner.ActiveReservations(ctx, projectKey) })
}

func (r *ResilientStore) AgentReservations(ctx context.Context, projectKey, agent string) ([]core.Reservation, error) {
	return guard(r, func() ([]core.Reservation, error) { return r.inner.AgentReservations(ctx, projectKey, agent) })
}

func (r *ResilientStore) CheckConflicts(ctx context.Context, projectKey, pathPattern string, exclusive bool) ([]core.ConflictDetail, error) {
	return guard(r, func() ([]core.ConflictDetail, error) {
		return r.inner.CheckConflicts(ctx, projectKey, pathPattern, exclusive)
	})
}

func (r *ResilientStore) AcquireLock(ctx context.Context, resource, holder string, ttl time.Duration) (core.LockResult, error) {
	return guard(r, func() (core.LockResult, error) { return r.inner.AcquireLock(ctx, resource, holder, ttl) })
}

func (r *ResilientStore) ReleaseLock(ctx context.Context, resource, holder string) error {
	return r.guardErr(func() error { return r.inner.ReleaseLock(ctx, resource, holder) })
}

func (r *ResilientStore) GetLock(ctx context.Context, resource string) (core.Lock, error) {
	return guard(r, func() (core.Lock, error) { return r.inner.GetLock(ctx, resource) })
}

func (r *ResilientStore) AdvanceCursor(ctx context.Context, stream, checkpoint string, position uint64) error {
	return r.guardErr(func() error { return r.inner.AdvanceCursor(ctx, stream, checkpoint, position) })
}

func (r *ResilientStore) ReadCursor(ctx context.Context, stream, checkpoint string) (uint64, error) {
	return guard(r, func() (uint64, error) { return r.inner.ReadCursor(ctx, stream, checkpoint) })
}

func (r *ResilientStore) RecordDecision(ctx context.Context, trace core.DecisionTrace) (core.DecisionTrace, error) {
	return guard(r, func() (core.DecisionTrace, error) { return r.inner.RecordDecision(ctx, trace) })
}

func (r *ResilientStore) ListDecisions(ctx context.Context, projectKey, agent string, limit int) ([]core.DecisionTrace, error) {
	return guard(r, func() ([]core.DecisionTrace, error) { return r.inner.ListDecisions(ctx, projectKey, agent, limit) })
}

func (r *ResilientStore) LinkEntity(ctx context.Context, link core.EntityLink) (core.EntityLink, error) {
	return guard(r, func() (core.EntityLink, error) { return r.inner.LinkEntity(ctx, link) })
}

func (r *ResilientStore) TraceLinks(ctx context.Context, traceID string) ([]core.EntityLink, error) {
	return guard(r, func() ([]core.EntityLink, error) { return r.inner.TraceLinks(ctx, traceID) })
}

// SweepExpired wraps the physical cleanup pass with breaker + retry.
func (r *ResilientStore) SweepExpired(ctx context.Context, expiredBefore time.Time) (int, error) {
	return guard(r, func() (int, error) { return r.inner.SweepExpired(ctx, expiredBefore) })
}

// Close delegates directly, without breaker or retry.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
