package core

import "time"

// Event is an immutable fact in the append-only log. ID is assigned by the
// store and doubles as the sequence number; ordering within a project is
// (Timestamp, Sequence).
type Event struct {
	ID         uint64
	Type       EventType
	ProjectKey string
	Timestamp  int64 // milliseconds since epoch
	Payload    Payload
}

// Sequence equals the store-assigned ID.
func (e Event) Sequence() uint64 { return e.ID }

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// Agent is a projection row derived from registration and heartbeat events.
// Name is unique within a project; LastActiveAt only moves forward.
type Agent struct {
	ProjectKey      string
	Name            string
	Program         string
	Model           string
	TaskDescription string
	RegisteredAt    time.Time
	LastActiveAt    time.Time
}

// Message is a projection row derived from message.sent events. The ID is
// derived from event content so replaying the same event never duplicates it.
type Message struct {
	ID          string
	ProjectKey  string
	From        string
	Subject     string
	Body        string
	ThreadID    string
	Importance  string
	AckRequired bool
	CreatedAt   time.Time
}

// Recipient tracks per-addressee delivery state for a message. Rows are
// removed with their message (cascade).
type Recipient struct {
	MessageID string
	AgentName string
	ReadAt    *time.Time
	AckedAt   *time.Time
}

// Reservation is a time-bounded claim on a path pattern. It is active while
// unreleased and unexpired; expiry is logical, checked at query time.
type Reservation struct {
	ID           string
	ProjectKey   string
	AgentName    string
	PathPattern  string
	Exclusive    bool
	Reason       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ReleasedAt   *time.Time
	LockHolderID string

	// TTL is only meaningful on a reserve request; the store turns it into
	// ExpiresAt at grant time.
	TTL time.Duration
}

// Active reports whether the reservation is live at the given instant.
func (r Reservation) Active(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

// Lock is a named-resource mutex. At most one live row exists per resource;
// Seq increments on every fresh acquisition for optimistic conflict detection.
type Lock struct {
	Resource   string
	Holder     string
	Seq        uint64
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// DecisionTrace captures why an agent made a decision. Append-only.
type DecisionTrace struct {
	ID         string
	ProjectKey string
	AgentName  string
	Decision   string
	Rationale  string
	SessionID  string
	CreatedAt  time.Time
}

// EntityLink ties a decision trace to an epic, pattern, file, agent or memory
// for downstream analysis. Append-only.
type EntityLink struct {
	ID         string
	TraceID    string
	EntityKind string
	EntityID   string
	Relation   string
	CreatedAt  time.Time
}

// ConflictDetail describes one active reservation that blocked a request.
type ConflictDetail struct {
	ReservationID string `json:"reservation_id"`
	AgentName     string `json:"agent_name"`
	PathPattern   string `json:"path_pattern"`
	Exclusive     bool   `json:"exclusive"`
	ExpiresAt     string `json:"expires_at"`
}

// ReserveResult is the outcome of a reservation request. A conflict is a
// normal result, not an error; callers back off and retry.
type ReserveResult struct {
	Granted     bool
	Reservation *Reservation
	Conflicts   []ConflictDetail
}

// LockResult is the outcome of a lock acquisition attempt. When not granted,
// Holder and ExpiresAt describe the current owner.
type LockResult struct {
	Granted   bool
	Holder    string
	Seq       uint64
	ExpiresAt time.Time
}
