package core

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventAgentRegistered     EventType = "agent.registered"
	EventAgentHeartbeat      EventType = "agent.heartbeat"
	EventMessageSent         EventType = "message.sent"
	EventMessageRead         EventType = "message.read"
	EventMessageAck          EventType = "message.ack"
	EventReservationMade     EventType = "reservation.made"
	EventReservationReleased EventType = "reservation.released"
	EventLockAcquired        EventType = "lock.acquired"
	EventLockReleased        EventType = "lock.released"
	EventDecisionRecorded    EventType = "decision.recorded"
	EventOutcomeRecorded     EventType = "outcome.recorded"
	EventSessionNote         EventType = "session.note"
)

// Payload is one variant of typed event data. The wire form is a JSON object
// whose shape is determined by the event type discriminator.
type Payload interface {
	EventType() EventType
}

type AgentRegisteredPayload struct {
	Name            string `json:"name"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
}

func (AgentRegisteredPayload) EventType() EventType { return EventAgentRegistered }

type AgentHeartbeatPayload struct {
	Name string `json:"name"`
}

func (AgentHeartbeatPayload) EventType() EventType { return EventAgentHeartbeat }

type MessageSentPayload struct {
	From        string   `json:"from"`
	To          []string `json:"to"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	ThreadID    string   `json:"thread_id,omitempty"`
	Importance  string   `json:"importance,omitempty"`
	AckRequired bool     `json:"ack_required,omitempty"`
}

func (MessageSentPayload) EventType() EventType { return EventMessageSent }

type MessageReadPayload struct {
	MessageID string `json:"message_id"`
	Agent     string `json:"agent"`
}

func (MessageReadPayload) EventType() EventType { return EventMessageRead }

type MessageAckPayload struct {
	MessageID string `json:"message_id"`
	Agent     string `json:"agent"`
}

func (MessageAckPayload) EventType() EventType { return EventMessageAck }

type ReservationMadePayload struct {
	ReservationID string `json:"reservation_id"`
	Agent         string `json:"agent"`
	PathPattern   string `json:"path_pattern"`
	Exclusive     bool   `json:"exclusive"`
	Reason        string `json:"reason,omitempty"`
}

func (ReservationMadePayload) EventType() EventType { return EventReservationMade }

type ReservationReleasedPayload struct {
	ReservationID string `json:"reservation_id"`
	Agent         string `json:"agent"`
}

func (ReservationReleasedPayload) EventType() EventType { return EventReservationReleased }

type LockAcquiredPayload struct {
	Resource string `json:"resource"`
	Holder   string `json:"holder"`
	Seq      uint64 `json:"seq"`
}

func (LockAcquiredPayload) EventType() EventType { return EventLockAcquired }

type LockReleasedPayload struct {
	Resource string `json:"resource"`
	Holder   string `json:"holder"`
}

func (LockReleasedPayload) EventType() EventType { return EventLockReleased }

type DecisionRecordedPayload struct {
	Agent     string `json:"agent"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (DecisionRecordedPayload) EventType() EventType { return EventDecisionRecorded }

type OutcomeRecordedPayload struct {
	Agent     string `json:"agent"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (OutcomeRecordedPayload) EventType() EventType { return EventOutcomeRecorded }

type SessionNotePayload struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent,omitempty"`
	Text      string `json:"text"`
}

func (SessionNotePayload) EventType() EventType { return EventSessionNote }

// UnknownPayload preserves events whose type this build doesn't recognize.
// The projector skips them; they stay in the log untouched.
type UnknownPayload struct {
	Type EventType
	Raw  json.RawMessage
}

func (u UnknownPayload) EventType() EventType { return u.Type }

func (u UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("{}"), nil
	}
	return u.Raw, nil
}

// KnownEventType reports whether t is in the closed set this build decodes.
func KnownEventType(t EventType) bool {
	switch t {
	case EventAgentRegistered, EventAgentHeartbeat,
		EventMessageSent, EventMessageRead, EventMessageAck,
		EventReservationMade, EventReservationReleased,
		EventLockAcquired, EventLockReleased,
		EventDecisionRecorded, EventOutcomeRecorded, EventSessionNote:
		return true
	}
	return false
}

// DecodePayload unmarshals stored event data against the type discriminator.
// Unknown discriminators decode to UnknownPayload rather than failing, so the
// log stays readable after event types are retired.
func DecodePayload(t EventType, data []byte) (Payload, error) {
	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}
	switch t {
	case EventAgentRegistered:
		p, err := decode(&AgentRegisteredPayload{})
		return deref(p), err
	case EventAgentHeartbeat:
		p, err := decode(&AgentHeartbeatPayload{})
		return deref(p), err
	case EventMessageSent:
		p, err := decode(&MessageSentPayload{})
		return deref(p), err
	case EventMessageRead:
		p, err := decode(&MessageReadPayload{})
		return deref(p), err
	case EventMessageAck:
		p, err := decode(&MessageAckPayload{})
		return deref(p), err
	case EventReservationMade:
		p, err := decode(&ReservationMadePayload{})
		return deref(p), err
	case EventReservationReleased:
		p, err := decode(&ReservationReleasedPayload{})
		return deref(p), err
	case EventLockAcquired:
		p, err := decode(&LockAcquiredPayload{})
		return deref(p), err
	case EventLockReleased:
		p, err := decode(&LockReleasedPayload{})
		return deref(p), err
	case EventDecisionRecorded:
		p, err := decode(&DecisionRecordedPayload{})
		return deref(p), err
	case EventOutcomeRecorded:
		p, err := decode(&OutcomeRecordedPayload{})
		return deref(p), err
	case EventSessionNote:
		p, err := decode(&SessionNotePayload{})
		return deref(p), err
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownPayload{Type: t, Raw: raw}, nil
	}
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.EventType(), err)
	}
	return data, nil
}

// deref unwraps the pointer DecodePayload's helpers produce so callers can
// type-switch on value variants.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *AgentRegisteredPayload:
		return *v
	case *AgentHeartbeatPayload:
		return *v
	case *MessageSentPayload:
		return *v
	case *MessageReadPayload:
		return *v
	case *MessageAckPayload:
		return *v
	case *ReservationMadePayload:
		return *v
	case *ReservationReleasedPayload:
		return *v
	case *LockAcquiredPayload:
		return *v
	case *LockReleasedPayload:
		return *v
	case *DecisionRecordedPayload:
		return *v
	case *OutcomeRecordedPayload:
		return *v
	case *SessionNotePayload:
		return *v
	default:
		return p
	}
}
