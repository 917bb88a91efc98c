package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mistakeknot/tessellate/internal/core"
)

// applyEvent folds one event into the derived tables. Every rule is
// idempotent: upserts key on natural identifiers from event content, so
// replaying a batch (bulk import, crash recovery) never duplicates rows.
// Event types with no rule (audit records, retired types) are skipped and
// stay in the log.
func (s *Store) applyEvent(ctx context.Context, tx *sql.Tx, ev core.Event) error {
	switch p := ev.Payload.(type) {
	case core.AgentRegisteredPayload:
		return s.applyAgentRegistered(ctx, tx, ev, p)
	case core.AgentHeartbeatPayload:
		return s.applyAgentHeartbeat(ctx, tx, ev, p)
	case core.MessageSentPayload:
		return s.applyMessageSent(ctx, tx, ev, p)
	case core.MessageReadPayload:
		return s.applyRecipientStamp(ctx, tx, "read_at", p.MessageID, p.Agent, ev.Timestamp)
	case core.MessageAckPayload:
		return s.applyRecipientStamp(ctx, tx, "acked_at", p.MessageID, p.Agent, ev.Timestamp)
	default:
		return nil
	}
}

func (s *Store) applyAgentRegistered(ctx context.Context, tx *sql.Tx, ev core.Event, p core.AgentRegisteredPayload) error {
	if p.Name == "" {
		return &core.ValidationError{Field: "name", Reason: "required for agent registration"}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO agents (project_key, name, program, model, task_description, registered_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_key, name) DO UPDATE SET
		     program          = excluded.program,
		     model            = excluded.model,
		     task_description = excluded.task_description,
		     last_active_at   = MAX(agents.last_active_at, excluded.last_active_at)`,
		ev.ProjectKey, p.Name, p.Program, p.Model, p.TaskDescription, ev.Timestamp, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func (s *Store) applyAgentHeartbeat(ctx context.Context, tx *sql.Tx, ev core.Event, p core.AgentHeartbeatPayload) error {
	// last_active_at only moves forward, even when events replay out of order.
	_, err := tx.ExecContext(ctx,
		`UPDATE agents SET last_active_at = MAX(last_active_at, ?)
		 WHERE project_key = ? AND name = ?`,
		ev.Timestamp, ev.ProjectKey, p.Name,
	)
	if err != nil {
		return fmt.Errorf("heartbeat agent: %w", err)
	}
	return nil
}

func (s *Store) applyMessageSent(ctx context.Context, tx *sql.Tx, ev core.Event, p core.MessageSentPayload) error {
	if p.From == "" || len(p.To) == 0 {
		return &core.ValidationError{Field: "message", Reason: "from and to required"}
	}
	id := core.DeriveMessageID(ev.ProjectKey, ev.Timestamp, p)
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages
		     (id, project_key, from_agent, subject, body, thread_id, importance, ack_required, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.ProjectKey, p.From, p.Subject, p.Body, p.ThreadID, p.Importance, boolInt(p.AckRequired), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	for _, agent := range p.To {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_recipients (message_id, agent_name) VALUES (?, ?)`,
			id, agent,
		); err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}
	return nil
}

// applyRecipientStamp sets read_at or acked_at once; replays keep the first
// timestamp.
func (s *Store) applyRecipientStamp(ctx context.Context, tx *sql.Tx, column, messageID, agent string, ts int64) error {
	query := fmt.Sprintf(
		`UPDATE message_recipients SET %s = COALESCE(%s, ?) WHERE message_id = ? AND agent_name = ?`,
		column, column)
	if _, err := tx.ExecContext(ctx, query, ts, messageID, agent); err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
