package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mistakeknot/tessellate/internal/core"
)

const messageColumns = `m.id, m.project_key, m.from_agent, m.subject, m.body, m.thread_id, m.importance, m.ack_required, m.created_at`

// Inbox lists messages addressed to agent, oldest first. With unreadOnly set,
// messages the agent has already read are filtered out.
func (s *Store) Inbox(ctx context.Context, projectKey, agent string, unreadOnly bool) ([]core.Message, error) {
	query := `SELECT ` + messageColumns + `
	          FROM message_recipients r
	          JOIN messages m ON m.id = r.message_id
	          WHERE m.project_key = ? AND r.agent_name = ?`
	if unreadOnly {
		query += ` AND r.read_at IS NULL`
	}
	query += ` ORDER BY m.created_at ASC, m.id ASC`

	rows, err := s.db.QueryContext(ctx, query, projectKey, agent)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkRead stamps the recipient row once; repeat calls are no-ops.
func (s *Store) MarkRead(ctx context.Context, messageID, agent string) error {
	return s.stampRecipient(ctx, "read_at", messageID, agent)
}

// MarkAck stamps the recipient row once; repeat calls are no-ops.
func (s *Store) MarkAck(ctx context.Context, messageID, agent string) error {
	return s.stampRecipient(ctx, "acked_at", messageID, agent)
}

func (s *Store) stampRecipient(ctx context.Context, column, messageID, agent string) error {
	query := fmt.Sprintf(
		`UPDATE message_recipients SET %s = COALESCE(%s, ?) WHERE message_id = ? AND agent_name = ?`,
		column, column)
	res, err := s.db.ExecContext(ctx, query, msec(s.now()), messageID, agent)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp %s: %w", column, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Recipients returns the read/ack state for every addressee of a message.
func (s *Store) Recipients(ctx context.Context, messageID string) ([]core.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, agent_name, read_at, acked_at
		 FROM message_recipients WHERE message_id = ? ORDER BY agent_name ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var out []core.Recipient
	for rows.Next() {
		var r core.Recipient
		var readAt, ackedAt sql.NullInt64
		if err := rows.Scan(&r.MessageID, &r.AgentName, &readAt, &ackedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.ReadAt = timePtr(readAt)
		r.AckedAt = timePtr(ackedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteMessage removes a message; recipient rows go with it via cascade.
// The originating events stay in the log.
func (s *Store) DeleteMessage(ctx context.Context, projectKey, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE project_key = ? AND id = ?`,
		projectKey, messageID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanMessage(row scanner) (core.Message, error) {
	var m core.Message
	var ackRequired int
	var createdAt int64
	err := row.Scan(&m.ID, &m.ProjectKey, &m.From, &m.Subject, &m.Body, &m.ThreadID, &m.Importance, &ackRequired, &createdAt)
	if err != nil {
		return core.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.AckRequired = ackRequired != 0
	m.CreatedAt = fromMsec(createdAt)
	return m, nil
}
