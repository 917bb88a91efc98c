package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mistakeknot/tessellate/internal/core"
)

// RecordDecision stores a decision trace and mirrors it into the event log
// so learning consumers see it in stream order.
func (s *Store) RecordDecision(ctx context.Context, trace core.DecisionTrace) (core.DecisionTrace, error) {
	if trace.ProjectKey == "" || trace.AgentName == "" || trace.Decision == "" {
		return core.DecisionTrace{}, &core.ValidationError{Field: "trace", Reason: "project_key, agent_name and decision required"}
	}
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.CreatedAt.IsZero() {
		trace.CreatedAt = s.now().UTC()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decision_traces (id, project_key, agent_name, decision, rationale, session_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			trace.ID, trace.ProjectKey, trace.AgentName, trace.Decision,
			trace.Rationale, trace.SessionID, msec(trace.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert trace: %w", err)
		}
		_, err := s.appendEventTx(ctx, tx, core.Event{
			ProjectKey: trace.ProjectKey,
			Timestamp:  msec(trace.CreatedAt),
			Payload: core.DecisionRecordedPayload{
				Agent:     trace.AgentName,
				Decision:  trace.Decision,
				Rationale: trace.Rationale,
				SessionID: trace.SessionID,
			},
		})
		return err
	})
	if err != nil {
		return core.DecisionTrace{}, err
	}
	return trace, nil
}

func (s *Store) ListDecisions(ctx context.Context, projectKey, agent string, limit int) ([]core.DecisionTrace, error) {
	query := `SELECT id, project_key, agent_name, decision, rationale, session_id, created_at
	          FROM decision_traces WHERE project_key = ?`
	args := []any{projectKey}
	if agent != "" {
		query += ` AND agent_name = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []core.DecisionTrace
	for rows.Next() {
		var t core.DecisionTrace
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.ProjectKey, &t.AgentName, &t.Decision, &t.Rationale, &t.SessionID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t.CreatedAt = fromMsec(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// LinkEntity ties a trace to an epic, pattern, file, agent or memory.
func (s *Store) LinkEntity(ctx context.Context, link core.EntityLink) (core.EntityLink, error) {
	if link.TraceID == "" || link.EntityKind == "" || link.EntityID == "" {
		return core.EntityLink{}, &core.ValidationError{Field: "link", Reason: "trace_id, entity_kind and entity_id required"}
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_links (id, trace_id, entity_kind, entity_id, relation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		link.ID, link.TraceID, link.EntityKind, link.EntityID, link.Relation, msec(link.CreatedAt),
	)
	if err != nil {
		return core.EntityLink{}, fmt.Errorf("insert link: %w", err)
	}
	return link, nil
}

func (s *Store) TraceLinks(ctx context.Context, traceID string) ([]core.EntityLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, entity_kind, entity_id, relation, created_at
		 FROM entity_links WHERE trace_id = ? ORDER BY created_at ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []core.EntityLink
	for rows.Next() {
		var l core.EntityLink
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.TraceID, &l.EntityKind, &l.EntityID, &l.Relation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.CreatedAt = fromMsec(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
