package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mistakeknot/tessellate/internal/core"
)

const agentColumns = `project_key, name, program, model, task_description, registered_at, last_active_at`

func (s *Store) GetAgent(ctx context.Context, projectKey, name string) (core.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE project_key = ? AND name = ?`,
		projectKey, name,
	)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Agent{}, core.ErrNotFound
	}
	return agent, err
}

func (s *Store) ListAgents(ctx context.Context, projectKey string) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE project_key = ? ORDER BY name ASC`,
		projectKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []core.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row scanner) (core.Agent, error) {
	var a core.Agent
	var registered, lastActive int64
	err := row.Scan(&a.ProjectKey, &a.Name, &a.Program, &a.Model, &a.TaskDescription, &registered, &lastActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Agent{}, err
		}
		return core.Agent{}, fmt.Errorf("scan agent: %w", err)
	}
	a.RegisteredAt = fromMsec(registered)
	a.LastActiveAt = fromMsec(lastActive)
	return a, nil
}

type scanner interface {
	Scan(dest ...any) error
}
