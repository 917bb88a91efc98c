package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

type registerAgentRequest struct {
	Name            string `json:"name"`
	Project         string `json:"project"`
	Program         string `json:"program"`
	Model           string `json:"model"`
	TaskDescription string `json:"task_description"`
}

type apiAgent struct {
	Name            string `json:"name"`
	Project         string `json:"project"`
	Program         string `json:"program,omitempty"`
	Model           string `json:"model,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	RegisteredAt    string `json:"registered_at"`
	LastActiveAt    string `json:"last_active_at"`
}

func toAPIAgent(a core.Agent) apiAgent {
	return apiAgent{
		Name:            a.Name,
		Project:         a.ProjectKey,
		Program:         a.Program,
		Model:           a.Model,
		TaskDescription: a.TaskDescription,
		RegisteredAt:    a.RegisteredAt.Format(time.RFC3339Nano),
		LastActiveAt:    a.LastActiveAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAgents(w, r)
	case http.MethodPost:
		s.registerAgent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// registerAgent appends an agent.registered event; the agent row is the
// projection folded in by the same transaction. Re-registering the same name
// refreshes the row instead of failing.
func (s *Service) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	_, err := s.store.AppendEvent(r.Context(), core.Event{
		ProjectKey: project,
		Payload: core.AgentRegisteredPayload{
			Name:            req.Name,
			Program:         req.Program,
			Model:           req.Model,
			TaskDescription: req.TaskDescription,
		},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	agent, err := s.store.GetAgent(r.Context(), project, req.Name)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.broadcast(project, "", map[string]any{"kind": "agent_registered", "agent": req.Name})
	writeJSON(w, http.StatusCreated, toAPIAgent(agent))
}

func (s *Service) listAgents(w http.ResponseWriter, r *http.Request) {
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	agents, err := s.store.ListAgents(r.Context(), project)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]apiAgent, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAPIAgent(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": out})
}

// handleAgentSubpath serves /api/agents/{name} and /api/agents/{name}/heartbeat.
func (s *Service) handleAgentSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agents/"), "/")
	if name, ok := strings.CutSuffix(path, "/heartbeat"); ok {
		s.agentHeartbeat(w, r, strings.Trim(name, "/"))
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	agent, err := s.store.GetAgent(r.Context(), project, path)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, toAPIAgent(agent))
}

func (s *Service) agentHeartbeat(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if _, err := s.store.GetAgent(r.Context(), project, name); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	_, err := s.store.AppendEvent(r.Context(), core.Event{
		ProjectKey: project,
		Payload:    core.AgentHeartbeatPayload{Name: name},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": name})
}
