package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

type recordTraceRequest struct {
	Project   string `json:"project"`
	Agent     string `json:"agent"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale"`
	SessionID string `json:"session_id"`
}

type apiTrace struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	Agent     string `json:"agent"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toAPITrace(t core.DecisionTrace) apiTrace {
	return apiTrace{
		ID:        t.ID,
		Project:   t.ProjectKey,
		Agent:     t.AgentName,
		Decision:  t.Decision,
		Rationale: t.Rationale,
		SessionID: t.SessionID,
		CreatedAt: t.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) handleTraces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTraces(w, r)
	case http.MethodPost:
		s.recordTrace(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) recordTrace(w http.ResponseWriter, r *http.Request) {
	var req recordTraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	trace, err := s.store.RecordDecision(r.Context(), core.DecisionTrace{
		ProjectKey: project,
		AgentName:  req.Agent,
		Decision:   req.Decision,
		Rationale:  req.Rationale,
		SessionID:  req.SessionID,
	})
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toAPITrace(trace))
}

func (s *Service) listTraces(w http.ResponseWriter, r *http.Request) {
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	agent := r.URL.Query().Get("agent")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = n
	}

	traces, err := s.store.ListDecisions(r.Context(), project, agent, limit)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]apiTrace, 0, len(traces))
	for _, t := range traces {
		out = append(out, toAPITrace(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": out})
}

// handleTraceSubpath serves /api/traces/{id}/links.
func (s *Service) handleTraceSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/traces/"), "/")
	id, ok := strings.CutSuffix(path, "/links")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id = strings.Trim(id, "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.listTraceLinks(w, r, id)
	case http.MethodPost:
		s.linkTraceEntity(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) linkTraceEntity(w http.ResponseWriter, r *http.Request, traceID string) {
	var req struct {
		EntityKind string `json:"entity_kind"`
		EntityID   string `json:"entity_id"`
		Relation   string `json:"relation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	link, err := s.store.LinkEntity(r.Context(), core.EntityLink{
		TraceID:    traceID,
		EntityKind: req.EntityKind,
		EntityID:   req.EntityID,
		Relation:   req.Relation,
	})
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          link.ID,
		"trace_id":    link.TraceID,
		"entity_kind": link.EntityKind,
		"entity_id":   link.EntityID,
		"relation":    link.Relation,
		"created_at":  link.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Service) listTraceLinks(w http.ResponseWriter, r *http.Request, traceID string) {
	links, err := s.store.TraceLinks(r.Context(), traceID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	type apiLink struct {
		ID         string `json:"id"`
		EntityKind string `json:"entity_kind"`
		EntityID   string `json:"entity_id"`
		Relation   string `json:"relation,omitempty"`
		CreatedAt  string `json:"created_at"`
	}
	out := make([]apiLink, 0, len(links))
	for _, l := range links {
		out = append(out, apiLink{
			ID:         l.ID,
			EntityKind: l.EntityKind,
			EntityID:   l.EntityID,
			Relation:   l.Relation,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": out})
}
