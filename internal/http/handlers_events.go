package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

type appendEventRequest struct {
	Type      string          `json:"type"`
	Project   string          `json:"project"`
	Timestamp int64           `json:"timestamp,omitempty"` // ms since epoch; 0 = server clock
	Payload   json.RawMessage `json:"payload"`
}

type appendEventResponse struct {
	ID       uint64 `json:"id"`
	Sequence uint64 `json:"sequence"`
}

type apiEvent struct {
	ID        uint64          `json:"id"`
	Sequence  uint64          `json:"sequence"`
	Type      string          `json:"type"`
	Project   string          `json:"project"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func toAPIEvent(ev core.Event) (apiEvent, error) {
	data, err := core.EncodePayload(ev.Payload)
	if err != nil {
		return apiEvent{}, err
	}
	return apiEvent{
		ID:        ev.ID,
		Sequence:  ev.Sequence(),
		Type:      string(ev.Type),
		Project:   ev.ProjectKey,
		Timestamp: ev.Timestamp,
		Payload:   data,
	}, nil
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEvents(w, r)
	case http.MethodPost:
		s.appendEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) appendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	eventType := core.EventType(req.Type)
	if !core.KnownEventType(eventType) {
		writeError(w, http.StatusBadRequest, "unknown_event_type")
		return
	}
	payload, err := core.DecodePayload(eventType, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}

	id, err := s.store.AppendEvent(r.Context(), core.Event{
		Type:       eventType,
		ProjectKey: project,
		Timestamp:  req.Timestamp,
		Payload:    payload,
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

	s.broadcast(project, "", map[string]any{
		"kind":    "event",
		"type":    req.Type,
		"project": project,
		"id":      id,
	})
	writeJSON(w, http.StatusCreated, appendEventResponse{ID: id, Sequence: id})
}

func (s *Service) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	project, status := resolveProject(r, q.Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	query := storage.EventQuery{
		ProjectKey: project,
		Type:       core.EventType(q.Get("type")),
	}
	var err error
	if query.From, err = parseMillis(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_from")
		return
	}
	if query.Until, err = parseMillis(q.Get("until")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_until")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		query.Limit = limit
	}

	events, err := s.store.QueryEvents(r.Context(), query)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	out := make([]apiEvent, 0, len(events))
	for _, ev := range events {
		api, err := toAPIEvent(ev)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		out = append(out, api)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func parseMillis(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
