package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/tessellate/internal/auth"
	"github.com/mistakeknot/tessellate/internal/core"
)

type reservationRequest struct {
	Agent       string `json:"agent"`
	Project     string `json:"project"`
	PathPattern string `json:"path_pattern"`
	Exclusive   bool   `json:"exclusive"`
	Reason      string `json:"reason"`
	TTLMinutes  int    `json:"ttl_minutes"`
}

type apiReservation struct {
	ID          string  `json:"id"`
	Agent       string  `json:"agent"`
	Project     string  `json:"project"`
	PathPattern string  `json:"path_pattern"`
	Exclusive   bool    `json:"exclusive"`
	Reason      string  `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   string  `json:"expires_at"`
	ReleasedAt  *string `json:"released_at,omitempty"`
	Active      bool    `json:"active"`
}

func toAPIReservation(r core.Reservation) apiReservation {
	api := apiReservation{
		ID:          r.ID,
		Agent:       r.AgentName,
		Project:     r.ProjectKey,
		PathPattern: r.PathPattern,
		Exclusive:   r.Exclusive,
		Reason:      r.Reason,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt:   r.ExpiresAt.Format(time.RFC3339Nano),
		Active:      r.Active(time.Now().UTC()),
	}
	if r.ReleasedAt != nil {
		s := r.ReleasedAt.Format(time.RFC3339Nano)
		api.ReleasedAt = &s
	}
	return api
}

func (s *Service) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReservations(w, r)
	case http.MethodPost:
		s.createReservation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/reservations/")
	id := strings.Trim(path, "/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.releaseReservation(w, r, id)
}

func (s *Service) createReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if req.Agent == "" || req.PathPattern == "" {
		writeError(w, http.StatusBadRequest, "agent_and_pattern_required")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	var ttl time.Duration
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	result, err := s.store.Reserve(r.Context(), core.Reservation{
		ProjectKey:  project,
		AgentName:   req.Agent,
		PathPattern: req.PathPattern,
		Exclusive:   req.Exclusive,
		Reason:      req.Reason,
		TTL:         ttl,
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
	if !result.Granted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "reservation_conflict",
			"conflicts": result.Conflicts,
		})
		return
	}

	s.broadcast(project, "", map[string]any{
		"kind":           "reservation",
		"reservation_id": result.Reservation.ID,
		"agent":          req.Agent,
		"path_pattern":   req.PathPattern,
	})
	writeJSON(w, http.StatusCreated, toAPIReservation(*result.Reservation))
}

func (s *Service) listReservations(w http.ResponseWriter, r *http.Request) {
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	agent := r.URL.Query().Get("agent")

	var (
		reservations []core.Reservation
		err          error
	)
	if agent != "" {
		reservations, err = s.store.AgentReservations(r.Context(), project, agent)
	} else {
		reservations, err = s.store.ActiveReservations(r.Context(), project)
	}
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	out := make([]apiReservation, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toAPIReservation(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": out})
}

// checkConflicts previews what an exclusive or shared claim would collide
// with, without writing anything.
func (s *Service) checkConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern_required")
		return
	}
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	exclusive := r.URL.Query().Get("exclusive") != "false" // default true

	conflicts, err := s.store.CheckConflicts(r.Context(), project, pattern, exclusive)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Service) releaseReservation(w http.ResponseWriter, r *http.Request, id string) {
	reservation, err := s.store.GetReservation(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	info, _ := auth.FromContext(r.Context())
	if info.Mode == auth.ModeAPIKey && reservation.ProjectKey != info.Project {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := s.store.ReleaseReservation(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}
