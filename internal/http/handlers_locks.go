package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

type lockRequest struct {
	Resource   string `json:"resource"`
	Holder     string `json:"holder"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type apiLock struct {
	Resource   string `json:"resource"`
	Holder     string `json:"holder"`
	Seq        uint64 `json:"seq"`
	AcquiredAt string `json:"acquired_at,omitempty"`
	ExpiresAt  string `json:"expires_at"`
}

const defaultLockTTL = 60 * time.Second

// handleLockAcquire serves POST /api/locks/acquire. A lock held by someone
// else is a 409 describing the current holder, not an error.
func (s *Service) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if req.Resource == "" || req.Holder == "" {
		writeError(w, http.StatusBadRequest, "resource_and_holder_required")
		return
	}
	ttl := defaultLockTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	result, err := s.store.AcquireLock(r.Context(), req.Resource, req.Holder, ttl)
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
			"granted":    false,
			"holder":     result.Holder,
			"seq":        result.Seq,
			"expires_at": result.ExpiresAt.Format(time.RFC3339Nano),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granted":    true,
		"seq":        result.Seq,
		"expires_at": result.ExpiresAt.Format(time.RFC3339Nano),
	})
}

func (s *Service) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if req.Resource == "" || req.Holder == "" {
		writeError(w, http.StatusBadRequest, "resource_and_holder_required")
		return
	}
	if err := s.store.ReleaseLock(r.Context(), req.Resource, req.Holder); err != nil {
		if errors.Is(err, core.ErrNotHolder) {
			writeError(w, http.StatusForbidden, "not_holder")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleLockByResource serves GET /api/locks/{resource}. The resource may
// contain slashes, so everything after the prefix is the name.
func (s *Service) handleLockByResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resource := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/locks/"), "/")
	if resource == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	lock, err := s.store.GetLock(r.Context(), resource)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, apiLock{
		Resource:   lock.Resource,
		Holder:     lock.Holder,
		Seq:        lock.Seq,
		AcquiredAt: lock.AcquiredAt.Format(time.RFC3339Nano),
		ExpiresAt:  lock.ExpiresAt.Format(time.RFC3339Nano),
	})
}
