package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mistakeknot/tessellate/internal/core"
)

type advanceCursorRequest struct {
	Stream     string `json:"stream"`
	Checkpoint string `json:"checkpoint"`
	Position   uint64 `json:"position"`
}

func (s *Service) handleCursors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.readCursor(w, r)
	case http.MethodPost:
		s.advanceCursor(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) advanceCursor(w http.ResponseWriter, r *http.Request) {
	var req advanceCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	err := s.store.AdvanceCursor(r.Context(), req.Stream, req.Checkpoint, req.Position)
	if err != nil {
		var regress *core.CursorRegressionError
		if errors.As(err, &regress) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     "cursor_regression",
				"stored":    regress.Stored,
				"requested": regress.Requested,
			})
			return
		}
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"position": req.Position})
}

func (s *Service) readCursor(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	checkpoint := r.URL.Query().Get("checkpoint")
	if stream == "" || checkpoint == "" {
		writeError(w, http.StatusBadRequest, "stream_and_checkpoint_required")
		return
	}
	position, err := s.store.ReadCursor(r.Context(), stream, checkpoint)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"position": position})
}
