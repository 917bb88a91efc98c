package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mistakeknot/tessellate/internal/auth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// resolveProject picks the effective project for a request: the caller's
// explicit choice, falling back to the key's project. API-key callers may not
// name a different project. The second return is an HTTP status, 0 when ok.
func resolveProject(r *http.Request, requested string) (string, int) {
	requested = strings.TrimSpace(requested)
	info, _ := auth.FromContext(r.Context())
	if info.Mode == auth.ModeAPIKey {
		if requested != "" && requested != info.Project {
			return "", http.StatusForbidden
		}
		return info.Project, 0
	}
	if requested == "" {
		return "", http.StatusBadRequest
	}
	return requested, 0
}
