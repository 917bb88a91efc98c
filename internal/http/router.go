package httpapi

import (
	"net/http"
)

// NewRouter wires every API route through the auth middleware. wsHandler may
// be nil when the push gateway is disabled.
func NewRouter(svc *Service, wsHandler http.HandlerFunc, middleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", svc.handleHealth)

	mux.HandleFunc("/api/events", svc.handleEvents)

	mux.HandleFunc("/api/agents", svc.handleAgents)
	mux.HandleFunc("/api/agents/", svc.handleAgentSubpath)

	mux.HandleFunc("/api/messages", svc.handleMessages)
	mux.HandleFunc("/api/messages/inbox", svc.handleInbox)
	mux.HandleFunc("/api/messages/", svc.handleMessageSubpath)

	mux.HandleFunc("/api/reservations", svc.handleReservations)
	mux.HandleFunc("/api/reservations/conflicts", svc.checkConflicts)
	mux.HandleFunc("/api/reservations/", svc.handleReservationByID)

	mux.HandleFunc("/api/locks/acquire", svc.handleLockAcquire)
	mux.HandleFunc("/api/locks/release", svc.handleLockRelease)
	mux.HandleFunc("/api/locks/", svc.handleLockByResource)

	mux.HandleFunc("/api/cursors", svc.handleCursors)

	mux.HandleFunc("/api/traces", svc.handleTraces)
	mux.HandleFunc("/api/traces/", svc.handleTraceSubpath)

	if wsHandler != nil {
		mux.HandleFunc("/ws/agents/", wsHandler)
	}

	if middleware != nil {
		return middleware(mux)
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]string{"status": "ok"}
	if s.breakerState != nil {
		resp["breaker"] = s.breakerState()
	}
	writeJSON(w, http.StatusOK, resp)
}
