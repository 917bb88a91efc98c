// Package httpapi exposes the coordination substrate over HTTP. Handlers are
// thin: they decode, scope the caller to a project, call the store, and map
// domain results onto status codes. Conflicts and not-granted outcomes are
// 409s with a body, not opaque errors.
package httpapi

import "github.com/mistakeknot/tessellate/internal/storage"

type Service struct {
	store        storage.Store
	bus          Broadcaster
	breakerState func() string
}

// Broadcaster pushes an event to connected agents. Empty project or agent is
// a wildcard.
type Broadcaster interface {
	Broadcast(project, agent string, event any)
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

// WithBreakerState wires the health endpoint to the store's circuit breaker.
func (s *Service) WithBreakerState(fn func() string) *Service {
	s.breakerState = fn
	return s
}

func (s *Service) broadcast(project, agent string, event any) {
	if s.bus != nil {
		s.bus.Broadcast(project, agent, event)
	}
}
