// Package embedded runs the coordination substrate inside a host process. An
// orchestrator that spawns its own agents can embed the server instead of
// shelling out to a separate daemon; the store is also exposed directly so the
// host can skip HTTP for its own reads.
package embedded

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/tessellate/internal/auth"
	httpapi "github.com/mistakeknot/tessellate/internal/http"
	"github.com/mistakeknot/tessellate/internal/storage"
	"github.com/mistakeknot/tessellate/internal/storage/sqlite"
	"github.com/mistakeknot/tessellate/internal/ws"
)

type Config struct {
	// DBPath is the SQLite database file. Empty means
	// ~/.tessellate/tessellate.db.
	DBPath string

	// Host to bind, default 127.0.0.1.
	Host string

	// Port to listen on. 0 picks an ephemeral port; Addr reports the
	// resolved address after Start.
	Port int

	// KeysFile enables bearer-key auth when set. Empty leaves the server
	// localhost-only with no keyring.
	KeysFile string

	// SweepInterval enables the background cleanup of expired reservations
	// and locks. Zero disables it; logical expiry still applies.
	SweepInterval time.Duration
}

type Server struct {
	cfg     Config
	store   *sqlite.ResilientStore
	hub     *ws.Hub
	sweeper *sqlite.Sweeper
	http    *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
}

func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".tessellate", "tessellate.db")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	inner, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store := sqlite.NewResilient(inner)

	var middleware func(http.Handler) http.Handler
	if cfg.KeysFile != "" {
		ring, err := auth.LoadKeyring(cfg.KeysFile)
		if err != nil {
			inner.Close()
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		middleware = auth.Middleware(ring)
	} else {
		middleware = auth.Middleware(nil)
	}

	hub := ws.NewHub()
	svc := httpapi.NewService(store).
		WithBroadcaster(hub).
		WithBreakerState(store.BreakerState)
	router := httpapi.NewRouter(svc, hub.Handler(), middleware)

	srv := &Server{
		cfg:   cfg,
		store: store,
		hub:   hub,
		http:  &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
	}
	if cfg.SweepInterval > 0 {
		srv.sweeper = sqlite.NewSweeper(inner, cfg.SweepInterval, time.Hour)
	}
	return srv, nil
}

// Start binds the listener and serves in the background. Calling Start twice
// is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.started = true
	if s.sweeper != nil {
		s.sweeper.Start(context.Background())
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "tessellate embedded server: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, stops the sweeper and closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the base URL for HTTP clients, valid after Start.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr
}

// Store exposes the substrate for in-process use, bypassing HTTP.
func (s *Server) Store() storage.Store {
	return s.store
}
