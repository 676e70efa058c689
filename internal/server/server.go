// Package server wires the synchronization core to its HTTP surface: the
// /ws websocket endpoint clients draw through, plus /healthz and an
// operator-facing /api/state counter view.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/scrawl-dev/scrawl/internal/auth"
	"github.com/scrawl-dev/scrawl/internal/config"
	"github.com/scrawl-dev/scrawl/internal/hub"
	"github.com/scrawl-dev/scrawl/internal/logging"
	"github.com/scrawl-dev/scrawl/internal/oplog"
	"github.com/scrawl-dev/scrawl/internal/presence"
	"github.com/scrawl-dev/scrawl/internal/storage"
	"github.com/scrawl-dev/scrawl/internal/storage/sqlite"
)

// Server is the single authority process.
type Server struct {
	cfg    *config.Config
	logger logging.Logger

	hub   *hub.Hub
	log   *oplog.Log
	store storage.Store

	httpServer *http.Server
}

// New builds the full stack: store, replayed operation log, presence
// registry, hub, and HTTP routes. The store is SQLite when a path is
// configured, memory-only otherwise.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	slog := logger.WithComponent("server")

	var store storage.Store = storage.Nop{}
	if cfg.Storage.Path != "" {
		st, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open operation store: %w", err)
		}
		store = st
	}

	log := oplog.New(store, logger)
	persisted, err := store.LoadOperations(context.Background())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load persisted operations: %w", err)
	}
	log.Replay(persisted)
	if len(persisted) > 0 {
		slog.Info(context.Background(), "operation log replayed",
			"operations", len(persisted),
			"version", log.Version(),
		)
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	if !verifier.Enabled() {
		slog.Warn(context.Background(), nil,
			"no auth secret configured: trusting client-asserted participant ids")
	}

	h := hub.New(log, presence.NewRegistry(), verifier, newOriginValidator(cfg), cfg.Sync, logger)

	s := &Server{
		cfg:    cfg,
		logger: slog,
		hub:    h,
		log:    log,
		store:  store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleState)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the route table, primarily for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown or a listener error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, tears down every session, waits
// for in-flight durable writes, and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil && err != context.Canceled {
		s.logger.Warn(ctx, err, "http shutdown")
	}
	_ = s.hub.Shutdown(ctx)
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close operation store: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Stats()); err != nil {
		s.logger.Warn(context.Background(), err, "encode state response")
	}
}

// originValidator allows same-host origins plus whatever the operator
// lists in server.allowed_origins. A "*" entry allows everything.
type originValidator struct {
	allowed map[string]struct{}
	any     bool
}

func newOriginValidator(cfg *config.Config) *originValidator {
	v := &originValidator{allowed: make(map[string]struct{})}
	v.allowed[fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)] = struct{}{}
	v.allowed[fmt.Sprintf("localhost:%d", cfg.Server.Port)] = struct{}{}
	v.allowed[fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)] = struct{}{}
	for _, o := range cfg.Server.AllowedOrigins {
		if o == "*" {
			v.any = true
			continue
		}
		v.allowed[o] = struct{}{}
	}
	return v
}

func (v *originValidator) IsAllowedOrigin(origin string) bool {
	if v.any {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	_, ok := v.allowed[u.Host]
	return ok
}
