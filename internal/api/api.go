// Package api provides HTTP handlers and the server for the MessCheck agent.
//
// It exposes endpoints for check-in (online submit or offline enqueue),
// attendance token generation, queue inspection, manual drain, and the
// offline reference-data cache. The API integrates the connectivity,
// token, store, replay, and remote modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/messcheck/messcheck/internal/connectivity"
	"github.com/messcheck/messcheck/internal/replay"
	"github.com/messcheck/messcheck/internal/store"
	"github.com/messcheck/messcheck/internal/token"
)

// Default API server configuration
const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown on teardown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the offline check-in pipeline behind HTTP endpoints.
type Server struct {
	addr        string
	monitor     *connectivity.Monitor
	st          store.Store
	generator   *token.Generator
	coordinator *replay.Coordinator
	submitter   replay.Submitter
}

// NewServer creates an API server over the assembled pipeline components.
func NewServer(monitor *connectivity.Monitor, st store.Store, generator *token.Generator, coordinator *replay.Coordinator, submitter replay.Submitter, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:        cfg.Addr,
		monitor:     monitor,
		st:          st,
		generator:   generator,
		coordinator: coordinator,
		submitter:   submitter,
	}
}

// Handler returns the route table. Split out from Run so tests can drive the
// handlers through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/token", s.tokenHandler)
	mux.HandleFunc("/checkin", s.checkinHandler)
	mux.HandleFunc("/actions/pending", s.pendingActionsHandler)
	mux.HandleFunc("/actions/failed", s.failedActionsHandler)
	mux.HandleFunc("/actions/retry", s.retryActionHandler)
	mux.HandleFunc("/actions", s.discardActionHandler)
	mux.HandleFunc("/drain", s.drainHandler)
	mux.HandleFunc("/records", s.recordsHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: MessCheck API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Run: API server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		return nil
	}
}
