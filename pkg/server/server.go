// Package server exposes the key-exchange engine and the record vault
// over HTTP and WebSocket.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/medivault/medivault/pkg/broadcast"
	"github.com/medivault/medivault/pkg/config"
	"github.com/medivault/medivault/pkg/gate"
	"github.com/medivault/medivault/pkg/session"
	"github.com/medivault/medivault/pkg/telemetry"
	"github.com/medivault/medivault/pkg/vault"
)

// Server is the Medi-Vault backend server.
type Server struct {
	cfg     config.ServerConfig
	keyBits int

	engine *session.Engine
	hub    *broadcast.Hub
	feed   *telemetry.Feed
	store  *vault.Vault
	audit  *gate.AuditLog

	httpSrv *http.Server
}

// New creates the backend server around its collaborators.
func New(cfg *config.Config, engine *session.Engine, hub *broadcast.Hub, feed *telemetry.Feed, store *vault.Vault, audit *gate.AuditLog) *Server {
	return &Server{
		cfg:     cfg.Server,
		keyBits: cfg.Quantum.KeyBits,
		engine:  engine,
		hub:     hub,
		feed:    feed,
		store:   store,
		audit:   audit,
	}
}

// Handler builds the full HTTP handler including CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// Run starts the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8000"
	}

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("backend listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("backend shutting down")
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}
