package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/custodialabs/evidence-custody-backend/internal/infrastructure/config"
)

// ReadyCheck reports whether a backing dependency can serve traffic
type ReadyCheck func(ctx context.Context) error

// Server hosts the REST API
type Server struct {
	http   *http.Server
	cfg    config.ServerConfig
	logger *slog.Logger
}

// NewServer assembles the middleware chain and routes
func NewServer(cfg config.ServerConfig, handlers *Handlers, auth *AuthMiddleware, logger *slog.Logger, ready ReadyCheck) *Server {
	mux := http.NewServeMux()
	handlers.Register(mux, auth)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeJSON(w, r, http.StatusServiceUnavailable,
					map[string]string{"status": "not ready", "reason": err.Error()})
				return
			}
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	handler := withRecovery(logger,
		withRequestID(
			withLogging(logger, mux)))

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Start serves until the listener closes
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
