// Package server exposes the turn pipeline over HTTP: one route to execute a
// turn, plus health and metrics endpoints. Transport concerns only; all
// semantics live in pkg/turn.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atriumhq/atrium/pkg/ratelimit"
	"github.com/atriumhq/atrium/pkg/turn"
)

// TurnExecutor is the slice of the coordinator the server needs. It is an
// interface so the executor can be swapped on config reload.
type TurnExecutor interface {
	Execute(ctx context.Context, req turn.Request) (*turn.Result, error)
}

type Config struct {
	Host string
	Port int
}

func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

type Server struct {
	config   Config
	executor TurnExecutor
	gate     *ratelimit.Gate
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New builds a server. gate may be nil to disable rate limiting.
func New(cfg Config, executor TurnExecutor, gate *ratelimit.Gate, logger *slog.Logger) *Server {
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: cfg, executor: executor, gate: gate, logger: logger}
}

// Routes assembles the router. Exposed separately so tests can drive the
// handler without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/sessions/{sessionID}/turns", s.handleCreateTurn)
	return r
}

// Start runs the HTTP server until ctx is cancelled, then drains it.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}
