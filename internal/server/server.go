// Package server exposes a read-only JSON view of the pipeline: job
// records, attempt history and worker pool capacity.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// PoolReader reports scheduler capacity.
type PoolReader interface {
	Info() model.PoolInfo
}

// AttemptReader queries the attempt history.
type AttemptReader interface {
	ListByJob(ctx context.Context, jobKey string) ([]*history.Attempt, error)
	ListByMolecule(ctx context.Context, molecule string) ([]*history.Attempt, error)
	CountByOutcome(ctx context.Context) (map[model.Status]int, error)
}

// Server is the status API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	store     store.Store
	pool      PoolReader    // optional
	history   AttemptReader // optional
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithPool enables /api/v1/pool.
func WithPool(p PoolReader) Option {
	return func(s *Server) {
		s.pool = p
	}
}

// WithHistory enables the attempt endpoints.
func WithHistory(h AttemptReader) Option {
	return func(s *Server) {
		s.history = h
	}
}

// New creates a Server with all routes registered.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		store:     st,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then drains open
// requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/pool", s.handlePool)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			// Job keys are file paths, so they travel in the query string.
			r.Get("/lookup", s.handleGetJob)
			r.Get("/attempts", s.handleJobAttempts)
		})

		r.Route("/molecules/{molecule}", func(r chi.Router) {
			r.Get("/attempts", s.handleMoleculeAttempts)
		})

		r.Get("/history/summary", s.handleHistorySummary)
	})
}
