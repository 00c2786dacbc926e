// Package api exposes the triage pipeline over HTTP: submission, resume,
// inspection, and a server-sent event stream of pipeline activity.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
	"github.com/sriyan983/slack-triage/internal/triage"
)

// Server is the HTTP front door.
type Server struct {
	cfg     config.ServerConfig
	service *triage.Service
	bus     *events.EventBus
	logger  *logging.Logger
	handler http.Handler
}

// NewServer builds the server and its route table.
func NewServer(cfg config.ServerConfig, service *triage.Service, bus *events.EventBus, logger *logging.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		service: service,
		bus:     bus,
		logger:  logger,
	}
	if err := s.initRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) initRoutes() error {
	resume, err := newResumeValidator()
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage/start", s.handleStart)
		r.Post("/triage/{executionID}/resume", s.handleResume(resume))
		r.Get("/triage/{executionID}", s.handleGetExecution)
		r.Get("/messages", s.handleListMessages)
		r.Get("/stats", s.handleStats)
		r.Post("/cycle", s.handleRunCycle)
		r.Get("/events", s.handleEvents)
	})

	s.handler = r
	return nil
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until the context is canceled, then drains connections
// within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
