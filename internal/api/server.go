package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/jobs"
	"github.com/streamarc/streamarc/internal/providers"
	"github.com/streamarc/streamarc/internal/store"
)

// Server is the admin surface: job triggers, run history, and ingestion
// progress. It serves operators, not end users.
type Server struct {
	scheduler *jobs.Scheduler
	records   *store.JobStore
	progress  *providers.Progress
	log       *logrus.Logger
	http      *http.Server
}

func NewServer(addr string, scheduler *jobs.Scheduler, records *store.JobStore, progress *providers.Progress, log *logrus.Logger) *Server {
	s := &Server{
		scheduler: scheduler,
		records:   records,
		progress:  progress,
		log:       log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/{name}/run", s.handleRunJob)
		r.Get("/progress", s.handleProgress)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("API: listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
