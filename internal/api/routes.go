package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/applybot/jobtracker/internal/config"
	"github.com/applybot/jobtracker/internal/job"
)

func NewRouter(cfg *config.Config, store job.Store, queue Queue, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&requestLogger{log: logger}))
	r.Use(middleware.Recoverer)

	h := NewHandlers(cfg, store, queue, logger)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)

	// Jobs API
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{id}", h.GetJob)
		r.Patch("/{id}", h.UpdateJob)
	})

	return r
}
