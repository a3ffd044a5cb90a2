package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/gemini-relay/internal/config"
	"github.com/capitalize-ai/gemini-relay/internal/handler"
	"github.com/capitalize-ai/gemini-relay/internal/middleware"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
)

type routes struct {
	health *handler.HealthHandler
	chat   *handler.ChatHandler
	reaper middleware.Reaper
}

func newRouter(cfg *config.Config, log *logger.Logger, h routes) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log, cfg.TokenCookieName))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", h.health.Health)
	r.Get("/ready", h.health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Reap(h.reaper))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.TokenCookieName))

		r.Post("/ask-gemini", h.chat.Ask)
		r.Post("/reset", h.chat.Reset)
		r.Get("/reset", h.chat.Reset)
	})

	return r
}
