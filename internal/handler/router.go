package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/support-widget/internal/middleware"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

// RouterConfig wires handlers and middleware settings into the API router.
type RouterConfig struct {
	Logger   *logger.Logger
	Health   *HealthHandler
	Sessions *SessionHandler
	Messages *MessageHandler

	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// SendLimit bounds deliveries per chat session within RateLimitWindow.
	SendLimit int
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/chatbots/{id}", cfg.Sessions.GetChatbot)
		r.Post("/chat-sessions", cfg.Sessions.Create)
		r.Get("/chat-sessions/{id}/messages", cfg.Messages.List)

		r.Group(func(r chi.Router) {
			if cfg.SendLimit > 0 {
				r.Use(middleware.SessionRateLimit(cfg.SendLimit, cfg.RateLimitWindow))
			}
			r.Post("/send-message", cfg.Messages.Send)
		})
	})

	return r
}
