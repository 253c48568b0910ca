package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/pkg/logger"
)

// RouterConfig carries everything the HTTP surface is built from.
type RouterConfig struct {
	Authenticator *middleware.Authenticator
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Presence      *service.PresenceTracker
	Health        *HealthHandler
	// Realtime serves GET /ws. It authenticates the handshake itself.
	Realtime http.Handler

	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router for the chat server.
func NewRouter(cfg RouterConfig, log *logger.Logger) chi.Router {
	conversationHandler := NewConversationHandler(cfg.Conversations, cfg.Messages, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	presenceHandler := NewPresenceHandler(cfg.Conversations, cfg.Presence, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	if cfg.Realtime != nil {
		r.Handle("/ws", cfg.Realtime)
	}

	// API routes with authentication
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Authenticator, cfg.Conversations))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chat", func(r chi.Router) {
			r.With(middleware.RequireRole(model.RoleBuyer)).Post("/start", conversationHandler.Start)
			r.With(middleware.RequireRole(model.RoleBuyer)).Get("/my", conversationHandler.My)
			r.Post("/message", messageHandler.Send)
			r.Get("/presence/{userId}", presenceHandler.Get)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			r.Get("/chats", conversationHandler.AdminList)
			r.Get("/chat/{id}", conversationHandler.AdminGet)
		})
	})

	return r
}
