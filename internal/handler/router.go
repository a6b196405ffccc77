package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/webhook-chat/backend/internal/handler/feed"
	"github.com/zhouzirui/webhook-chat/backend/internal/handler/message"
	"github.com/zhouzirui/webhook-chat/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/webhook-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/webhook-chat/backend/internal/service/chat"
	feedService "github.com/zhouzirui/webhook-chat/backend/internal/service/feed"
	"github.com/zhouzirui/webhook-chat/backend/internal/store"
	"github.com/zhouzirui/webhook-chat/backend/pkg/utils"
)

// Deps collects what the router wires into handlers.
type Deps struct {
	Logger         zerolog.Logger
	Store          store.Store
	Chat           *chatService.Service
	Hub            *feedService.Hub
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewarePkg.Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", healthHandler(d.Store, d.Hub))

	r.Route("/api", func(api chi.Router) {
		chat.New(d.Chat, d.Logger).RegisterRoutes(api)
		session.New(d.Store, d.Logger).RegisterRoutes(api)
		message.New(d.Store, d.Logger).RegisterRoutes(api)
		feed.New(d.Hub, d.Logger).RegisterRoutes(api)
	})

	return r
}

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(db pinger, hub *feedService.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]Check)
		healthy := true

		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			checks["database"] = Check{Status: "fail", Message: "connection failed"}
			healthy = false
		} else {
			checks["database"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}

		if hub.Live() {
			checks["feed"] = Check{Status: "pass"}
		} else {
			checks["feed"] = Check{Status: "fail", Message: "source not subscribed"}
			healthy = false
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		utils.RespondJSON(w, code, map[string]any{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
