package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codecollab/codecollab/internal/api/middleware"
	"github.com/codecollab/codecollab/internal/config"
	"github.com/codecollab/codecollab/internal/crypto"
	"github.com/codecollab/codecollab/internal/handlers"
	"github.com/codecollab/codecollab/internal/hub"
	"github.com/codecollab/codecollab/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil.
func NewRouter(
	logger zerolog.Logger,
	cfg *config.Config,
	db store.DataStore,
	redisStore *store.RedisStore,
	tokens *crypto.TokenIssuer,
	relay *hub.Hub,
) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, tokens, relay)
	auth := middleware.NewAuthMiddleware(db, tokens)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Post("/api/register", h.Register)
	r.Post("/api/login", h.Login)
	r.Get("/api/users/{id}", h.GetUser)
	r.Get("/api/stats", h.Stats)

	// Live relay; the token travels in the query string
	r.Get("/ws", relay.ServeWS)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/api/me", h.Me)
		r.Get("/api/rooms/list", h.ListRooms)
		r.Get("/api/rooms/{name}", h.GetRoom)
	})

	return r
}
