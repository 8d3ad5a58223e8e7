package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/handler/admin"
	"github.com/digitalforce/flexi/backend/internal/handler/chat"
	"github.com/digitalforce/flexi/backend/internal/handler/lead"
	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/logging"
	middlewarePkg "github.com/digitalforce/flexi/backend/internal/middleware"
	leadModel "github.com/digitalforce/flexi/backend/internal/model/lead"
	chatService "github.com/digitalforce/flexi/backend/internal/service/chat"
	"github.com/digitalforce/flexi/backend/internal/service/external"
	"github.com/digitalforce/flexi/backend/pkg/utils"
)

const readyTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the HTTP layer is wired to. Storage may be
// nil when nothing external backs the stores.
type Dependencies struct {
	Config   *config.Holder
	Resolver *chatService.Service
	Prober   *external.Prober
	Leads    leadModel.Store
	Storage  Pinger
	Limiter  *middlewarePkg.RateLimiter
	Logger   *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config.Current()

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middlewarePkg.Recoverer(deps.Logger))
	r.Use(cors.Handler(corsOptions(cfg.Server.AllowedOrigins)))
	r.Use(middleware.Heartbeat("/health"))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ready", readiness(deps.Storage, deps.Logger))

	chatHandler := chat.New(deps.Resolver, deps.Limiter, deps.Logger, originChecker(cfg.Server.AllowedOrigins))
	leadHandler := lead.New(deps.Leads, nil, deps.Logger)
	adminHandler := admin.New(deps.Config, deps.Prober, deps.Leads, deps.Logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterDebugRoutes(api)
		leadHandler.RegisterPublicRoutes(api)

		api.Group(func(operator chi.Router) {
			operator.Use(deps.Limiter.Middleware)
			adminHandler.RegisterRoutes(operator)

			operator.Group(func(diag chi.Router) {
				diag.Use(middlewarePkg.SameOriginOrToken(deps.Config, deps.Logger))
				adminHandler.RegisterPreviewRoutes(diag)
			})
		})

		api.Group(func(visitor chi.Router) {
			visitor.Use(identity.Middleware)
			visitor.Use(deps.Limiter.Middleware)
			visitor.Use(middlewarePkg.TestToken(deps.Config, deps.Logger))
			chatHandler.RegisterRoutes(visitor)
			leadHandler.RegisterRoutes(visitor)
		})
	})

	return r
}

// readiness answers 200 while storage is reachable and 503 otherwise.
func readiness(storage Pinger, logger *slog.Logger) http.HandlerFunc {
	logger = logging.OrDefault(logger)
	return func(w http.ResponseWriter, r *http.Request) {
		if storage != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := storage.Ping(ctx); err != nil {
				logger.Warn("[ready] storage unreachable", "error", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// corsOptions allows the configured origins. Credentials are only allowed
// when no wildcard is configured.
func corsOptions(allowed []string) cors.Options {
	wildcard := len(allowed) == 0
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
	}

	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middlewarePkg.TestTokenHeader, admin.PasswordHeader},
		MaxAge:         300,
	}
	if wildcard {
		opts.AllowedOrigins = []string{"*"}
		return opts
	}
	opts.AllowedOrigins = allowed
	opts.AllowCredentials = true
	return opts
}

// originChecker admits WebSocket upgrades from same-origin pages and from the
// configured CORS origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || middlewarePkg.SameOrigin(r) {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
