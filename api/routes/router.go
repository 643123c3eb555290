package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/chataccess/api/controllers"
	"github.com/angelmondragon/chataccess/api/middleware"
	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

// RedisStore is the subset of the redis client the router depends on.
type RedisStore interface {
	Ping(ctx context.Context) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisStore RedisStore,
	accessRequests accessrequests.Service,
	deadLetters controllers.DeadLetterService,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	proxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil && logg != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "ignoring trusted proxies")
	}
	submitPolicy := middleware.NewSubmitRateLimitPolicy(
		"access-requests",
		cfg.RateLimit.SubmitWindow,
		cfg.RateLimit.SubmitIPLimit,
		cfg.RateLimit.SubmitEmailLimit,
	).WithKeySecret(rateLimitSecret(cfg)).WithTrustedProxies(proxies)
	adminLimiter := middleware.NewLimiterStore(cfg.RateLimit.AdminRPS, cfg.RateLimit.AdminBurst)
	var replayStore middleware.ReplayStore
	if redisStore != nil {
		replayStore = redisStore
	}
	idempotent := middleware.Idempotency(replayStore, cfg.Eventing.ActionIdempotencyTTL, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisStore))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/access-requests", func(r chi.Router) {
		if redisStore != nil {
			r.Use(middleware.SubmitRateLimit(submitPolicy, redisStore, logg))
		}
		r.Post("/", controllers.SubmitAccessRequest(accessRequests, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Use(middleware.RateLimit(adminLimiter, logg))

		r.Route("/access-requests", func(r chi.Router) {
			r.Get("/", controllers.ListAccessRequests(accessRequests, logg))
			r.Get("/statuses", controllers.AccessRequestStatuses())
			r.With(idempotent).Post("/actions/approve", controllers.BulkDecideAccessRequests(accessRequests, enums.AccessRequestStatusApproved, logg))
			r.With(idempotent).Post("/actions/reject", controllers.BulkDecideAccessRequests(accessRequests, enums.AccessRequestStatusRejected, logg))
			r.Route("/{requestId}", func(r chi.Router) {
				r.Get("/", controllers.GetAccessRequest(accessRequests, logg))
				r.With(idempotent).Patch("/status", controllers.UpdateAccessRequestStatus(accessRequests, logg))
			})
		})

		if deadLetters != nil {
			r.Route("/dead-letters", func(r chi.Router) {
				r.Get("/", controllers.ListDeadLetters(deadLetters, logg))
				r.Get("/{eventId}", controllers.GetDeadLetter(deadLetters, logg))
				r.With(idempotent).Post("/{eventId}/replay", controllers.ReplayDeadLetter(deadLetters, logg))
			})
		}
	})

	return r
}

func rateLimitSecret(cfg *config.Config) string {
	if cfg.RateLimit.KeySecret != "" {
		return cfg.RateLimit.KeySecret
	}
	return cfg.JWT.Secret
}
