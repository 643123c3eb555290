package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/chataccess/api"
	"github.com/angelmondragon/chataccess/internal/notifications"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/instance"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/mailer"
	"github.com/angelmondragon/chataccess/pkg/metrics"
	"github.com/angelmondragon/chataccess/pkg/outbox/idempotency"
	"github.com/angelmondragon/chataccess/pkg/pubsub"
	"github.com/angelmondragon/chataccess/pkg/redis"
)

const serviceName = "mail-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Environment: cfg.App.Env,
		Instance:    instance.ID(serviceName),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, pubsub.MailWorkerRequirements(cfg.PubSub), logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.Subscriber(cfg.PubSub.MailSubscription)
	if subscription == nil {
		requireResource(ctx, logg, "mail subscription", errors.New("subscription not configured"))
	}

	claims, err := idempotency.NewClaims(redisClient, cfg.Eventing.MailIdempotencyTTL)
	requireResource(ctx, logg, "mail claims", err)

	sender, err := mailer.New(cfg.Mail, logg)
	requireResource(ctx, logg, "mail sender", err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Subscription: subscription,
		Idempotency:  claims,
		Sender:       sender,
		Metrics:      metrics.NewMailMetrics(reg),
		Logger:       logg,
	})
	requireResource(ctx, logg, "mail consumer", err)

	service, err := NewService(ServiceParams{
		Logger:   logg,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	})
	requireResource(ctx, logg, "mail worker", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind":  serviceName,
		"subscription": cfg.PubSub.MailSubscription,
		"provider":     cfg.Mail.Provider,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := api.NewServer(":"+cfg.Service.WorkerMetricsPort, mux)
	go func() {
		if err := api.Serve(runCtx, metricsServer, logg); err != nil {
			logg.Error(runCtx, "metrics server stopped", err)
		}
	}()

	logg.Info(runCtx, "starting mail worker")
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "mail worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "mail worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+name, err)
	os.Exit(1)
}
