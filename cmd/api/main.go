package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/chataccess/api"
	"github.com/angelmondragon/chataccess/api/routes"
	"github.com/angelmondragon/chataccess/internal/accessrequests"
	"github.com/angelmondragon/chataccess/internal/notifications"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db"
	"github.com/angelmondragon/chataccess/pkg/instance"
	"github.com/angelmondragon/chataccess/pkg/logger"
	"github.com/angelmondragon/chataccess/pkg/migrate"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Environment: cfg.App.Env,
		Instance:    instance.ID("api"),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	outboxEvents := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxEvents, logg)
	deadLetters := outbox.NewDeadLetters(dbClient, outbox.NewDLQRepository(dbClient.DB()), outboxEvents, logg)
	dispatcher, err := notifications.NewDispatcher(outboxService, cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	accessRequests, err := accessrequests.NewService(dbClient, accessrequests.NewRepository(dbClient.DB()), dispatcher, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create access request service", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "addr", addr)
	logg.Info(ctx, "starting api server")

	handler := routes.NewRouter(cfg, logg, dbClient, redisClient, accessRequests, deadLetters, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := api.Serve(ctx, api.NewServer(addr, handler), logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
