package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/AutoEver-4Ever/ever-gateway/internal/clients/alarm"
	"github.com/AutoEver-4Ever/ever-gateway/internal/eventbus"
	gwhttp "github.com/AutoEver-4Ever/ever-gateway/internal/http"
	"github.com/AutoEver-4Ever/ever-gateway/internal/http/handlers"
	"github.com/AutoEver-4Ever/ever-gateway/internal/http/middleware"
	"github.com/AutoEver-4Ever/ever-gateway/internal/notify"
	"github.com/AutoEver-4Ever/ever-gateway/internal/observability"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/envutil"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
	"github.com/AutoEver-4Ever/ever-gateway/internal/services"
)

func main() {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Env
	port := envutil.Str("PORT", "8080")
	jwtSecretKey := envutil.Str("JWT_SECRET_KEY", "")
	if jwtSecretKey == "" {
		log.Fatal("missing JWT_SECRET_KEY")
	}
	redisAddr := envutil.Str("REDIS_ADDR", "")
	if redisAddr == "" {
		log.Fatal("missing REDIS_ADDR")
	}
	alarmServiceURL := envutil.Str("ALARM_SERVICE_URL", "")
	idleTimeout := envutil.Duration("SSE_IDLE_TIMEOUT", notify.DefaultIdleTimeout)

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "ever-gateway",
		Environment: envutil.Str("ENVIRONMENT", "development"),
	})

	// Event bus connection
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        redisAddr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatal("event bus unreachable", "addr", redisAddr, "error", err)
	}
	cancel()

	// Delivery core
	registry := notify.NewConnectionRegistry(log, idleTimeout)
	dispatcher := notify.NewEventDispatcher(log, registry)
	publisher := eventbus.NewPublisher(log, rdb)
	ingestor := eventbus.NewIngestor(log, rdb, dispatcher, publisher, eventbus.Config{
		Group:    envutil.Str("EVENT_CONSUMER_GROUP", "ever-gateway"),
		Consumer: envutil.Str("EVENT_CONSUMER_NAME", ""),
	})

	// Downstream clients
	alarmClient, err := alarm.NewClient(log, alarmServiceURL)
	if err != nil {
		log.Fatal("alarm client init failed", "error", err)
	}

	// HTTP surface
	authService := services.NewAuthService(log, jwtSecretKey)
	authMW := middleware.NewAuthMiddleware(log, authService)
	srv := gwhttp.NewServer(":"+port, gwhttp.RouterConfig{
		Log:             log,
		AuthMiddleware:  authMW,
		AlarmHandler:    handlers.NewAlarmHandler(log, registry, alarmClient),
		FcmTokenHandler: handlers.NewFcmTokenHandler(log, alarmClient),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gateway listening", "port", port)
		return srv.Run()
	})
	g.Go(func() error {
		return ingestor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		// Terminate live streams first so their handlers return and the
		// HTTP shutdown below can drain.
		registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", "error", err)
		}
		if err := rdb.Close(); err != nil {
			log.Warn("event bus close failed", "error", err)
		}
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("gateway exited with error", "error", err)
	}
	log.Info("gateway stopped")
}
