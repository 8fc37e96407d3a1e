package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatline/webhook-api/internal/config"
	"github.com/chatline/webhook-api/internal/handler"
	deliveryHandler "github.com/chatline/webhook-api/internal/handler/delivery"
	eventHandler "github.com/chatline/webhook-api/internal/handler/event"
	subscriptionHandler "github.com/chatline/webhook-api/internal/handler/subscription"
	"github.com/chatline/webhook-api/internal/middleware"
	"github.com/chatline/webhook-api/internal/repository/postgres"
	"github.com/chatline/webhook-api/internal/router"
	deliveryService "github.com/chatline/webhook-api/internal/service/delivery"
	subscriptionService "github.com/chatline/webhook-api/internal/service/subscription"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/messaging/redis"
	"github.com/chatline/webhook-api/pkg/metrics"
	"github.com/chatline/webhook-api/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		l.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		l.Fatal(err, "failed to create Redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	subscriptionRepo := postgres.NewSubscriptionRepository(baseRepo)
	deliveryLogRepo := postgres.NewDeliveryLogRepository(baseRepo)

	m := metrics.NewMetrics("webhook_api")

	executor := deliveryService.NewExecutor(deliveryLogRepo, subscriptionRepo, m, l)
	deliverySvc := deliveryService.NewService(deliveryLogRepo, subscriptionRepo, executor, m, l)
	subscriptionSvc := subscriptionService.NewService(subscriptionRepo, broker, l)

	v := validator.New()

	h := handler.NewHandler(db)
	subscriptionH := subscriptionHandler.NewHandler(subscriptionSvc, deliverySvc, v)
	deliveryH := deliveryHandler.NewHandler(deliverySvc)
	eventH := eventHandler.NewHandler()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	r := router.NewRouter(
		authMiddleware,
		subscriptionH,
		deliveryH,
		eventH,
		h,
		router.RouterConfig{
			RateLimit:      cfg.RateLimit.RPS,
			RateBurst:      cfg.RateLimit.Burst,
			CORSConfig:     middleware.DefaultCORSConfig(),
			MetricsPrefix:  "webhook_api",
			RequestTimeout: cfg.Server.RequestTimeout,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		l.Info("management API listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal(err, "server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	l.Info("shutting down management API")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error(err, "graceful shutdown failed")
	}
}
