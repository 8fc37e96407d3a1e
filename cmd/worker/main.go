package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/chatline/webhook-api/internal/config"
	"github.com/chatline/webhook-api/internal/repository/postgres"
	deliveryService "github.com/chatline/webhook-api/internal/service/delivery"
	"github.com/chatline/webhook-api/internal/service/dispatcher"
	"github.com/chatline/webhook-api/internal/worker"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/messaging/redis"
	"github.com/chatline/webhook-api/pkg/metrics"
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

	m := metrics.NewMetrics("webhook_worker")

	executor := deliveryService.NewExecutor(deliveryLogRepo, subscriptionRepo, m, l)
	dispatcherSvc := dispatcher.NewService(subscriptionRepo, deliveryLogRepo, executor, l)

	intake := worker.NewIntakeConsumer(broker, dispatcherSvc, l)
	sweeper := worker.NewSweeper(deliveryLogRepo, subscriptionRepo, executor, worker.SweeperConfig{
		BatchSize:    cfg.Webhook.SweepBatchSize,
		PollInterval: cfg.Webhook.SweepInterval,
	}, m, l)
	cleanup := worker.NewCleanupWorker(deliveryLogRepo, cfg.Webhook.RetentionDays, cfg.Webhook.CleanupInterval, m, l)

	setupHealthCheck(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		l.Info("shutting down worker")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := intake.Start(ctx); err != nil && ctx.Err() == nil {
			l.Error(err, "event intake stopped")
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	wg.Wait()
}

func setupHealthCheck(l *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			l.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
