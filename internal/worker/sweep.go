package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatline/webhook-api/internal/repository"
	"github.com/chatline/webhook-api/internal/service/delivery"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

type SweeperConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// Sweeper periodically picks up failed deliveries whose retry timer expired
// and re-runs them through the executor. Retry state lives in the database,
// so delivery survives process restarts: the first pass after startup simply
// finds whatever came due while the process was down.
type Sweeper struct {
	logs     repository.DeliveryLogRepository
	subs     repository.SubscriptionRepository
	executor *delivery.Executor
	config   SweeperConfig
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewSweeper(
	logs repository.DeliveryLogRepository,
	subs repository.SubscriptionRepository,
	executor *delivery.Executor,
	config SweeperConfig,
	m *metrics.Metrics,
	l *logger.Logger,
) *Sweeper {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}

	return &Sweeper{
		logs:     logs,
		subs:     subs,
		executor: executor,
		config:   config,
		metrics:  m,
		logger:   l,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info("starting retry sweeper", "interval", s.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down retry sweeper")
			return
		case <-ticker.C:
			if err := s.ProcessRetries(ctx); err != nil {
				s.logger.Error(err, "sweep pass failed")
			}
		}
	}
}

// ProcessRetries runs one sweep pass. Entries whose subscription disappeared
// or was deactivated are exhausted with an explanatory error instead of being
// resent; everything else continues its attempt counter where it left off.
func (s *Sweeper) ProcessRetries(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	entries, err := s.logs.ClaimDueRetries(ctx, s.config.BatchSize, time.Now())
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("claim_due_retries", "error").Inc()
		return fmt.Errorf("failed to claim due retries: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("claim_due_retries", "success").Inc()
	s.metrics.SweepBatchSize.Observe(float64(len(entries)))

	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		sub, err := s.subs.Get(ctx, entry.SubscriptionID)
		if err != nil && err != repository.ErrNotFound {
			// Store failure is isolated to this entry; the rest of the
			// batch still runs.
			s.logger.Error(err, "failed to resolve subscription",
				"log_id", entry.ID.String())
			continue
		}

		if err == repository.ErrNotFound || !sub.Active {
			reason := "subscription is inactive"
			if err == repository.ErrNotFound {
				reason = "subscription no longer exists"
			}
			// Keep the last attempt's response diagnostics; only the
			// error message changes.
			if markErr := s.logs.MarkExhausted(ctx, entry.ID, entry.Attempts, entry.ResponseCode, entry.ResponseBody, &reason); markErr != nil {
				s.logger.Error(markErr, "failed to exhaust orphaned delivery",
					"log_id", entry.ID.String())
			} else {
				s.metrics.DeliveriesExhausted.Inc()
			}
			continue
		}

		s.executor.Send(ctx, sub, entry)
	}

	s.logger.Info("sweep pass complete", "entries", len(entries))
	return nil
}
