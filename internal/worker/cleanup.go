package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/webhook-api/internal/repository"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

// CleanupWorker removes delivery log rows past the retention window on a
// fixed interval.
type CleanupWorker struct {
	logs            repository.DeliveryLogRepository
	retentionDays   int
	cleanupInterval time.Duration
	metrics         *metrics.Metrics
	logger          *logger.Logger
}

func NewCleanupWorker(
	logs repository.DeliveryLogRepository,
	retentionDays int,
	cleanupInterval time.Duration,
	m *metrics.Metrics,
	l *logger.Logger,
) *CleanupWorker {
	if retentionDays <= 0 {
		panic("retentionDays must be greater than 0")
	}
	if cleanupInterval <= 0 {
		panic("cleanupInterval must be greater than 0")
	}
	return &CleanupWorker{
		logs:            logs,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		metrics:         m,
		logger:          l,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "delivery log cleanup failed")
			}
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	count, err := w.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old delivery logs: %w", err)
	}

	w.metrics.LogsCleanedUp.Add(float64(count))
	w.logger.Info("delivery logs cleaned up", "deleted", count, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
