package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
	apperrors "github.com/chatline/webhook-api/pkg/errors"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

// Service exposes the operator-facing delivery operations: log inspection,
// manual retry, test sends and retention cleanup.
type Service struct {
	logs     repository.DeliveryLogRepository
	subs     repository.SubscriptionRepository
	executor *Executor
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewService(
	logs repository.DeliveryLogRepository,
	subs repository.SubscriptionRepository,
	executor *Executor,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		logs:     logs,
		subs:     subs,
		executor: executor,
		metrics:  m,
		logger:   l,
	}
}

func (s *Service) GetLog(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error) {
	entry, err := s.logs.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("delivery log", err)
		}
		return nil, apperrors.Internal(err)
	}
	return entry, nil
}

func (s *Service) ListLogs(ctx context.Context, filter *model.DeliveryLogFilter) ([]*model.DeliveryLog, int, error) {
	entries, total, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return entries, total, nil
}

// Retry is the manual operator action: a full re-arm. Attempts go back to
// zero and the entry is re-attempted immediately, independent of the
// automatic backoff sequence. It works on any status, terminal included.
func (s *Service) Retry(ctx context.Context, logID uuid.UUID) (*model.DeliveryLog, *model.AttemptResult, error) {
	entry, err := s.logs.Rearm(ctx, logID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil, apperrors.NotFound("delivery log", err)
		}
		return nil, nil, apperrors.Internal(err)
	}

	sub, err := s.subs.Get(ctx, entry.SubscriptionID)
	if err != nil && err != repository.ErrNotFound {
		return nil, nil, apperrors.Internal(err)
	}
	if err == repository.ErrNotFound || !sub.Active {
		reason := "subscription is inactive"
		if err == repository.ErrNotFound {
			reason = "subscription no longer exists"
		}
		if markErr := s.logs.MarkExhausted(ctx, entry.ID, entry.Attempts, entry.ResponseCode, entry.ResponseBody, &reason); markErr != nil {
			return nil, nil, apperrors.Internal(markErr)
		}
		result := &model.AttemptResult{
			LogID:          &entry.ID,
			SubscriptionID: entry.SubscriptionID,
			Status:         model.DeliveryStatusExhausted,
			Attempts:       entry.Attempts,
			Error:          reason,
		}
		fresh, _ := s.logs.Get(ctx, entry.ID)
		return fresh, result, nil
	}

	result := s.executor.Send(ctx, sub, entry)

	fresh, err := s.logs.Get(ctx, entry.ID)
	if err != nil {
		return nil, &result, apperrors.Internal(err)
	}
	return fresh, &result, nil
}

// Test performs one synchronous attempt against the subscription without
// creating a delivery log entry; test traffic is exempt from retry and
// retention bookkeeping.
func (s *Service) Test(ctx context.Context, subscriptionID uuid.UUID) (*TestResult, error) {
	sub, err := s.subs.Get(ctx, subscriptionID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("subscription", err)
		}
		return nil, apperrors.Internal(err)
	}

	result := s.executor.SendTest(ctx, sub)
	return &result, nil
}

// Cleanup deletes log rows older than the retention window regardless of
// status. Storage hygiene only; it is not part of the delivery state machine.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, apperrors.BadRequest(fmt.Sprintf("invalid retention: %d days", retentionDays), nil)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	count, err := s.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Internal(err)
	}

	s.metrics.LogsCleanedUp.Add(float64(count))
	s.logger.Info("delivery logs cleaned up", "deleted", count, "cutoff", cutoff.Format(time.RFC3339))
	return count, nil
}
