package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
	"github.com/chatline/webhook-api/internal/service/delivery"
	apperrors "github.com/chatline/webhook-api/pkg/errors"
	"github.com/chatline/webhook-api/pkg/logger"
)

const (
	// Subscription lookups are cached briefly. Change notices on the bus
	// flush the cache immediately; the TTL bounds staleness if a notice is
	// lost.
	subscriberCacheTTL     = 30 * time.Second
	subscriberCacheCleanup = 5 * time.Minute
)

// Service fans a domain event out to every matching active subscription.
type Service struct {
	subs     repository.SubscriptionRepository
	logs     repository.DeliveryLogRepository
	executor *delivery.Executor
	cache    *cache.Cache
	logger   *logger.Logger
}

func NewService(
	subs repository.SubscriptionRepository,
	logs repository.DeliveryLogRepository,
	executor *delivery.Executor,
	logger *logger.Logger,
) *Service {
	return &Service{
		subs:     subs,
		logs:     logs,
		executor: executor,
		cache:    cache.New(subscriberCacheTTL, subscriberCacheCleanup),
		logger:   logger,
	}
}

// Trigger creates one pending log entry per matching subscription and runs
// the delivery attempts concurrently. Attempts settle independently: a slow
// or failing subscriber never delays or fails delivery to another. The
// returned slice holds one outcome per matched subscription.
func (s *Service) Trigger(ctx context.Context, eventType string, payload json.RawMessage) ([]model.AttemptResult, error) {
	if !model.IsValidEventType(eventType) {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown event type: %s", eventType), nil)
	}

	subs, err := s.matchingSubscriptions(ctx, eventType)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if len(subs) == 0 {
		return nil, nil
	}

	type pending struct {
		sub   *model.Subscription
		entry *model.DeliveryLog
	}

	results := make([]model.AttemptResult, 0, len(subs))
	queue := make([]pending, 0, len(subs))

	// Persist all log rows before attempting anything; each row gets its own
	// frozen copy of the payload.
	for _, sub := range subs {
		snapshot := make(json.RawMessage, len(payload))
		copy(snapshot, payload)

		entry := &model.DeliveryLog{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        snapshot,
		}
		if err := s.logs.Create(ctx, entry); err != nil {
			// Store failure for one subscriber must not abort the fan-out.
			s.logger.Error(err, "failed to create delivery log",
				"subscription_id", sub.ID.String(), "event_type", eventType)
			results = append(results, model.AttemptResult{
				SubscriptionID: sub.ID,
				Status:         model.DeliveryStatusFailed,
				Error:          err.Error(),
			})
			continue
		}
		queue = append(queue, pending{sub: sub, entry: entry})
	}

	attempted := make([]model.AttemptResult, len(queue))
	var wg sync.WaitGroup
	for i, p := range queue {
		wg.Add(1)
		go func(i int, p pending) {
			defer wg.Done()
			attempted[i] = s.executor.Send(ctx, p.sub, p.entry)
		}(i, p)
	}
	wg.Wait()

	results = append(results, attempted...)

	s.logger.Info("event dispatched",
		"event_type", eventType,
		"subscribers", len(subs),
		"attempted", len(queue))
	return results, nil
}

// FlushSubscribers drops every cached subscription lookup. Called when a
// subscription changes, so the next dispatch sees the store's current state
// instead of waiting out the TTL.
func (s *Service) FlushSubscribers() {
	s.cache.Flush()
}

func (s *Service) matchingSubscriptions(ctx context.Context, eventType string) ([]*model.Subscription, error) {
	if cached, ok := s.cache.Get(eventType); ok {
		return cached.([]*model.Subscription), nil
	}

	subs, err := s.subs.ListActiveForEvent(ctx, eventType)
	if err != nil {
		return nil, err
	}
	s.cache.Set(eventType, subs, cache.DefaultExpiration)
	return subs, nil
}
