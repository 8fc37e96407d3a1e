// Package repositorytest provides in-memory repository implementations for
// tests. They mirror the guard semantics of the postgres implementations:
// terminal entries reject Mark updates, failed attempts only move the counter
// forward, and ClaimDueRetries flips claimed rows to pending.
package repositorytest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
)

type SubscriptionStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*model.Subscription

	// ListActiveForEventCalls counts repository hits, so tests can observe
	// caching in front of the store.
	ListActiveForEventCalls int
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[uuid.UUID]*model.Subscription)}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ID = uuid.New()
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	s.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySubscription(sub), nil
}

func (s *SubscriptionStore) List(ctx context.Context) ([]*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SubscriptionStore) ListActiveForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ListActiveForEventCalls++
	var out []*model.Subscription
	for _, sub := range s.subs {
		if sub.Active && sub.SubscribesTo(eventType) {
			out = append(out, copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; !ok {
		return repository.ErrNotFound
	}
	sub.UpdatedAt = time.Now()
	s.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (s *SubscriptionStore) UpdateSecret(ctx context.Context, id uuid.UUID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.Secret = &secret
	sub.UpdatedAt = time.Now()
	return nil
}

func (s *SubscriptionStore) TouchLastTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	sub.LastTriggeredAt = &at
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

type DeliveryLogStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*model.DeliveryLog

	// CreateErr, when set, fails the next Create calls. Lets tests exercise
	// store failures during fan-out.
	CreateErr error
}

func NewDeliveryLogStore() *DeliveryLogStore {
	return &DeliveryLogStore{entries: make(map[uuid.UUID]*model.DeliveryLog)}
}

func (s *DeliveryLogStore) Create(ctx context.Context, entry *model.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}

	entry.ID = uuid.New()
	entry.Status = model.DeliveryStatusPending
	entry.Attempts = 0
	entry.CreatedAt = time.Now()
	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Put stores an entry as-is, for seeding test fixtures.
func (s *DeliveryLogStore) Put(entry *model.DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.entries[entry.ID] = copyEntry(entry)
}

func (s *DeliveryLogStore) Get(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyEntry(entry), nil
}

func (s *DeliveryLogStore) List(ctx context.Context, filter *model.DeliveryLogFilter) ([]*model.DeliveryLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.DeliveryLog
	for _, entry := range s.entries {
		if filter.SubscriptionID != nil && entry.SubscriptionID != *filter.SubscriptionID {
			continue
		}
		if filter.Status != nil && entry.Status != *filter.Status {
			continue
		}
		if filter.EventType != nil && entry.EventType != *filter.EventType {
			continue
		}
		matched = append(matched, copyEntry(entry))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	filter.Normalize()
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *DeliveryLogStore) MarkSuccess(ctx context.Context, id uuid.UUID, attempts int, responseCode int, responseBody string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status.Terminal() {
		return repository.ErrTerminalState
	}
	entry.Status = model.DeliveryStatusSuccess
	entry.Attempts = attempts
	entry.ResponseCode = &responseCode
	entry.ResponseBody = &responseBody
	entry.ErrorMessage = nil
	entry.NextRetryAt = nil
	entry.SentAt = &sentAt
	return nil
}

func (s *DeliveryLogStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status.Terminal() || entry.Attempts >= attempts {
		return repository.ErrTerminalState
	}
	entry.Status = model.DeliveryStatusFailed
	entry.Attempts = attempts
	entry.ResponseCode = responseCode
	entry.ResponseBody = responseBody
	entry.ErrorMessage = errorMessage
	entry.NextRetryAt = &nextRetryAt
	return nil
}

func (s *DeliveryLogStore) MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.Status.Terminal() {
		return repository.ErrTerminalState
	}
	entry.Status = model.DeliveryStatusExhausted
	entry.Attempts = attempts
	entry.ResponseCode = responseCode
	entry.ResponseBody = responseBody
	entry.ErrorMessage = errorMessage
	entry.NextRetryAt = nil
	return nil
}

func (s *DeliveryLogStore) Rearm(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	entry.Status = model.DeliveryStatusPending
	entry.Attempts = 0
	entry.NextRetryAt = nil
	entry.SentAt = nil
	return copyEntry(entry), nil
}

func (s *DeliveryLogStore) ClaimDueRetries(ctx context.Context, limit int, now time.Time) ([]*model.DeliveryLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.DeliveryLog
	for _, entry := range s.entries {
		if entry.Status == model.DeliveryStatusFailed && entry.NextRetryAt != nil && !entry.NextRetryAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*model.DeliveryLog, 0, len(due))
	for _, entry := range due {
		entry.Status = model.DeliveryStatusPending
		entry.NextRetryAt = nil
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

func (s *DeliveryLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

func copySubscription(sub *model.Subscription) *model.Subscription {
	out := *sub
	out.Events = append(pq.StringArray(nil), sub.Events...)
	if sub.Secret != nil {
		secret := *sub.Secret
		out.Secret = &secret
	}
	return &out
}

func copyEntry(entry *model.DeliveryLog) *model.DeliveryLog {
	out := *entry
	out.Payload = append(json.RawMessage(nil), entry.Payload...)
	return &out
}
