package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrTerminalState is returned when an update targets a delivery log entry
// that already reached success or exhausted.
var ErrTerminalState = errors.New("delivery log entry is in a terminal state")

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	List(ctx context.Context) ([]*model.Subscription, error)
	ListActiveForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error)
	Update(ctx context.Context, sub *model.Subscription) error
	UpdateSecret(ctx context.Context, id uuid.UUID, secret string) error
	TouchLastTriggered(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DeliveryLogRepository interface {
	Create(ctx context.Context, entry *model.DeliveryLog) error
	Get(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error)
	List(ctx context.Context, filter *model.DeliveryLogFilter) ([]*model.DeliveryLog, int, error)

	// MarkSuccess finalizes the entry after a 2xx response. It refuses to
	// touch entries already in a terminal state.
	MarkSuccess(ctx context.Context, id uuid.UUID, attempts int, responseCode int, responseBody string, sentAt time.Time) error

	// MarkFailed records a failed attempt and arms the retry timer.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string, nextRetryAt time.Time) error

	// MarkExhausted finalizes the entry after the attempt budget is spent or
	// its subscription disappeared.
	MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string) error

	// Rearm resets the entry for a manual retry: attempts back to zero,
	// status pending, timers cleared. Unlike the Mark operations it is
	// allowed on terminal entries; a manual retry is an explicit re-arm.
	Rearm(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error)

	// ClaimDueRetries atomically flips up to limit failed-and-due entries
	// back to pending and returns them, so concurrent sweepers never pick
	// up the same row twice.
	ClaimDueRetries(ctx context.Context, limit int, now time.Time) ([]*model.DeliveryLog, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
