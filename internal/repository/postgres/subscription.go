package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO webhook_subscriptions (
			id, name, url, secret, events, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Name,
		sub.URL,
		sub.Secret,
		pq.Array([]string(sub.Events)),
		sub.Active,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	query := `
		SELECT id, name, url, secret, events, active, last_triggered_at, created_at, updated_at
		FROM webhook_subscriptions
		WHERE id = $1
	`
	var sub model.Subscription
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) List(ctx context.Context) ([]*model.Subscription, error) {
	query := `
		SELECT id, name, url, secret, events, active, last_triggered_at, created_at, updated_at
		FROM webhook_subscriptions
		ORDER BY created_at DESC
	`
	var subs []*model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListActiveForEvent(ctx context.Context, eventType string) ([]*model.Subscription, error) {
	query := `
		SELECT id, name, url, secret, events, active, last_triggered_at, created_at, updated_at
		FROM webhook_subscriptions
		WHERE active = true AND $1 = ANY(events)
	`
	var subs []*model.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, eventType); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for event %s: %w", eventType, err)
	}
	return subs, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	query := `
		UPDATE webhook_subscriptions
		SET name = $1, url = $2, events = $3, active = $4, updated_at = $5
		WHERE id = $6
	`
	sub.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		sub.Name,
		sub.URL,
		pq.Array([]string(sub.Events)),
		sub.Active,
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepository) UpdateSecret(ctx context.Context, id uuid.UUID, secret string) error {
	query := `
		UPDATE webhook_subscriptions
		SET secret = $1, updated_at = $2
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, secret, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update subscription secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepository) TouchLastTriggered(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE webhook_subscriptions
		SET last_triggered_at = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch last_triggered_at: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
