package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
)

const deliveryLogColumns = `
	id, subscription_id, event_type, payload, status, attempts,
	response_code, response_body, error_message, next_retry_at, sent_at, created_at
`

type deliveryLogRepository struct {
	BaseRepository
}

func NewDeliveryLogRepository(base BaseRepository) repository.DeliveryLogRepository {
	return &deliveryLogRepository{base}
}

func (r *deliveryLogRepository) Create(ctx context.Context, entry *model.DeliveryLog) error {
	if entry.Payload == nil {
		return fmt.Errorf("delivery log payload cannot be nil")
	}

	query := `
		INSERT INTO webhook_delivery_logs (
			id, subscription_id, event_type, payload, status, attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	entry.ID = uuid.New()
	entry.Status = model.DeliveryStatusPending
	entry.Attempts = 0
	entry.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.SubscriptionID,
		entry.EventType,
		[]byte(entry.Payload),
		entry.Status,
		entry.Attempts,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}
	return nil
}

func (r *deliveryLogRepository) Get(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_delivery_logs WHERE id = $1`

	var entry model.DeliveryLog
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delivery log: %w", err)
	}
	return &entry, nil
}

func (r *deliveryLogRepository) List(ctx context.Context, filter *model.DeliveryLogFilter) ([]*model.DeliveryLog, int, error) {
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if filter.SubscriptionID != nil {
		args = append(args, *filter.SubscriptionID)
		where = append(where, fmt.Sprintf("subscription_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EventType != nil {
		args = append(args, *filter.EventType)
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM webhook_delivery_logs` + clause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count delivery logs: %w", err)
	}

	filter.Normalize()
	args = append(args, filter.PageSize, filter.Offset())
	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_delivery_logs` + clause +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var entries []*model.DeliveryLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	return entries, total, nil
}

func (r *deliveryLogRepository) MarkSuccess(ctx context.Context, id uuid.UUID, attempts int, responseCode int, responseBody string, sentAt time.Time) error {
	query := `
		UPDATE webhook_delivery_logs
		SET status = $1, attempts = $2, response_code = $3, response_body = $4,
			error_message = NULL, next_retry_at = NULL, sent_at = $5
		WHERE id = $6 AND status NOT IN ('success', 'exhausted')
	`
	res, err := r.db.ExecContext(ctx, query,
		model.DeliveryStatusSuccess, attempts, responseCode, responseBody, sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery success: %w", err)
	}
	return r.checkGuarded(res)
}

func (r *deliveryLogRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string, nextRetryAt time.Time) error {
	query := `
		UPDATE webhook_delivery_logs
		SET status = $1, attempts = $2, response_code = $3, response_body = $4,
			error_message = $5, next_retry_at = $6
		WHERE id = $7 AND status NOT IN ('success', 'exhausted') AND attempts < $2
	`
	res, err := r.db.ExecContext(ctx, query,
		model.DeliveryStatusFailed, attempts, responseCode, responseBody, errorMessage, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return r.checkGuarded(res)
}

func (r *deliveryLogRepository) MarkExhausted(ctx context.Context, id uuid.UUID, attempts int, responseCode *int, responseBody, errorMessage *string) error {
	query := `
		UPDATE webhook_delivery_logs
		SET status = $1, attempts = $2, response_code = $3, response_body = $4,
			error_message = $5, next_retry_at = NULL
		WHERE id = $6 AND status NOT IN ('success', 'exhausted')
	`
	res, err := r.db.ExecContext(ctx, query,
		model.DeliveryStatusExhausted, attempts, responseCode, responseBody, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery exhausted: %w", err)
	}
	return r.checkGuarded(res)
}

// Rearm is the one write allowed to leave a terminal state. A manual retry is
// an explicit operator action, not a resume.
func (r *deliveryLogRepository) Rearm(ctx context.Context, id uuid.UUID) (*model.DeliveryLog, error) {
	query := `
		UPDATE webhook_delivery_logs
		SET status = 'pending', attempts = 0, next_retry_at = NULL, sent_at = NULL
		WHERE id = $1
		RETURNING ` + deliveryLogColumns

	var entry model.DeliveryLog
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to rearm delivery log: %w", err)
	}
	return &entry, nil
}

// ClaimDueRetries flips due rows back to pending inside one statement. The
// SKIP LOCKED subselect keeps concurrent sweepers off each other's batches.
func (r *deliveryLogRepository) ClaimDueRetries(ctx context.Context, limit int, now time.Time) ([]*model.DeliveryLog, error) {
	query := `
		UPDATE webhook_delivery_logs
		SET status = 'pending', next_retry_at = NULL
		WHERE id IN (
			SELECT id FROM webhook_delivery_logs
			WHERE status = 'failed' AND next_retry_at <= $2
			ORDER BY next_retry_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryLogColumns

	var entries []*model.DeliveryLog
	if err := r.db.SelectContext(ctx, &entries, query, limit, now); err != nil {
		return nil, fmt.Errorf("failed to claim due retries: %w", err)
	}
	return entries, nil
}

func (r *deliveryLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_delivery_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery logs: %w", err)
	}
	return res.RowsAffected()
}

func (r *deliveryLogRepository) checkGuarded(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrTerminalState
	}
	return nil
}
