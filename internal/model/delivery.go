package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// Terminal reports whether the status permits no further attempts.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusExhausted
}

// DeliveryLog is the durable record of one logical delivery: one event to one
// subscription across all its attempts. The payload is a snapshot frozen at
// trigger time; later mutation of the originating domain object never changes
// what is delivered.
type DeliveryLog struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id" db:"subscription_id"`
	EventType      string          `json:"event_type" db:"event_type"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Status         DeliveryStatus  `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ResponseCode   *int            `json:"response_code,omitempty" db:"response_code"`
	ResponseBody   *string         `json:"response_body,omitempty" db:"response_body"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// DeliveryLogFilter narrows delivery log listings.
type DeliveryLogFilter struct {
	SubscriptionID *uuid.UUID
	Status         *DeliveryStatus
	EventType      *string
	Pagination
}

// AttemptResult summarizes one delivery or test attempt for API consumers.
type AttemptResult struct {
	LogID          *uuid.UUID     `json:"log_id,omitempty"`
	SubscriptionID uuid.UUID      `json:"subscription_id"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ResponseCode   *int           `json:"response_code,omitempty"`
	Error          string         `json:"error,omitempty"`
}
