package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Subscription is a registered external endpoint plus the event types it
// wants to receive.
type Subscription struct {
	Base
	Name            string         `json:"name" db:"name"`
	URL             string         `json:"url" db:"url"`
	Secret          *string        `json:"secret,omitempty" db:"secret"`
	Events          pq.StringArray `json:"events" db:"events"`
	Active          bool           `json:"active" db:"active"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty" db:"last_triggered_at"`
}

// SubscribesTo reports whether the subscription wants the given event type.
func (s *Subscription) SubscribesTo(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Redact clears the secret. The secret is only ever returned at creation and
// regeneration time.
func (s *Subscription) Redact() *Subscription {
	s.Secret = nil
	return s
}

// Kinds of subscription change announced on the bus.
const (
	SubscriptionCreated       = "created"
	SubscriptionUpdated       = "updated"
	SubscriptionDeleted       = "deleted"
	SubscriptionSecretRotated = "secret_rotated"
)

// SubscriptionChange is published when a subscription is created, updated,
// deleted or has its secret rotated.
type SubscriptionChange struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Change         string    `json:"change"`
}

// CreateSubscriptionRequest is the payload for registering a webhook.
type CreateSubscriptionRequest struct {
	Name   string   `json:"name" validate:"required,max=255"`
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,required"`
}

// UpdateSubscriptionRequest carries a partial update; nil fields are left
// untouched.
type UpdateSubscriptionRequest struct {
	Name   *string  `json:"name,omitempty" validate:"omitempty,max=255"`
	URL    *string  `json:"url,omitempty" validate:"omitempty,url"`
	Events []string `json:"events,omitempty" validate:"omitempty,min=1,dive,required"`
	Active *bool    `json:"active,omitempty"`
}
