package messaging

import (
	"context"
)

// Bus channels shared between the platform and the delivery engine.
const (
	// EventsChannel carries domain events published by the chat platform.
	EventsChannel = "platform.events"

	// SubscriptionChangesChannel carries change notices for webhook
	// subscriptions, so dispatchers can drop cached lookups.
	SubscriptionChangesChannel = "platform.webhook_subscriptions"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
