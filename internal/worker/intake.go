package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/service/dispatcher"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/messaging"
)

// IntakeConsumer bridges the platform's event bus to the webhook dispatcher.
// It also listens for subscription change notices and drops the dispatcher's
// cached lookups, so a delete or deactivate stops new fan-outs right away.
type IntakeConsumer struct {
	broker     messaging.Broker
	dispatcher *dispatcher.Service
	logger     *logger.Logger
}

func NewIntakeConsumer(broker messaging.Broker, d *dispatcher.Service, l *logger.Logger) *IntakeConsumer {
	return &IntakeConsumer{
		broker:     broker,
		dispatcher: d,
		logger:     l,
	}
}

func (c *IntakeConsumer) Start(ctx context.Context) error {
	events, err := c.broker.Subscribe(ctx, messaging.EventsChannel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.EventsChannel, err)
	}
	changes, err := c.broker.Subscribe(ctx, messaging.SubscriptionChangesChannel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", messaging.SubscriptionChangesChannel, err)
	}

	c.logger.Info("event intake started", "channel", messaging.EventsChannel)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("shutting down event intake")
			return nil
		case msg, ok := <-events:
			if !ok {
				return fmt.Errorf("event channel %s closed", messaging.EventsChannel)
			}
			c.handle(ctx, msg)
		case _, ok := <-changes:
			if !ok {
				return fmt.Errorf("event channel %s closed", messaging.SubscriptionChangesChannel)
			}
			c.dispatcher.FlushSubscribers()
			c.logger.Debug("subscription cache flushed")
		}
	}
}

func (c *IntakeConsumer) handle(ctx context.Context, raw []byte) {
	var evt model.PlatformEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.logger.Error(err, "failed to decode platform event")
		return
	}
	if evt.Event == "" {
		c.logger.Warn("platform event without event name dropped")
		return
	}

	results, err := c.dispatcher.Trigger(ctx, evt.Event, evt.Payload)
	if err != nil {
		c.logger.Error(err, "failed to dispatch platform event", "event_type", evt.Event)
		return
	}
	c.logger.Debug("platform event dispatched", "event_type", evt.Event, "deliveries", len(results))
}
