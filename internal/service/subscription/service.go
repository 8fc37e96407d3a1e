package subscription

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
	apperrors "github.com/chatline/webhook-api/pkg/errors"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/messaging"
)

// secretBytes is the entropy of a generated signing secret.
const secretBytes = 32

type Servicer interface {
	Create(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
	List(ctx context.Context) ([]*model.Subscription, error)
	Update(ctx context.Context, id uuid.UUID, req *model.UpdateSubscriptionRequest) (*model.Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RegenerateSecret(ctx context.Context, id uuid.UUID) (*model.Subscription, error)
}

type Service struct {
	repo   repository.SubscriptionRepository
	broker messaging.Broker
	logger *logger.Logger
}

// NewService builds the subscription service. broker may be nil; when set,
// every mutation is announced on the bus so dispatchers drop their cached
// lookups instead of waiting out the TTL.
func NewService(repo repository.SubscriptionRepository, broker messaging.Broker, logger *logger.Logger) *Service {
	return &Service{repo: repo, broker: broker, logger: logger}
}

// announce publishes a change notice. Best effort: a bus outage must not
// fail the mutation, dispatchers fall back to the cache TTL.
func (s *Service) announce(ctx context.Context, id uuid.UUID, change string) {
	if s.broker == nil {
		return
	}
	notice := model.SubscriptionChange{SubscriptionID: id, Change: change}
	if err := s.broker.Publish(ctx, messaging.SubscriptionChangesChannel, notice); err != nil {
		s.logger.Error(err, "failed to announce subscription change",
			"subscription_id", id.String(), "change", change)
	}
}

// Create registers a subscription and generates its signing secret. The
// returned subscription carries the secret; this is the only time it is
// exposed besides regeneration.
func (s *Service) Create(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.Subscription, error) {
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to generate secret: %w", err))
	}

	sub := &model.Subscription{
		Name:   req.Name,
		URL:    req.URL,
		Secret: &secret,
		Events: req.Events,
		Active: true,
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.announce(ctx, sub.ID, model.SubscriptionCreated)
	s.logger.Info("webhook subscription created",
		"subscription_id", sub.ID.String(),
		"url", sub.URL,
		"events", len(sub.Events))
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("subscription", err)
		}
		return nil, apperrors.Internal(err)
	}
	return sub.Redact(), nil
}

func (s *Service) List(ctx context.Context) ([]*model.Subscription, error) {
	subs, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	for _, sub := range subs {
		sub.Redact()
	}
	return subs, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req *model.UpdateSubscriptionRequest) (*model.Subscription, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("subscription", err)
		}
		return nil, apperrors.Internal(err)
	}

	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.URL != nil {
		sub.URL = *req.URL
	}
	if req.Events != nil {
		if err := validateEvents(req.Events); err != nil {
			return nil, err
		}
		sub.Events = req.Events
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}

	if err := s.repo.Update(ctx, sub); err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("subscription", err)
		}
		return nil, apperrors.Internal(err)
	}

	s.announce(ctx, sub.ID, model.SubscriptionUpdated)
	return sub.Redact(), nil
}

// Delete removes the subscription. Historical delivery log rows stay; the
// sweep runner exhausts any pending retries instead of resending.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == repository.ErrNotFound {
			return apperrors.NotFound("subscription", err)
		}
		return apperrors.Internal(err)
	}
	s.announce(ctx, id, model.SubscriptionDeleted)
	s.logger.Info("webhook subscription deleted", "subscription_id", id.String())
	return nil
}

// RegenerateSecret replaces the signing secret immediately. In-flight retries
// sign with whatever secret is stored at send time, so a regenerate changes
// what is sent from that point on.
func (s *Service) RegenerateSecret(ctx context.Context, id uuid.UUID) (*model.Subscription, error) {
	sub, err := s.repo.Get(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperrors.NotFound("subscription", err)
		}
		return nil, apperrors.Internal(err)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to generate secret: %w", err))
	}

	if err := s.repo.UpdateSecret(ctx, id, secret); err != nil {
		return nil, apperrors.Internal(err)
	}

	sub.Secret = &secret
	s.announce(ctx, id, model.SubscriptionSecretRotated)
	s.logger.Info("webhook secret regenerated", "subscription_id", id.String())
	return sub, nil
}

func validateEvents(events []string) error {
	for _, e := range events {
		if !model.IsValidEventType(e) {
			return apperrors.BadRequest(fmt.Sprintf("unknown event type: %s", e), nil)
		}
	}
	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
