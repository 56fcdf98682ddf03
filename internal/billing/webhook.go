package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/crypto"
	"gorm.io/gorm"
)

const SignatureHeader = "creem-signature"

var (
	ErrWebhookSecret    = errors.New("billing webhook secret not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownEntity    = errors.New("subscription has no billing entity")
)

// Sign returns the hex HMAC-SHA256 of body, as sent in creem-signature.
func Sign(secret string, body []byte) string {
	return crypto.SignHex([]byte(secret), body)
}

func VerifySignature(secret, signature string, body []byte) error {
	if secret == "" {
		return ErrWebhookSecret
	}
	if !crypto.EqualSignatures(Sign(secret, body), strings.ToLower(strings.TrimSpace(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"eventType"`
	Object    json.RawMessage `json:"object"`
}

type checkoutObject struct {
	ID           string            `json:"id"`
	Subscription *Subscription     `json:"subscription"`
	Customer     Ref               `json:"customer"`
	Metadata     map[string]string `json:"metadata"`
}

// HandleWebhook verifies and applies one Creem event. Events that do not
// touch a subscription are acknowledged and ignored; the returned record is
// nil for them.
func (s *Service) HandleWebhook(ctx context.Context, secret, signature string, body []byte) (*models.Subscription, error) {
	if err := VerifySignature(secret, signature, body); err != nil {
		return nil, err
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}

	var sub *Subscription
	var metadata map[string]string

	switch {
	case event.EventType == "checkout.completed":
		var obj checkoutObject
		if err := json.Unmarshal(event.Object, &obj); err != nil {
			return nil, fmt.Errorf("decoding checkout: %w", err)
		}
		if obj.Subscription == nil {
			s.logger.Info("checkout without subscription", "checkout_id", obj.ID)
			return nil, nil
		}
		sub = obj.Subscription
		if sub.Customer == "" {
			sub.Customer = obj.Customer
		}
		metadata = mergeMetadata(obj.Metadata, sub.Metadata)

	case strings.HasPrefix(event.EventType, "subscription."):
		sub = &Subscription{}
		if err := json.Unmarshal(event.Object, sub); err != nil {
			return nil, fmt.Errorf("decoding subscription: %w", err)
		}
		metadata = sub.Metadata

	default:
		s.logger.Debug("ignoring billing event", "event_id", event.ID, "type", event.EventType)
		return nil, nil
	}

	if sub.ID == "" {
		return nil, fmt.Errorf("%s event %s: missing subscription id", event.EventType, event.ID)
	}

	entityID := metadata["entityId"]
	if entityID == "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
			Where("subscription_id = ?", sub.ID).Count(&count).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("looking up subscription: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, sub.ID)
		}
	}

	record, err := s.upsert(ctx, entityID, sub)
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription updated",
		"event", event.EventType,
		"subscription_id", record.SubscriptionID,
		"entity_id", record.EntityID,
		"status", record.Status,
	)
	return record, nil
}

func mergeMetadata(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}
