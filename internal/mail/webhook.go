package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hugh/go-orgs/internal/database/models"
	svix "github.com/svix/svix-webhooks/go"
	"gorm.io/gorm"
)

// The mail provider delivers webhooks through svix; these are the headers it
// signs with.
const (
	HeaderWebhookID        = "svix-id"
	HeaderWebhookTimestamp = "svix-timestamp"
	HeaderWebhookSignature = "svix-signature"

	webhookTolerance = 5 * time.Minute
)

var (
	ErrWebhookSecret    = errors.New("mail: webhook secret not configured")
	ErrMissingSignature = errors.New("mail: missing webhook signature headers")
	ErrInvalidSignature = errors.New("mail: invalid webhook signature")
	ErrStaleWebhook     = errors.New("mail: webhook timestamp outside tolerance")
	ErrInvalidEvent     = errors.New("mail: invalid webhook payload")
)

func newVerifier(secret string) (*svix.Webhook, error) {
	if secret == "" {
		return nil, ErrWebhookSecret
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook secret: %w", err)
	}
	return wh, nil
}

// SignWebhook returns the "v1,<signature>" value the provider would send.
func SignWebhook(secret, id string, ts time.Time, body []byte) (string, error) {
	wh, err := newVerifier(secret)
	if err != nil {
		return "", err
	}
	return wh.Sign(id, ts, body)
}

// VerifyWebhook checks the signature headers of a webhook delivery against
// now. The timestamp window is checked here so the clock can be injected;
// svix checks the signatures, of which the header may carry several.
func VerifyWebhook(secret string, header http.Header, body []byte, now time.Time) error {
	wh, err := newVerifier(secret)
	if err != nil {
		return err
	}

	ts := header.Get(HeaderWebhookTimestamp)
	if header.Get(HeaderWebhookID) == "" || ts == "" || header.Get(HeaderWebhookSignature) == "" {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	sent := time.Unix(unix, 0)
	if now.Sub(sent) > webhookTolerance || sent.Sub(now) > webhookTolerance {
		return ErrStaleWebhook
	}

	if err := wh.VerifyIgnoringTimestamp(body, header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
	} `json:"data"`
}

// EventRecorder verifies mail provider webhooks and stores them as
// EmailEvents. Redeliveries of the same message id are accepted once.
type EventRecorder struct {
	db     *gorm.DB
	secret string
	logger *slog.Logger
	now    func() time.Time
}

func NewEventRecorder(db *gorm.DB, secret string, logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{db: db, secret: secret, logger: logger, now: time.Now}
}

func (r *EventRecorder) Handle(ctx context.Context, header http.Header, body []byte) (*models.EmailEvent, error) {
	if err := VerifyWebhook(r.secret, header, body, r.now()); err != nil {
		return nil, err
	}

	var payload webhookEvent
	if err := json.Unmarshal(body, &payload); err != nil || payload.Type == "" {
		return nil, ErrInvalidEvent
	}

	event := models.EmailEvent{
		MessageID: header.Get(HeaderWebhookID),
		Type:      payload.Type,
		EmailID:   payload.Data.EmailID,
		Recipient: strings.Join(payload.Data.To, ","),
		Payload:   string(body),
	}
	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			r.logger.Debug("duplicate mail webhook", "message_id", event.MessageID)
			return &event, nil
		}
		return nil, fmt.Errorf("storing email event: %w", err)
	}

	r.logger.Info("mail webhook received", "type", event.Type, "email_id", event.EmailID)
	return &event, nil
}
