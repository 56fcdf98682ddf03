package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errForbidden = apperr.Forbidden("Forbidden: requires admin or owner role")

// Adapter is the part of the auth service billing needs to identify the buyer.
type Adapter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetActiveMember(ctx context.Context, p auth.Principal) (*models.Member, error)
}

var _ Adapter = (*auth.Service)(nil)

type Service struct {
	db     *gorm.DB
	client *Client
	auth   Adapter
	logger *slog.Logger
}

func NewService(db *gorm.DB, client *Client, adapter Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, client: client, auth: adapter, logger: logger}
}

// Buyer identifies who is paying. Role is empty when the buyer has no active
// organization membership.
type Buyer struct {
	UserID   uuid.UUID
	Email    string
	EntityID string
	Role     string
}

func (b *Buyer) canManage() bool {
	return b.Role == models.RoleOwner || b.Role == models.RoleAdmin
}

func (s *Service) ResolveBuyer(ctx context.Context, p auth.Principal) (*Buyer, error) {
	user, err := s.auth.GetUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, apperr.ErrNotAuthenticated
		}
		return nil, apperr.From(err)
	}

	buyer := &Buyer{UserID: user.ID, Email: user.Email, EntityID: user.ID.String()}
	if user.ActiveOrganizationID != nil {
		buyer.EntityID = user.ActiveOrganizationID.String()
	}

	member, err := s.auth.GetActiveMember(ctx, p)
	switch {
	case err == nil:
		buyer.Role = member.Role
	case errors.Is(err, auth.ErrNoActiveOrganization), errors.Is(err, auth.ErrMemberNotFound):
	default:
		return nil, apperr.From(err)
	}
	return buyer, nil
}

func (s *Service) manager(ctx context.Context, p auth.Principal) (*Buyer, error) {
	buyer, err := s.ResolveBuyer(ctx, p)
	if err != nil {
		return nil, err
	}
	if !buyer.canManage() {
		return nil, errForbidden
	}
	return buyer, nil
}

type CheckoutInput struct {
	ProductID  string
	SuccessURL string
	Units      int
}

// CreateCheckout starts a checkout for the buyer's entity and returns the
// hosted checkout URL.
func (s *Service) CreateCheckout(ctx context.Context, p auth.Principal, in CheckoutInput) (string, error) {
	if in.ProductID == "" {
		return "", apperr.Validation("Product id is required")
	}

	buyer, err := s.manager(ctx, p)
	if err != nil {
		return "", err
	}

	checkout, err := s.client.CreateCheckout(ctx, CheckoutRequest{
		ProductID:  in.ProductID,
		RequestID:  uuid.NewString(),
		Units:      in.Units,
		SuccessURL: in.SuccessURL,
		Customer:   &CheckoutCustomer{Email: buyer.Email},
		Metadata: map[string]string{
			"entityId": buyer.EntityID,
			"userId":   buyer.UserID.String(),
		},
	})
	if err != nil {
		return "", upstream(err)
	}
	return checkout.CheckoutURL, nil
}

// PortalURL returns a billing portal link for the customer paying for the
// buyer's entity.
func (s *Service) PortalURL(ctx context.Context, p auth.Principal) (string, error) {
	buyer, err := s.manager(ctx, p)
	if err != nil {
		return "", err
	}

	var sub models.Subscription
	err = s.db.WithContext(ctx).
		Where("entity_id = ? AND customer_id <> ''", buyer.EntityID).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperr.NotFound("No billing customer found")
		}
		return "", apperr.Wrap(apperr.KindInternal, "Failed to load billing customer", err)
	}

	url, err := s.client.CustomerPortalURL(ctx, sub.CustomerID)
	if err != nil {
		return "", upstream(err)
	}
	return url, nil
}

// ListSubscriptions returns the stored subscriptions of the buyer's entity.
func (s *Service) ListSubscriptions(ctx context.Context, p auth.Principal) ([]models.Subscription, error) {
	buyer, err := s.ResolveBuyer(ctx, p)
	if err != nil {
		return nil, err
	}

	subs := []models.Subscription{}
	if err := s.db.WithContext(ctx).Where("entity_id = ?", buyer.EntityID).
		Order("created_at ASC").Find(&subs).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to list subscriptions", err)
	}
	return subs, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	products, err := s.client.ListProducts(ctx)
	if err != nil {
		return nil, upstream(err)
	}
	return products, nil
}

// SubscriptionAction names a change to an existing subscription.
type SubscriptionAction string

const (
	ActionUpgrade SubscriptionAction = "upgrade"
	ActionCancel  SubscriptionAction = "cancel"
	ActionPause   SubscriptionAction = "pause"
	ActionResume  SubscriptionAction = "resume"
)

// ChangeSubscription applies action to a subscription of the buyer's entity
// and stores the provider's answer. productID is only used by upgrades.
func (s *Service) ChangeSubscription(ctx context.Context, p auth.Principal, subscriptionID string, action SubscriptionAction, productID string) (*models.Subscription, error) {
	buyer, err := s.manager(ctx, p)
	if err != nil {
		return nil, err
	}

	var current models.Subscription
	err = s.db.WithContext(ctx).
		Where("subscription_id = ? AND entity_id = ?", subscriptionID, buyer.EntityID).
		First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Subscription not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to load subscription", err)
	}

	var updated *Subscription
	switch action {
	case ActionUpgrade:
		if productID == "" {
			return nil, apperr.Validation("Product id is required")
		}
		updated, err = s.client.UpgradeSubscription(ctx, subscriptionID, UpgradeRequest{ProductID: productID, UpdateBehavior: "proration-charge-immediately"})
	case ActionCancel:
		updated, err = s.client.CancelSubscription(ctx, subscriptionID)
	case ActionPause:
		updated, err = s.client.PauseSubscription(ctx, subscriptionID)
	case ActionResume:
		updated, err = s.client.ResumeSubscription(ctx, subscriptionID)
	default:
		return nil, apperr.Validation(fmt.Sprintf("Unknown subscription action %q", action))
	}
	if err != nil {
		return nil, upstream(err)
	}

	return s.upsert(ctx, buyer.EntityID, updated)
}

// upsert stores sub under entityID. An empty entityID keeps the entity of an
// existing record.
func (s *Service) upsert(ctx context.Context, entityID string, sub *Subscription) (*models.Subscription, error) {
	record := models.Subscription{
		EntityID:         entityID,
		SubscriptionID:   sub.ID,
		CustomerID:       string(sub.Customer),
		ProductID:        string(sub.Product),
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEndDate,
		CanceledAt:       sub.CanceledAt,
	}

	columns := []string{"customer_id", "product_id", "status", "current_period_end", "canceled_at", "updated_at"}
	if entityID != "" {
		columns = append(columns, "entity_id")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&record).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to store subscription", err)
	}

	var stored models.Subscription
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", sub.ID).First(&stored).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to store subscription", err)
	}
	return &stored, nil
}

func upstream(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		return &apperr.Error{Kind: apperr.KindUpstream, Status: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}
	return apperr.Wrap(apperr.KindUpstream, "Billing provider unavailable", err)
}
