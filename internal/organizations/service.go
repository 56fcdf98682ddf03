// Package organizations keeps the auth adapter's organization records, the
// users' and sessions' active organization pointers and the logo blobs
// consistent with each other.
package organizations

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/storage"
	"gorm.io/gorm"
)

// Adapter is the part of the auth service the bookkeeping relies on.
type Adapter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, upd auth.UserUpdate) (*models.User, error)
	BlobReferenced(ctx context.Context, id string) (bool, error)

	CheckOrganizationSlug(ctx context.Context, slug string) (bool, error)
	CreateOrganization(ctx context.Context, in auth.CreateOrganizationInput) (*models.Organization, error)
	UpdateOrganization(ctx context.Context, p auth.Principal, orgID uuid.UUID, upd auth.OrganizationUpdate) (*models.Organization, error)
	DeleteOrganization(ctx context.Context, p auth.Principal, orgID uuid.UUID) error
	DeleteOrganizationTx(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]uuid.UUID, error)
	GetFullOrganization(ctx context.Context, p auth.Principal, orgID uuid.UUID) (*auth.FullOrganization, error)
	ListOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error)
	SetActiveOrganization(ctx context.Context, p auth.Principal, orgID *uuid.UUID) (*models.Organization, error)
	ActiveOrganizationID(ctx context.Context, p auth.Principal) (*uuid.UUID, error)
	InvalidateSessions(ctx context.Context, ids ...uuid.UUID)

	GetActiveMember(ctx context.Context, p auth.Principal) (*models.Member, error)
	GetMemberRole(ctx context.Context, orgID, userID uuid.UUID) (string, bool, error)
	ListMembers(ctx context.Context, p auth.Principal, orgID uuid.UUID) ([]models.Member, error)
	UpdateMemberRole(ctx context.Context, p auth.Principal, orgID, memberID uuid.UUID, role string) (*models.Member, error)
	RemoveMember(ctx context.Context, p auth.Principal, orgID, memberID uuid.UUID) error
	LeaveOrganization(ctx context.Context, p auth.Principal, orgID uuid.UUID) error

	ListInvitations(ctx context.Context, p auth.Principal, orgID uuid.UUID) ([]models.Invitation, error)
	CreateInvitation(ctx context.Context, p auth.Principal, in auth.InviteInput) (*models.Invitation, error)
	AcceptInvitation(ctx context.Context, p auth.Principal, invitationID uuid.UUID) (*models.Member, error)
	CancelInvitation(ctx context.Context, p auth.Principal, invitationID uuid.UUID) error
}

var _ Adapter = (*auth.Service)(nil)

type Service struct {
	db      *gorm.DB
	auth    Adapter
	storage storage.Storage
	logger  *slog.Logger
}

func NewService(db *gorm.DB, adapter Adapter, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:      db,
		auth:    adapter,
		storage: store,
		logger:  logger,
	}
}

// deleteBlob removes a blob whose owner no longer references it. Failures
// leave an orphan behind and are only logged.
func (s *Service) deleteBlob(ctx context.Context, id, owner string) {
	if id == "" {
		return
	}
	if err := s.storage.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete blob", "storage_id", id, "owner", owner, "error", err)
	}
}

// resolveLogo returns the URL of a freshly uploaded logo blob. A blob another
// organization or user already references is refused like a missing one.
func (s *Service) resolveLogo(ctx context.Context, id string) (string, error) {
	taken, err := s.auth.BlobReferenced(ctx, id)
	if err != nil {
		return "", err
	}
	if taken {
		return "", storage.ErrNotFound
	}
	return s.storage.GetURL(ctx, id)
}

// firstOtherOrganization returns the first organization in orgs that is not
// excluded.
func firstOtherOrganization(orgs []models.Organization, excluded uuid.UUID) *models.Organization {
	for i := range orgs {
		if orgs[i].ID != excluded {
			return &orgs[i]
		}
	}
	return nil
}
