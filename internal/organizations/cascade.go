package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
)

var ErrOwnsSharedOrganization = apperr.Invariant(
	"Cannot delete user: You are the owner of an organization that has other members. Transfer ownership or remove other members first.")

// DeleteUserData removes everything organization related that belongs to
// user: memberships, organizations the user owns alone and invitations sent
// to the user's email. Owning an organization that has other members aborts
// the cascade before anything is deleted. Logo blobs of deleted
// organizations are removed after the transaction commits.
func (s *Service) DeleteUserData(ctx context.Context, user *models.User) error {
	var (
		logos      []string
		sessionIDs []uuid.UUID
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []models.Member
		if err := tx.Where("user_id = ?", user.ID).Find(&memberships).Error; err != nil {
			return err
		}

		var owned []uuid.UUID
		for _, m := range memberships {
			if m.Role != models.RoleOwner {
				continue
			}
			var count int64
			if err := tx.Model(&models.Member{}).Where("organization_id = ?", m.OrganizationID).Count(&count).Error; err != nil {
				return err
			}
			if count > 1 {
				return ErrOwnsSharedOrganization
			}
			owned = append(owned, m.OrganizationID)
		}

		if err := tx.Where("user_id = ? AND role <> ?", user.ID, models.RoleOwner).Delete(&models.Member{}).Error; err != nil {
			return err
		}

		for _, orgID := range owned {
			var org models.Organization
			if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			ids, err := s.auth.DeleteOrganizationTx(ctx, tx, orgID)
			if err != nil {
				return err
			}
			sessionIDs = append(sessionIDs, ids...)
			if org.LogoID != "" {
				logos = append(logos, org.LogoID)
			}
		}

		return tx.Where("email = ?", user.Email).Delete(&models.Invitation{}).Error
	})
	if err != nil {
		if errors.Is(err, ErrOwnsSharedOrganization) {
			return ErrOwnsSharedOrganization
		}
		return apperr.Wrap(apperr.KindInternal, "Failed to delete user data", fmt.Errorf("deleting user data: %w", err))
	}

	s.auth.InvalidateSessions(ctx, sessionIDs...)
	for _, id := range logos {
		s.deleteBlob(ctx, id, "user:"+user.ID.String())
	}

	s.logger.Info("user organization data deleted", "user_id", user.ID, "organizations", len(logos))
	return nil
}
