package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
)

// ResolveActiveOrganization gives a session without an active organization
// a usable one: the user's own pointer when it is still a membership, else
// the user's first membership. The session is only patched when it belongs
// to userID, and the user's pointer is backfilled when empty.
func (s *Service) ResolveActiveOrganization(ctx context.Context, userID, sessionID uuid.UUID) error {
	db := s.db.WithContext(ctx)

	var session models.Session
	if err := db.First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if session.UserID != userID || session.ActiveOrganizationID != nil {
		return nil
	}

	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("loading user: %w", err)
	}

	orgID, err := s.pickActiveOrganization(ctx, &user)
	if err != nil || orgID == nil {
		return err
	}

	if err := db.Model(&models.Session{}).Where("id = ?", sessionID).Update("active_organization_id", *orgID).Error; err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	s.auth.InvalidateSessions(ctx, sessionID)

	if user.ActiveOrganizationID == nil {
		if err := db.Model(&models.User{}).Where("id = ?", userID).Update("active_organization_id", *orgID).Error; err != nil {
			return fmt.Errorf("updating user: %w", err)
		}
	}
	return nil
}

func (s *Service) pickActiveOrganization(ctx context.Context, user *models.User) (*uuid.UUID, error) {
	db := s.db.WithContext(ctx)

	if user.ActiveOrganizationID != nil {
		var count int64
		if err := db.Model(&models.Member{}).
			Where("user_id = ? AND organization_id = ?", user.ID, *user.ActiveOrganizationID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("checking membership: %w", err)
		}
		if count > 0 {
			return user.ActiveOrganizationID, nil
		}
	}

	var member models.Member
	if err := db.Where("user_id = ?", user.ID).Order("created_at ASC").First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading membership: %w", err)
	}
	return &member.OrganizationID, nil
}
