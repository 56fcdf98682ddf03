package organizations

import (
	"context"

	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
)

// AuthHooks wires the bookkeeping into the auth service's user and session
// lifecycle.
func (s *Service) AuthHooks() auth.Hooks {
	return auth.Hooks{
		OnUserCreate:    s.createPersonalOrganization,
		OnUserDelete:    s.deleteUserData,
		OnSessionCreate: s.resolveSession,
	}
}

func (s *Service) createPersonalOrganization(ctx context.Context, user *models.User) error {
	_, err := s.Create(ctx, CreateInput{
		UserID:                 user.ID,
		Name:                   PersonalOrganizationName,
		Slug:                   PersonalSlug(user.Name),
		SkipActiveOrganization: true,
	})
	return err
}

// deleteUserData runs the organization cascade first so that an aborted
// cascade leaves the avatar in place.
func (s *Service) deleteUserData(ctx context.Context, user *models.User) error {
	if err := s.DeleteUserData(ctx, user); err != nil {
		return err
	}
	s.deleteBlob(ctx, user.ImageID, "user:"+user.ID.String())
	return nil
}

func (s *Service) resolveSession(ctx context.Context, session *models.Session) error {
	if session.ActiveOrganizationID != nil {
		return nil
	}
	return s.ResolveActiveOrganization(ctx, session.UserID, session.ID)
}
