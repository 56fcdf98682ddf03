package organizations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
)

// List returns the user's organizations in the order they joined them.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	orgs, err := s.auth.ListOrganizations(ctx, userID)
	if err != nil {
		return nil, apperr.From(err)
	}
	return orgs, nil
}

// GetActive returns the session's active organization with its members and
// pending invitations, or nil when there is none or the caller lost access.
func (s *Service) GetActive(ctx context.Context, p auth.Principal) (*auth.FullOrganization, error) {
	full, err := s.auth.GetFullOrganization(ctx, p, uuid.Nil)
	if err != nil {
		if errors.Is(err, auth.ErrOrganizationNotFound) || errors.Is(err, auth.ErrNotAMember) {
			return nil, nil
		}
		return nil, apperr.From(err)
	}
	return full, nil
}

// GetRole returns the caller's role in orgID, or in the active organization
// when orgID is nil. ok is false when the caller is not a member.
func (s *Service) GetRole(ctx context.Context, p auth.Principal, orgID *uuid.UUID) (role Role, ok bool, err error) {
	if orgID == nil {
		member, err := s.auth.GetActiveMember(ctx, p)
		if err != nil {
			if errors.Is(err, auth.ErrNoActiveOrganization) || errors.Is(err, auth.ErrMemberNotFound) {
				return "", false, nil
			}
			return "", false, apperr.From(err)
		}
		return Role(member.Role), true, nil
	}

	r, ok, err := s.auth.GetMemberRole(ctx, *orgID, p.UserID)
	if err != nil {
		return "", false, apperr.From(err)
	}
	return Role(r), ok, nil
}

func (s *Service) activeOrganizationID(ctx context.Context, p auth.Principal) (uuid.UUID, bool, error) {
	member, err := s.auth.GetActiveMember(ctx, p)
	if err != nil {
		if errors.Is(err, auth.ErrNoActiveOrganization) || errors.Is(err, auth.ErrMemberNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, apperr.From(err)
	}
	return member.OrganizationID, true, nil
}

// ListInvitations returns the pending invitations of the active organization.
func (s *Service) ListInvitations(ctx context.Context, p auth.Principal) ([]models.Invitation, error) {
	orgID, ok, err := s.activeOrganizationID(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Invitation{}, nil
	}

	invitations, err := s.auth.ListInvitations(ctx, p, orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	return invitations, nil
}

// Invite invites email into the active organization.
func (s *Service) Invite(ctx context.Context, p auth.Principal, email, role string) (*models.Invitation, error) {
	orgID, ok, err := s.activeOrganizationID(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.From(auth.ErrNoActiveOrganization)
	}

	invitation, err := s.auth.CreateInvitation(ctx, p, auth.InviteInput{OrganizationID: orgID, Email: email, Role: role})
	if err != nil {
		return nil, apperr.From(err)
	}
	return invitation, nil
}

// AcceptInvitation joins the caller to the inviting organization, which also
// becomes the user's active organization.
func (s *Service) AcceptInvitation(ctx context.Context, p auth.Principal, invitationID uuid.UUID) (*models.Member, error) {
	member, err := s.auth.AcceptInvitation(ctx, p, invitationID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if _, err := s.auth.UpdateUser(ctx, p.UserID, auth.UserUpdate{ActiveOrganizationID: &member.OrganizationID}); err != nil {
		return nil, apperr.From(err)
	}
	return member, nil
}

func (s *Service) CancelInvitation(ctx context.Context, p auth.Principal, invitationID uuid.UUID) error {
	return apperr.From(s.auth.CancelInvitation(ctx, p, invitationID))
}

// ListMembers lists orgID's members, or the active organization's when orgID
// is uuid.Nil.
func (s *Service) ListMembers(ctx context.Context, p auth.Principal, orgID uuid.UUID) ([]models.Member, error) {
	if orgID == uuid.Nil {
		active, ok, err := s.activeOrganizationID(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []models.Member{}, nil
		}
		orgID = active
	}

	members, err := s.auth.ListMembers(ctx, p, orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	return members, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, p auth.Principal, orgID, memberID uuid.UUID, role string) (*models.Member, error) {
	member, err := s.auth.UpdateMemberRole(ctx, p, orgID, memberID, role)
	if err != nil {
		return nil, apperr.From(err)
	}
	return member, nil
}

func (s *Service) RemoveMember(ctx context.Context, p auth.Principal, orgID, memberID uuid.UUID) error {
	return apperr.From(s.auth.RemoveMember(ctx, p, orgID, memberID))
}
