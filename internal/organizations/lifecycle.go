package organizations

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
)

// SetActive makes orgID the active organization of the caller's session and
// user. Without an id it falls back to the user's own pointer when that is
// still one of their organizations, else to their first organization.
func (s *Service) SetActive(ctx context.Context, p auth.Principal, orgID *uuid.UUID) (*models.Organization, error) {
	if orgID != nil {
		return s.activate(ctx, p, *orgID)
	}

	orgs, err := s.auth.ListOrganizations(ctx, p.UserID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if len(orgs) == 0 {
		return nil, apperr.NotFound("No organizations found")
	}

	user, err := s.auth.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if user.ActiveOrganizationID != nil {
		for i := range orgs {
			if orgs[i].ID == *user.ActiveOrganizationID {
				if _, err := s.auth.SetActiveOrganization(ctx, p, &orgs[i].ID); err != nil {
					return nil, apperr.From(err)
				}
				return &orgs[i], nil
			}
		}
	}

	return s.activate(ctx, p, orgs[0].ID)
}

// activate points both the session and the user at orgID.
func (s *Service) activate(ctx context.Context, p auth.Principal, orgID uuid.UUID) (*models.Organization, error) {
	org, err := s.auth.SetActiveOrganization(ctx, p, &orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if _, err := s.auth.UpdateUser(ctx, p.UserID, auth.UserUpdate{ActiveOrganizationID: &orgID}); err != nil {
		return nil, apperr.From(err)
	}
	return org, nil
}

// activateAfterRemoval is activate for a caller who may have no session, as
// when acting outside a request.
func (s *Service) activateAfterRemoval(ctx context.Context, p auth.Principal, orgID uuid.UUID) (*models.Organization, error) {
	if p.HasSession() {
		return s.activate(ctx, p, orgID)
	}
	if _, err := s.auth.UpdateUser(ctx, p.UserID, auth.UserUpdate{ActiveOrganizationID: &orgID}); err != nil {
		return nil, apperr.From(err)
	}
	return nil, nil
}

// Delete deletes an organization the caller owns (uuid.Nil for the active
// one) together with its logo. When the active organization is the one
// deleted, the caller's first remaining organization becomes active;
// otherwise the active organization is kept and returned. The caller must
// keep at least one organization.
func (s *Service) Delete(ctx context.Context, p auth.Principal, orgID uuid.UUID) (*models.Organization, error) {
	full, err := s.auth.GetFullOrganization(ctx, p, orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if full == nil {
		return nil, apperr.NotFound("Organization not found")
	}

	orgs, err := s.auth.ListOrganizations(ctx, p.UserID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if len(orgs) < 2 {
		return nil, apperr.Invariant("Cannot delete organization. At least one organization must remain.")
	}
	next := firstOtherOrganization(orgs, full.ID)
	if next == nil {
		return nil, apperr.Invariant("No alternative organization found to set as active")
	}

	current, err := s.currentActiveID(ctx, p)
	if err != nil {
		return nil, apperr.From(err)
	}
	var kept *models.Organization
	if current != nil && *current != full.ID {
		for i := range orgs {
			if orgs[i].ID == *current {
				kept = &orgs[i]
				break
			}
		}
	}

	if err := s.auth.DeleteOrganization(ctx, p, full.ID); err != nil {
		return nil, apperr.From(err)
	}
	s.deleteBlob(ctx, full.LogoID, "organization:"+full.ID.String())

	if kept != nil {
		return kept, nil
	}

	active, err := s.activateAfterRemoval(ctx, p, next.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = next
	}
	return active, nil
}

// currentActiveID is the session's active organization, or the user's own
// pointer for a caller without a session.
func (s *Service) currentActiveID(ctx context.Context, p auth.Principal) (*uuid.UUID, error) {
	if p.HasSession() {
		return s.auth.ActiveOrganizationID(ctx, p)
	}
	user, err := s.auth.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return user.ActiveOrganizationID, nil
}

// Leave removes the caller from their active organization and activates the
// first remaining one. An owner hands the owner role to successorMemberID
// first; if leaving then fails the successor gets their old role back.
func (s *Service) Leave(ctx context.Context, p auth.Principal, successorMemberID *uuid.UUID) (*models.Organization, error) {
	orgs, err := s.auth.ListOrganizations(ctx, p.UserID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if len(orgs) < 2 {
		return nil, apperr.Invariant("Cannot leave organization. You must be part of at least two organizations.")
	}

	member, err := s.auth.GetActiveMember(ctx, p)
	if err != nil {
		return nil, apperr.From(err)
	}

	var successor *models.Member
	if member.Role == models.RoleOwner {
		if successorMemberID == nil {
			return nil, apperr.Validation("You must provide a successor to leave the organization")
		}
		if successor, err = s.findMember(ctx, p, member.OrganizationID, *successorMemberID); err != nil {
			return nil, err
		}
		if _, err := s.auth.UpdateMemberRole(ctx, p, member.OrganizationID, successor.ID, models.RoleOwner); err != nil {
			return nil, apperr.From(err)
		}
	}

	next := firstOtherOrganization(orgs, member.OrganizationID)
	if next == nil {
		s.restoreSuccessor(ctx, p, successor)
		return nil, apperr.Invariant("No alternative organization found to set as active")
	}

	if err := s.auth.LeaveOrganization(ctx, p, member.OrganizationID); err != nil {
		s.restoreSuccessor(ctx, p, successor)
		return nil, apperr.From(err)
	}

	active, err := s.activateAfterRemoval(ctx, p, next.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = next
	}
	return active, nil
}

func (s *Service) findMember(ctx context.Context, p auth.Principal, orgID, memberID uuid.UUID) (*models.Member, error) {
	members, err := s.auth.ListMembers(ctx, p, orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	for i := range members {
		if members[i].ID == memberID {
			return &members[i], nil
		}
	}
	return nil, apperr.From(auth.ErrMemberNotFound)
}

func (s *Service) restoreSuccessor(ctx context.Context, p auth.Principal, successor *models.Member) {
	if successor == nil || successor.Role == models.RoleOwner {
		return
	}
	if _, err := s.auth.UpdateMemberRole(ctx, p, successor.OrganizationID, successor.ID, successor.Role); err != nil {
		s.logger.Error("failed to restore successor role", "member_id", successor.ID, "error", err)
	}
}
