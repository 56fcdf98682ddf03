package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
)

// Principal is the caller of an organization operation. SessionID is
// uuid.Nil for calls made outside a request, such as lifecycle hooks.
type Principal struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

func (p Principal) HasSession() bool {
	return p.SessionID != uuid.Nil
}

// FullOrganization is an organization with its members and pending invitations.
type FullOrganization struct {
	models.Organization
	Members     []models.Member     `json:"members"`
	Invitations []models.Invitation `json:"invitations"`
}

type CreateOrganizationInput struct {
	UserID   uuid.UUID
	Name     string
	Slug     string
	Logo     string
	LogoID   string
	Metadata string
}

// OrganizationUpdate holds the fields to change; nil means unchanged and a
// pointer to "" clears the field.
type OrganizationUpdate struct {
	Name     *string
	Slug     *string
	Logo     *string
	LogoID   *string
	Metadata *string
}

func (u OrganizationUpdate) empty() bool {
	return u.Name == nil && u.Slug == nil && u.Logo == nil && u.LogoID == nil && u.Metadata == nil
}

// CheckOrganizationSlug reports whether slug is already in use.
func (s *Service) CheckOrganizationSlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Organization{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking slug: %w", err)
	}
	return count > 0, nil
}

// CreateOrganization inserts the organization and makes in.UserID its owner.
// A slug collision at insert time returns ErrOrganizationSlugTaken.
func (s *Service) CreateOrganization(ctx context.Context, in CreateOrganizationInput) (*models.Organization, error) {
	if strings.TrimSpace(in.Name) == "" || in.Slug == "" {
		return nil, ErrOrganizationIncomplete
	}
	if _, err := s.GetUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	org := models.Organization{
		Name:     strings.TrimSpace(in.Name),
		Slug:     in.Slug,
		Logo:     in.Logo,
		LogoID:   in.LogoID,
		Metadata: in.Metadata,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrOrganizationSlugTaken
			}
			return err
		}
		return tx.Create(&models.Member{
			OrganizationID: org.ID,
			UserID:         in.UserID,
			Role:           models.RoleOwner,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrOrganizationSlugTaken) {
			return nil, ErrOrganizationSlugTaken
		}
		return nil, fmt.Errorf("creating organization: %w", err)
	}

	s.logger.Info("organization created", "organization_id", org.ID, "slug", org.Slug, "owner_id", in.UserID)
	return &org, nil
}

func (s *Service) getOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("loading organization: %w", err)
	}
	return &org, nil
}

func (s *Service) findMember(ctx context.Context, orgID, userID uuid.UUID) (*models.Member, error) {
	var member models.Member
	err := s.db.WithContext(ctx).Where("organization_id = ? AND user_id = ?", orgID, userID).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading member: %w", err)
	}
	return &member, nil
}

// requireRole returns the caller's membership, failing with ErrNotAMember or
// a 403 carrying denied when the role is not one of allowed.
func (s *Service) requireRole(ctx context.Context, orgID, userID uuid.UUID, denied string, allowed ...string) (*models.Member, error) {
	member, err := s.findMember(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotAMember
	}
	if len(allowed) == 0 {
		return member, nil
	}
	for _, role := range allowed {
		if member.Role == role {
			return member, nil
		}
	}
	return nil, forbidden(denied)
}

// GetMemberRole returns the user's role in the organization and false when
// the user is not a member.
func (s *Service) GetMemberRole(ctx context.Context, orgID, userID uuid.UUID) (string, bool, error) {
	member, err := s.findMember(ctx, orgID, userID)
	if err != nil || member == nil {
		return "", false, err
	}
	return member.Role, true, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, p Principal, orgID uuid.UUID, upd OrganizationUpdate) (*models.Organization, error) {
	if _, err := s.getOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, orgID, p.UserID, "You are not allowed to update this organization", models.RoleOwner, models.RoleAdmin); err != nil {
		return nil, err
	}

	if !upd.empty() {
		fields := map[string]interface{}{}
		if upd.Name != nil {
			fields["name"] = strings.TrimSpace(*upd.Name)
		}
		if upd.Slug != nil {
			fields["slug"] = *upd.Slug
		}
		if upd.Logo != nil {
			fields["logo"] = *upd.Logo
		}
		if upd.LogoID != nil {
			fields["logo_id"] = *upd.LogoID
		}
		if upd.Metadata != nil {
			fields["metadata"] = *upd.Metadata
		}

		err := s.db.WithContext(ctx).Model(&models.Organization{}).Where("id = ?", orgID).Updates(fields).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrOrganizationSlugTaken
			}
			return nil, fmt.Errorf("updating organization: %w", err)
		}
	}

	return s.getOrganization(ctx, orgID)
}

// DeleteOrganization removes the organization with its members and
// invitations. Sessions and users pointing at it lose their active pointer.
func (s *Service) DeleteOrganization(ctx context.Context, p Principal, orgID uuid.UUID) error {
	if _, err := s.getOrganization(ctx, orgID); err != nil {
		return err
	}
	if _, err := s.requireRole(ctx, orgID, p.UserID, "You are not allowed to delete this organization", models.RoleOwner); err != nil {
		return err
	}

	sessionIDs, err := s.deleteOrganizationRows(ctx, s.db.WithContext(ctx), orgID)
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, sessionIDs...)
	s.logger.Info("organization deleted", "organization_id", orgID, "by", p.UserID)
	return nil
}

// DeleteOrganizationTx is DeleteOrganization without the permission check,
// for cascades that already hold a transaction. Callers must invalidate the
// returned session ids after commit.
func (s *Service) DeleteOrganizationTx(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]uuid.UUID, error) {
	return s.deleteOrganizationRows(ctx, tx, orgID)
}

func (s *Service) deleteOrganizationRows(ctx context.Context, db *gorm.DB, orgID uuid.UUID) ([]uuid.UUID, error) {
	var sessionIDs []uuid.UUID
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).Where("active_organization_id = ?", orgID).Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Session{}).Where("active_organization_id = ?", orgID).Update("active_organization_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("active_organization_id = ?", orgID).Update("active_organization_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("organization_id = ?", orgID).Delete(&models.Invitation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("organization_id = ?", orgID).Delete(&models.Member{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Organization{}, "id = ?", orgID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("deleting organization: %w", err)
	}
	return sessionIDs, nil
}

// InvalidateSessions drops cached copies of the given sessions.
func (s *Service) InvalidateSessions(ctx context.Context, ids ...uuid.UUID) {
	s.cache.Invalidate(ctx, ids...)
}

// ActiveOrganizationID returns the session's active organization, if any.
func (s *Service) ActiveOrganizationID(ctx context.Context, p Principal) (*uuid.UUID, error) {
	return s.activeOrganizationID(ctx, p)
}

func (s *Service) activeOrganizationID(ctx context.Context, p Principal) (*uuid.UUID, error) {
	if !p.HasSession() {
		return nil, nil
	}
	session, err := s.loadSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	return session.ActiveOrganizationID, nil
}

// GetFullOrganization loads orgID, or the session's active organization when
// orgID is uuid.Nil. It returns nil without error when there is no active
// organization.
func (s *Service) GetFullOrganization(ctx context.Context, p Principal, orgID uuid.UUID) (*FullOrganization, error) {
	if orgID == uuid.Nil {
		active, err := s.activeOrganizationID(ctx, p)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, nil
		}
		orgID = *active
	}

	org, err := s.getOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRole(ctx, orgID, p.UserID, ""); err != nil {
		return nil, err
	}

	full := &FullOrganization{Organization: *org}
	if err := s.db.WithContext(ctx).Preload("User").
		Where("organization_id = ?", orgID).Order("created_at ASC").
		Find(&full.Members).Error; err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.InvitationPending).
		Order("created_at ASC").
		Find(&full.Invitations).Error; err != nil {
		return nil, fmt.Errorf("loading invitations: %w", err)
	}
	return full, nil
}

// ListOrganizations returns the user's organizations in the order they joined.
func (s *Service) ListOrganizations(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Select("organizations.*").
		Joins("JOIN members ON members.organization_id = organizations.id").
		Where("members.user_id = ?", userID).
		Order("members.created_at ASC").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	return orgs, nil
}

// SetActiveOrganization points the caller's session at orgID, or clears it
// when orgID is nil.
func (s *Service) SetActiveOrganization(ctx context.Context, p Principal, orgID *uuid.UUID) (*models.Organization, error) {
	if !p.HasSession() {
		return nil, ErrSessionRequired
	}

	var org *models.Organization
	if orgID != nil {
		var err error
		if org, err = s.getOrganization(ctx, *orgID); err != nil {
			return nil, err
		}
		if _, err := s.requireRole(ctx, *orgID, p.UserID, ""); err != nil {
			return nil, err
		}
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND user_id = ?", p.SessionID, p.UserID).
		Update("active_organization_id", orgID)
	if res.Error != nil {
		return nil, fmt.Errorf("updating session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidSession
	}

	s.cache.Invalidate(ctx, p.SessionID)
	return org, nil
}

// GetActiveMember returns the caller's membership in the session's active
// organization.
func (s *Service) GetActiveMember(ctx context.Context, p Principal) (*models.Member, error) {
	active, err := s.activeOrganizationID(ctx, p)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNoActiveOrganization
	}

	member, err := s.findMember(ctx, *active, p.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrMemberNotFound
	}
	return member, nil
}

func (s *Service) ListMembers(ctx context.Context, p Principal, orgID uuid.UUID) ([]models.Member, error) {
	if _, err := s.requireRole(ctx, orgID, p.UserID, ""); err != nil {
		return nil, err
	}

	var members []models.Member
	if err := s.db.WithContext(ctx).Preload("User").
		Where("organization_id = ?", orgID).Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

// UpdateMemberRole changes a member's role. Only owners may grant or revoke
// the owner role.
func (s *Service) UpdateMemberRole(ctx context.Context, p Principal, orgID, memberID uuid.UUID, role string) (*models.Member, error) {
	if !models.IsValidRole(role) {
		return nil, ErrInvalidRole
	}

	const denied = "You are not allowed to update this member"
	caller, err := s.requireRole(ctx, orgID, p.UserID, denied, models.RoleOwner, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	var target models.Member
	if err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", memberID, orgID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("loading member: %w", err)
	}

	if caller.Role != models.RoleOwner && (role == models.RoleOwner || target.Role == models.RoleOwner) {
		return nil, forbidden(denied)
	}

	if err := s.db.WithContext(ctx).Model(&target).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("updating member role: %w", err)
	}
	target.Role = role
	return &target, nil
}

// RemoveMember removes another member. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, p Principal, orgID, memberID uuid.UUID) error {
	const denied = "You are not allowed to remove this member"
	caller, err := s.requireRole(ctx, orgID, p.UserID, denied, models.RoleOwner, models.RoleAdmin)
	if err != nil {
		return err
	}

	var target models.Member
	if err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", memberID, orgID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("loading member: %w", err)
	}
	if target.Role == models.RoleOwner && caller.Role != models.RoleOwner {
		return forbidden(denied)
	}

	return s.removeMembership(ctx, &target)
}

// LeaveOrganization removes the caller's own membership.
func (s *Service) LeaveOrganization(ctx context.Context, p Principal, orgID uuid.UUID) error {
	member, err := s.findMember(ctx, orgID, p.UserID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrMemberNotFound
	}
	return s.removeMembership(ctx, member)
}

func (s *Service) removeMembership(ctx context.Context, member *models.Member) error {
	var sessionIDs []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if member.Role == models.RoleOwner {
			var owners int64
			if err := tx.Model(&models.Member{}).
				Where("organization_id = ? AND role = ?", member.OrganizationID, models.RoleOwner).
				Count(&owners).Error; err != nil {
				return err
			}
			if owners <= 1 {
				return ErrLastOwner
			}
		}

		if err := tx.Delete(&models.Member{}, "id = ?", member.ID).Error; err != nil {
			return err
		}

		q := tx.Model(&models.Session{}).Where("user_id = ? AND active_organization_id = ?", member.UserID, member.OrganizationID)
		if err := q.Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		return tx.Model(&models.Session{}).
			Where("user_id = ? AND active_organization_id = ?", member.UserID, member.OrganizationID).
			Update("active_organization_id", nil).Error
	})
	if err != nil {
		if errors.Is(err, ErrLastOwner) {
			return ErrLastOwner
		}
		return fmt.Errorf("removing member: %w", err)
	}

	s.cache.Invalidate(ctx, sessionIDs...)
	return nil
}

// ListInvitations returns the organization's pending invitations.
func (s *Service) ListInvitations(ctx context.Context, p Principal, orgID uuid.UUID) ([]models.Invitation, error) {
	if _, err := s.requireRole(ctx, orgID, p.UserID, ""); err != nil {
		return nil, err
	}

	var invitations []models.Invitation
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ? AND expires_at > ?", orgID, models.InvitationPending, s.now()).
		Order("created_at ASC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("listing invitations: %w", err)
	}
	return invitations, nil
}

type InviteInput struct {
	OrganizationID uuid.UUID
	Email          string
	Role           string
}

// CreateInvitation records a pending invitation and emails its link.
func (s *Service) CreateInvitation(ctx context.Context, p Principal, in InviteInput) (*models.Invitation, error) {
	if in.Role == "" {
		in.Role = models.RoleMember
	}
	if !models.IsValidRole(in.Role) {
		return nil, ErrInvalidRole
	}
	email := normalizeEmail(in.Email)

	const denied = "You are not allowed to invite users to this organization"
	caller, err := s.requireRole(ctx, in.OrganizationID, p.UserID, denied, models.RoleOwner, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if in.Role == models.RoleOwner && caller.Role != models.RoleOwner {
		return nil, forbidden(denied)
	}

	org, err := s.getOrganization(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	var memberCount int64
	if err := s.db.WithContext(ctx).Model(&models.Member{}).
		Joins("JOIN users ON users.id = members.user_id").
		Where("members.organization_id = ? AND users.email = ?", in.OrganizationID, email).
		Count(&memberCount).Error; err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if memberCount > 0 {
		return nil, ErrAlreadyMember
	}

	var pending int64
	if err := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("organization_id = ? AND email = ? AND status = ? AND expires_at > ?", in.OrganizationID, email, models.InvitationPending, s.now()).
		Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("checking invitations: %w", err)
	}
	if pending > 0 {
		return nil, ErrAlreadyInvited
	}

	invitation := models.Invitation{
		OrganizationID: in.OrganizationID,
		Email:          email,
		Role:           in.Role,
		Status:         models.InvitationPending,
		InviterID:      p.UserID,
		ExpiresAt:      s.now().Add(invitationTTL),
	}
	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		return nil, fmt.Errorf("creating invitation: %w", err)
	}

	if s.mailer != nil {
		inviter, err := s.GetUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		err = s.mailer.SendInvitationEmail(ctx, InvitationEmail{
			To:               email,
			InviterName:      inviter.Name,
			InviterEmail:     inviter.Email,
			OrganizationName: org.Name,
			Role:             in.Role,
			Link:             s.InvitationLink(invitation.ID),
		})
		if err != nil {
			s.logger.Error("sending invitation email", "invitation_id", invitation.ID, "error", err)
		}
	}

	return &invitation, nil
}

func (s *Service) InvitationLink(id uuid.UUID) string {
	return s.siteURL + "/api/organization/accept-invitation/" + id.String()
}

// AcceptInvitation joins the caller to the inviting organization and makes it
// the session's active organization.
func (s *Service) AcceptInvitation(ctx context.Context, p Principal, invitationID uuid.UUID) (*models.Member, error) {
	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ? AND expires_at > ?", invitationID, models.InvitationPending, s.now()).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("loading invitation: %w", err)
	}

	user, err := s.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if user.Email != invitation.Email {
		return nil, ErrNotInvitationRecipient
	}

	member := models.Member{
		OrganizationID: invitation.OrganizationID,
		UserID:         user.ID,
		Role:           invitation.Role,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyMember
			}
			return err
		}
		return tx.Model(&invitation).Update("status", models.InvitationAccepted).Error
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("accepting invitation: %w", err)
	}

	if p.HasSession() {
		if _, err := s.SetActiveOrganization(ctx, p, &invitation.OrganizationID); err != nil {
			return nil, err
		}
	}
	return &member, nil
}

// CancelInvitation withdraws a pending invitation.
func (s *Service) CancelInvitation(ctx context.Context, p Principal, invitationID uuid.UUID) error {
	var invitation models.Invitation
	if err := s.db.WithContext(ctx).First(&invitation, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("loading invitation: %w", err)
	}

	if _, err := s.requireRole(ctx, invitation.OrganizationID, p.UserID,
		"You are not allowed to cancel this invitation", models.RoleOwner, models.RoleAdmin); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&invitation).Update("status", models.InvitationCanceled).Error
}

// ExpireInvitations marks pending invitations past their expiry.
func (s *Service) ExpireInvitations(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("status = ? AND expires_at <= ?", models.InvitationPending, s.now()).
		Update("status", models.InvitationExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("expiring invitations: %w", res.Error)
	}
	return res.RowsAffected, nil
}
