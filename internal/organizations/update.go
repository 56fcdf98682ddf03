package organizations

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/storage"
)

type LogoAction int

const (
	LogoKeep LogoAction = iota
	LogoClear
	LogoSet
)

func (a LogoAction) String() string {
	switch a {
	case LogoClear:
		return "clear"
	case LogoSet:
		return "set"
	default:
		return "keep"
	}
}

// LogoChange says what an update does to the logo. The zero value keeps it.
type LogoChange struct {
	action LogoAction
	blobID string
}

func KeepLogo() LogoChange {
	return LogoChange{action: LogoKeep}
}

func ClearLogo() LogoChange {
	return LogoChange{action: LogoClear}
}

func SetLogo(blobID string) LogoChange {
	return LogoChange{action: LogoSet, blobID: blobID}
}

func (c LogoChange) Action() LogoAction { return c.action }
func (c LogoChange) BlobID() string     { return c.blobID }

// ProfileUpdate holds the profile fields to change; nil leaves a field as is.
type ProfileUpdate struct {
	Name *string
	Slug *string
	Logo LogoChange
}

func (u ProfileUpdate) validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return apperr.Validation("Organization name cannot be empty")
	}
	if u.Slug != nil && !validSlug(*u.Slug) {
		return apperr.Validation("Slug must contain only lowercase letters, numbers, and hyphens")
	}
	if u.Logo.action == LogoSet && u.Logo.blobID == "" {
		return apperr.Validation("Invalid logo file or file not found")
	}
	return nil
}

// UpdateProfile changes an organization's name, slug and logo. orgID may be
// uuid.Nil for the caller's active organization. The previous logo blob is
// deleted only once every write has succeeded; a failed name or slug write
// puts the previous logo back.
func (s *Service) UpdateProfile(ctx context.Context, p auth.Principal, orgID uuid.UUID, upd ProfileUpdate) (*models.Organization, error) {
	if err := upd.validate(); err != nil {
		return nil, err
	}

	full, err := s.auth.GetFullOrganization(ctx, p, orgID)
	if err != nil {
		return nil, apperr.From(err)
	}
	if full == nil {
		return nil, apperr.NotFound("Organization not found")
	}
	current := full.Organization

	slugChanged := upd.Slug != nil && *upd.Slug != current.Slug
	if slugChanged {
		taken, err := s.auth.CheckOrganizationSlug(ctx, *upd.Slug)
		if err != nil {
			return nil, apperr.Fromf(err, "Failed to update organization profile")
		}
		if taken {
			return nil, apperr.Validation("Slug already taken")
		}
	}

	result := &current
	var staleLogo string
	logoWritten := false

	switch upd.Logo.action {
	case LogoClear:
		if current.LogoID != "" || current.Logo != "" {
			empty := ""
			org, err := s.auth.UpdateOrganization(ctx, p, current.ID, auth.OrganizationUpdate{Logo: &empty, LogoID: &empty})
			if err != nil {
				return nil, apperr.Fromf(err, "Failed to update organization profile")
			}
			result, staleLogo, logoWritten = org, current.LogoID, true
		}
	case LogoSet:
		if upd.Logo.blobID != current.LogoID {
			url, err := s.resolveLogo(ctx, upd.Logo.blobID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, apperr.Validation("Invalid logo file or file not found")
				}
				return nil, apperr.Fromf(err, "Failed to update organization profile")
			}
			org, err := s.auth.UpdateOrganization(ctx, p, current.ID, auth.OrganizationUpdate{Logo: &url, LogoID: &upd.Logo.blobID})
			if err != nil {
				return nil, apperr.Fromf(err, "Failed to update organization profile")
			}
			result, staleLogo, logoWritten = org, current.LogoID, true
		}
	}

	var fields auth.OrganizationUpdate
	if upd.Name != nil && strings.TrimSpace(*upd.Name) != current.Name {
		name := strings.TrimSpace(*upd.Name)
		fields.Name = &name
	}
	if slugChanged {
		fields.Slug = upd.Slug
	}

	if fields.Name != nil || fields.Slug != nil {
		org, err := s.auth.UpdateOrganization(ctx, p, current.ID, fields)
		if err != nil {
			if logoWritten {
				s.restoreLogo(ctx, p, &current)
			}
			if errors.Is(err, auth.ErrOrganizationSlugTaken) {
				return nil, apperr.Validation("Slug already taken")
			}
			return nil, apperr.Fromf(err, "Failed to update organization profile")
		}
		result = org
	}

	s.deleteBlob(ctx, staleLogo, "organization:"+current.ID.String())
	return result, nil
}

func (s *Service) restoreLogo(ctx context.Context, p auth.Principal, previous *models.Organization) {
	_, err := s.auth.UpdateOrganization(ctx, p, previous.ID, auth.OrganizationUpdate{
		Logo:   &previous.Logo,
		LogoID: &previous.LogoID,
	})
	if err != nil {
		s.logger.Error("failed to restore organization logo", "organization_id", previous.ID, "error", err)
	}
}
