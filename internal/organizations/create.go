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

// createAttempts bounds how often a slug taken between the check and the
// insert is retried with the next suffix.
const createAttempts = 5

const PersonalOrganizationName = "Personal Organization"

type CreateInput struct {
	UserID uuid.UUID
	// SessionID is uuid.Nil when there is no caller session, as in the
	// user-created hook.
	SessionID uuid.UUID
	Name      string
	Slug      string
	LogoID    string
	// SkipActiveOrganization leaves the session untouched. The user's
	// active organization pointer is still updated.
	SkipActiveOrganization bool
}

// Create creates an organization owned by in.UserID and makes it the user's
// active organization. Every step after the adapter insert is compensated:
// on failure the organization is deleted again and the user's previous
// pointer restored.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Organization, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("Organization name cannot be empty")
	}
	if strings.TrimSpace(in.Slug) == "" {
		return nil, apperr.Validation("Organization slug cannot be empty")
	}

	var logoURL string
	if in.LogoID != "" {
		url, err := s.resolveLogo(ctx, in.LogoID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apperr.Validation("Invalid logo file or file not found")
			}
			return nil, apperr.Fromf(err, "Failed to resolve logo URL")
		}
		logoURL = url
	}

	creator, err := s.auth.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, apperr.From(err)
	}
	previous := creator.ActiveOrganizationID

	org, err := s.insertWithUniqueSlug(ctx, in, logoURL)
	if err != nil {
		return nil, err
	}

	if _, err := s.auth.UpdateUser(ctx, in.UserID, auth.UserUpdate{ActiveOrganizationID: &org.ID}); err != nil {
		s.undoCreate(ctx, in.UserID, org, previous)
		return nil, apperr.Fromf(err, "An unexpected error occurred while creating the organization")
	}

	if !in.SkipActiveOrganization {
		p := auth.Principal{UserID: in.UserID, SessionID: in.SessionID}
		if _, err := s.auth.SetActiveOrganization(ctx, p, &org.ID); err != nil {
			s.undoCreate(ctx, in.UserID, org, previous)
			return nil, apperr.Fromf(err, "An unexpected error occurred while setting the organization as active")
		}
	}

	s.logger.Info("organization created", "organization_id", org.ID, "slug", org.Slug, "user_id", in.UserID)
	return org, nil
}

// insertWithUniqueSlug resolves a free slug and inserts the organization,
// moving on to the next suffix when the unique index rejects the insert.
func (s *Service) insertWithUniqueSlug(ctx context.Context, in CreateInput, logoURL string) (*models.Organization, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		slug, err := s.GetUniqueOrganizationSlug(ctx, in.Slug)
		if err != nil {
			return nil, apperr.Fromf(err, "An unexpected error occurred while creating the organization")
		}

		org, err := s.auth.CreateOrganization(ctx, auth.CreateOrganizationInput{
			UserID: in.UserID,
			Name:   in.Name,
			Slug:   slug,
			Logo:   logoURL,
			LogoID: in.LogoID,
		})
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, auth.ErrOrganizationSlugTaken) {
			return nil, apperr.Fromf(err, "An unexpected error occurred while creating the organization")
		}

		s.logger.Warn("organization slug taken at insert, retrying", "slug", slug, "attempt", attempt+1)
		lastErr = err
	}
	return nil, apperr.From(lastErr)
}

func (s *Service) undoCreate(ctx context.Context, userID uuid.UUID, org *models.Organization, previous *uuid.UUID) {
	if err := s.auth.DeleteOrganization(ctx, auth.Principal{UserID: userID}, org.ID); err != nil {
		s.logger.Error("failed to roll back organization creation", "organization_id", org.ID, "error", err)
		return
	}
	if previous == nil {
		return
	}
	if _, err := s.auth.UpdateUser(ctx, userID, auth.UserUpdate{ActiveOrganizationID: previous}); err != nil {
		s.logger.Error("failed to restore active organization", "user_id", userID, "organization_id", *previous, "error", err)
	}
}
