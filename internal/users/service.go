// Package users exposes the signed-in user's own profile, password and
// account operations.
package users

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/apperr"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/storage"
)

type Adapter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, upd auth.UserUpdate) (*models.User, error)
	BlobReferenced(ctx context.Context, id string) (bool, error)
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error)
	HasPassword(ctx context.Context, userID uuid.UUID) (bool, error)
	SetPassword(ctx context.Context, userID uuid.UUID, password string) error
	VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

var _ Adapter = (*auth.Service)(nil)

type Service struct {
	auth    Adapter
	storage storage.Storage
	logger  *slog.Logger
}

func NewService(adapter Adapter, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{auth: adapter, storage: store, logger: logger}
}

// GetActiveUser returns the signed-in user, or nil when the user is gone.
func (s *Service) GetActiveUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.auth.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, nil
		}
		return nil, apperr.From(err)
	}
	return user, nil
}

// IsUserExisting reports whether an account is registered under email.
func (s *Service) IsUserExisting(ctx context.Context, email string) (bool, error) {
	_, err := s.auth.GetUserByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, auth.ErrUserNotFound) {
		return false, nil
	}
	return false, apperr.From(err)
}

func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	accounts, err := s.auth.ListAccounts(ctx, userID)
	if err != nil {
		return nil, apperr.From(err)
	}
	return accounts, nil
}

// UpdateAvatar points the user's avatar at storageID and returns its URL.
// The previous avatar blob is deleted once nothing references it. A blob
// that already belongs to another user or an organization is refused.
func (s *Service) UpdateAvatar(ctx context.Context, userID uuid.UUID, storageID string) (string, error) {
	if storageID == "" {
		return "", apperr.Validation("Storage id is required")
	}

	user, err := s.auth.GetUser(ctx, userID)
	if err != nil {
		return "", apperr.From(err)
	}

	if storageID != user.ImageID {
		taken, err := s.auth.BlobReferenced(ctx, storageID)
		if err != nil {
			return "", apperr.Wrap(apperr.KindInternal, "Failed to get image URL", err)
		}
		if taken {
			return "", apperr.Validation("Failed to get image URL")
		}
	}

	url, err := s.storage.GetURL(ctx, storageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", apperr.Validation("Failed to get image URL")
		}
		return "", apperr.Wrap(apperr.KindInternal, "Failed to get image URL", err)
	}

	if _, err := s.auth.UpdateUser(ctx, userID, auth.UserUpdate{Image: &url, ImageID: &storageID}); err != nil {
		return "", apperr.Fromf(err, "Failed to update avatar")
	}

	if user.ImageID != "" && user.ImageID != storageID {
		if err := s.storage.Delete(ctx, user.ImageID); err != nil {
			s.logger.Error("failed to delete previous avatar", "user_id", userID, "storage_id", user.ImageID, "error", err)
		}
	}
	return url, nil
}

// SetPassword adds a password to an account that signed up through a social
// provider.
func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if err := s.auth.SetPassword(ctx, userID, password); err != nil {
		s.logger.Debug("set password failed", "user_id", userID, "error", err)
		return apperr.Fromf(err, "An unexpected error occurred while setting the password")
	}
	return nil
}

// DeleteUser deletes the signed-in user. Users with a password must confirm
// it; the auth service's delete hook removes their organization data.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID, password string) error {
	has, err := s.auth.HasPassword(ctx, userID)
	if err != nil {
		return apperr.From(err)
	}
	if has {
		if password == "" {
			return apperr.Validation("Password is required")
		}
		if err := s.auth.VerifyPassword(ctx, userID, password); err != nil {
			return apperr.From(err)
		}
	}

	if err := s.auth.DeleteUser(ctx, userID); err != nil {
		return apperr.Fromf(err, "Failed to delete user")
	}
	return nil
}
