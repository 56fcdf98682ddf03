package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
)

// ChangeEmail moves a user to newEmail. An unverified address, or a
// deployment without mail, is replaced at once. A verified address has to
// approve the move from a link mailed to it; until then the returned user is
// unchanged.
func (s *Service) ChangeEmail(ctx context.Context, userID uuid.UUID, newEmail, callbackURL string) (*models.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	newEmail = normalizeEmail(newEmail)
	if newEmail == user.Email {
		return nil, ErrEmailUnchanged
	}
	if err := s.ensureEmailFree(ctx, newEmail); err != nil {
		return nil, err
	}

	if !user.EmailVerified || s.mailer == nil {
		return s.applyEmailChange(ctx, user, newEmail)
	}

	// only the latest request stays valid
	prefix := "change-email:" + user.ID.String() + ":"
	if err := s.db.WithContext(ctx).Where("identifier LIKE ?", prefix+"%").Delete(&models.Verification{}).Error; err != nil {
		return nil, fmt.Errorf("clearing email change requests: %w", err)
	}
	token, err := s.createVerification(ctx, prefix+newEmail, verificationTTL)
	if err != nil {
		return nil, err
	}

	link := s.siteURL + "/api/auth/change-email/verify?token=" + url.QueryEscape(token)
	if callbackURL != "" {
		link += "&callbackURL=" + url.QueryEscape(callbackURL)
	}
	if err := s.mailer.SendChangeEmailVerification(ctx, user.Email, user.Name, newEmail, link); err != nil {
		return nil, err
	}
	return user, nil
}

// ConfirmEmailChange applies the change a link from ChangeEmail stands for.
func (s *Service) ConfirmEmailChange(ctx context.Context, token string) (*models.User, error) {
	subject, err := s.consumeToken(ctx, "change-email", token)
	if err != nil {
		return nil, err
	}

	rawID, newEmail, ok := strings.Cut(subject, ":")
	if !ok {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if newEmail == user.Email {
		return user, nil
	}
	if err := s.ensureEmailFree(ctx, newEmail); err != nil {
		return nil, err
	}
	return s.applyEmailChange(ctx, user, newEmail)
}

func (s *Service) ensureEmailFree(ctx context.Context, email string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("checking existing user: %w", err)
	}
	if count > 0 {
		return ErrUserExists
	}
	return nil
}

// applyEmailChange stores the new address as unverified and sends it a
// verification email.
func (s *Service) applyEmailChange(ctx context.Context, user *models.User, newEmail string) (*models.User, error) {
	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"email":          newEmail,
		"email_verified": false,
	}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("updating email: %w", err)
	}
	user.Email = newEmail
	user.EmailVerified = false

	s.logger.Info("email changed", "user_id", user.ID)
	if err := s.SendVerificationEmail(ctx, user); err != nil {
		s.logger.Error("sending verification email", "user_id", user.ID, "error", err)
	}
	return user, nil
}
