package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/crypto"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix      = "go_"
	apiKeyStartLength = 8
)

// CreatedAPIKey carries the plaintext key; it is only available at creation.
type CreatedAPIKey struct {
	Key string `json:"key"`
	*models.APIKey
}

// CreateAPIKey issues a key for userID. A zero expiresIn never expires.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresIn time.Duration) (*CreatedAPIKey, error) {
	if !s.apiKeys {
		return nil, ErrFeatureDisabled
	}

	secret, err := crypto.GenerateToken(32)
	if err != nil {
		return nil, err
	}
	key := apiKeyPrefix + secret

	row := &models.APIKey{
		UserID:  userID,
		Name:    strings.TrimSpace(name),
		Start:   key[:apiKeyStartLength],
		KeyHash: crypto.HashToken(key),
		Enabled: true,
	}
	if expiresIn > 0 {
		expiresAt := s.now().Add(expiresIn)
		row.ExpiresAt = &expiresAt
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("creating api key: %w", err)
	}

	s.logger.Info("api key created", "user_id", userID, "api_key_id", row.ID)
	return &CreatedAPIKey{Key: key, APIKey: row}, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]models.APIKey, error) {
	if !s.apiKeys {
		return nil, ErrFeatureDisabled
	}

	var keys []models.APIKey
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

// DeleteAPIKey only removes keys owned by userID.
func (s *Service) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	if !s.apiKeys {
		return ErrFeatureDisabled
	}

	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", keyID, userID).Delete(&models.APIKey{})
	if res.Error != nil {
		return fmt.Errorf("deleting api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// VerifyAPIKey resolves a key to its owner. The view has no session, so
// operations that need an active organization refuse it.
func (s *Service) VerifyAPIKey(ctx context.Context, key string) (*SessionView, error) {
	if !s.apiKeys || !strings.HasPrefix(key, apiKeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	db := s.db.WithContext(ctx)
	var row models.APIKey
	if err := db.Where("key_hash = ?", crypto.HashToken(key)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("loading api key: %w", err)
	}

	now := s.now()
	if !row.Enabled || (row.ExpiresAt != nil && !now.Before(*row.ExpiresAt)) {
		return nil, ErrInvalidAPIKey
	}

	user, err := s.GetUser(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}

	if err := db.Model(&row).Update("last_used_at", now).Error; err != nil {
		s.logger.Warn("recording api key use", "api_key_id", row.ID, "error", err)
	}
	return &SessionView{User: user}, nil
}
