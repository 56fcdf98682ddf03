package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/crypto"
	"gorm.io/gorm"
)

const (
	DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	// DefaultDeviceScope is granted when the device asks for nothing specific.
	DefaultDeviceScope = "read:orgs read:themes"

	deviceCodeTTL      = 7 * 24 * time.Hour
	devicePollInterval = 5 * time.Second
	userCodeLength     = 8
	// 32 symbols, so a random byte maps onto it without bias.
	userCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// DeviceAuthorization is the RFC 8628 device authorization response.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// DeviceToken is handed to the device once the user approves it. The access
// token is an ordinary session token.
type DeviceToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

func (s *Service) checkDeviceClient(clientID string) error {
	if s.deviceClientID == "" {
		return ErrFeatureDisabled
	}
	if subtle.ConstantTimeCompare([]byte(clientID), []byte(s.deviceClientID)) != 1 {
		return ErrInvalidClient
	}
	return nil
}

// RequestDeviceCode starts a device authorization for the configured client.
func (s *Service) RequestDeviceCode(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	if err := s.checkDeviceClient(clientID); err != nil {
		return nil, err
	}
	if scope == "" {
		scope = DefaultDeviceScope
	}

	deviceCode, err := crypto.GenerateToken(30)
	if err != nil {
		return nil, err
	}
	userCode, err := randomUserCode()
	if err != nil {
		return nil, err
	}

	row := models.DeviceCode{
		DeviceCode:   deviceCode,
		UserCode:     userCode,
		ClientID:     clientID,
		Scope:        scope,
		Status:       models.DeviceStatusPending,
		ExpiresAt:    s.now().Add(deviceCodeTTL),
		PollInterval: int(devicePollInterval / time.Millisecond),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("storing device code: %w", err)
	}

	verifyURI := s.siteURL + "/device"
	return &DeviceAuthorization{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verifyURI,
		VerificationURIComplete: verifyURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int(deviceCodeTTL / time.Second),
		Interval:                int(devicePollInterval / time.Second),
	}, nil
}

func randomUserCode() (string, error) {
	b := make([]byte, userCodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating user code: %w", err)
	}
	for i := range b {
		b[i] = userCodeAlphabet[int(b[i])%len(userCodeAlphabet)]
	}
	return string(b), nil
}

// normalizeUserCode accepts codes typed in lower case or with separators.
func normalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// DeviceCodeStatus reports pending, approved or denied, and "unknown" for a
// device code that does not exist (or was already exchanged).
func (s *Service) DeviceCodeStatus(ctx context.Context, clientID, deviceCode string) (string, error) {
	if err := s.checkDeviceClient(clientID); err != nil {
		return "", err
	}

	var row models.DeviceCode
	if err := s.db.WithContext(ctx).Where("device_code = ?", deviceCode).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "unknown", nil
		}
		return "", fmt.Errorf("loading device code: %w", err)
	}
	return row.Status, nil
}

// LookupDeviceCode returns the live grant a user code belongs to, for the
// approval page.
func (s *Service) LookupDeviceCode(ctx context.Context, userCode string) (*models.DeviceCode, error) {
	if s.deviceClientID == "" {
		return nil, ErrFeatureDisabled
	}

	var row models.DeviceCode
	err := s.db.WithContext(ctx).Where("user_code = ?", normalizeUserCode(userCode)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidUserCode
		}
		return nil, fmt.Errorf("loading device code: %w", err)
	}
	if !s.now().Before(row.ExpiresAt) {
		return nil, ErrInvalidUserCode
	}
	return &row, nil
}

func (s *Service) ApproveDevice(ctx context.Context, userID uuid.UUID, userCode string) error {
	return s.decideDevice(ctx, userID, userCode, models.DeviceStatusApproved)
}

func (s *Service) DenyDevice(ctx context.Context, userID uuid.UUID, userCode string) error {
	return s.decideDevice(ctx, userID, userCode, models.DeviceStatusDenied)
}

func (s *Service) decideDevice(ctx context.Context, userID uuid.UUID, userCode, status string) error {
	row, err := s.LookupDeviceCode(ctx, userCode)
	if err != nil {
		return err
	}
	if row.Status != models.DeviceStatusPending {
		return ErrDeviceCodeProcessed
	}

	res := s.db.WithContext(ctx).Model(&models.DeviceCode{}).
		Where("id = ? AND status = ?", row.ID, models.DeviceStatusPending).
		Updates(map[string]interface{}{"status": status, "user_id": userID})
	if res.Error != nil {
		return fmt.Errorf("updating device code: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceCodeProcessed
	}

	s.logger.Info("device authorization decided", "device_code_id", row.ID, "user_id", userID, "status", status)
	return nil
}

// DeviceToken is polled by the device. It answers with the RFC 8628 error
// codes until the user decides, then exchanges an approved code for a
// session exactly once.
func (s *Service) DeviceToken(ctx context.Context, grantType, deviceCode, clientID string, meta SessionMeta) (*DeviceToken, error) {
	if grantType != DeviceCodeGrantType {
		return nil, ErrUnsupportedGrantType
	}
	if err := s.checkDeviceClient(clientID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var row models.DeviceCode
	if err := db.Where("device_code = ?", deviceCode).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("loading device code: %w", err)
	}
	if row.ClientID != clientID {
		return nil, ErrInvalidGrant
	}

	now := s.now()
	if !now.Before(row.ExpiresAt) {
		if err := db.Delete(&row).Error; err != nil {
			return nil, fmt.Errorf("deleting device code: %w", err)
		}
		return nil, ErrExpiredDeviceCode
	}

	switch row.Status {
	case models.DeviceStatusPending:
		interval := time.Duration(row.PollInterval) * time.Millisecond
		tooSoon := row.LastPolledAt != nil && now.Sub(*row.LastPolledAt) < interval
		if err := db.Model(&row).Update("last_polled_at", now).Error; err != nil {
			return nil, fmt.Errorf("updating device code: %w", err)
		}
		if tooSoon {
			return nil, ErrSlowDown
		}
		return nil, ErrAuthorizationPending

	case models.DeviceStatusDenied:
		if err := db.Delete(&row).Error; err != nil {
			return nil, fmt.Errorf("deleting device code: %w", err)
		}
		return nil, ErrAccessDenied

	case models.DeviceStatusApproved:
		if row.UserID == nil {
			return nil, ErrInvalidGrant
		}
		// a concurrent poll may have exchanged it already
		res := db.Where("id = ?", row.ID).Delete(&models.DeviceCode{})
		if res.Error != nil {
			return nil, fmt.Errorf("deleting device code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrInvalidGrant
		}

		user, err := s.GetUser(ctx, *row.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, ErrInvalidGrant
			}
			return nil, err
		}
		resp, err := s.issueSession(ctx, user, meta)
		if err != nil {
			return nil, err
		}
		return &DeviceToken{
			AccessToken: resp.Token,
			TokenType:   "Bearer",
			ExpiresIn:   int(resp.Session.ExpiresAt.Sub(now) / time.Second),
			Scope:       row.Scope,
		}, nil
	}

	return nil, ErrInvalidGrant
}
