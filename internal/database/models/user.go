package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	Base
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`
	Image         string `json:"image,omitempty"`
	// ImageID is the storage key of the avatar blob; the user owns it.
	ImageID              string     `json:"image_id,omitempty"`
	ActiveOrganizationID *uuid.UUID `gorm:"type:uuid" json:"active_organization_id,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Account provider ids.
const (
	ProviderCredential = "credential"
	ProviderGithub     = "github"
	ProviderGoogle     = "google"
)

// Account links a user to a way of signing in.
type Account struct {
	Base
	UserID       uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ProviderID   string    `gorm:"not null;uniqueIndex:idx_account_provider" json:"provider_id"`
	AccountID    string    `gorm:"not null;uniqueIndex:idx_account_provider" json:"account_id"`
	PasswordHash string    `json:"-"`
	AccessToken  string    `json:"-"` // age-sealed
	RefreshToken string    `json:"-"` // age-sealed
	Scope        string    `json:"scope,omitempty"`
}

func (Account) TableName() string {
	return "accounts"
}

type Session struct {
	Base
	UserID               uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt            time.Time  `gorm:"index;not null" json:"expires_at"`
	IPAddress            string     `json:"ip_address,omitempty"`
	UserAgent            string     `json:"user_agent,omitempty"`
	ActiveOrganizationID *uuid.UUID `gorm:"type:uuid" json:"active_organization_id,omitempty"`
}

func (Session) TableName() string {
	return "sessions"
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Verification holds one-time tokens: email verification, password resets,
// email changes, magic links and one-time codes. Attempts counts wrong
// guesses against a one-time code.
type Verification struct {
	Base
	Identifier string    `gorm:"index;not null" json:"identifier"`
	Value      string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
	Attempts   int       `gorm:"not null;default:0" json:"-"`
}

func (Verification) TableName() string {
	return "verifications"
}

// Device code statuses.
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusDenied   = "denied"
)

// DeviceCode is one device authorization grant. The device polls with
// DeviceCode; the signed-in user approves it by typing UserCode.
type DeviceCode struct {
	Base
	DeviceCode   string     `gorm:"uniqueIndex;not null" json:"-"`
	UserCode     string     `gorm:"uniqueIndex;not null" json:"user_code"`
	ClientID     string     `gorm:"not null" json:"client_id"`
	Scope        string     `json:"scope,omitempty"`
	Status       string     `gorm:"not null;default:pending" json:"status"`
	UserID       *uuid.UUID `gorm:"type:uuid" json:"user_id,omitempty"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	PollInterval int        `gorm:"not null" json:"poll_interval"`
}

func (DeviceCode) TableName() string {
	return "device_codes"
}

// APIKey authenticates scripts on behalf of a user. Only the SHA-256 of the
// key is stored; Start keeps the first characters for display.
type APIKey struct {
	Base
	UserID     uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	Name       string     `json:"name"`
	Start      string     `json:"start"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	Enabled    bool       `gorm:"not null;default:true" json:"enabled"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (APIKey) TableName() string {
	return "api_keys"
}
