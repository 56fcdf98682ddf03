package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/pkg/crypto"
	"gorm.io/gorm"
)

const (
	verificationTTL  = 24 * time.Hour
	passwordResetTTL = time.Hour
	invitationTTL    = 48 * time.Hour
)

// Hooks run on user and session lifecycle events. They let packages that
// depend on auth (organizations, storage) react without an import cycle.
type Hooks struct {
	// OnUserCreate errors are logged; the user is kept.
	OnUserCreate func(ctx context.Context, user *models.User) error
	// OnUserDelete runs before any row is removed; an error aborts the deletion.
	OnUserDelete    func(ctx context.Context, user *models.User) error
	OnSessionCreate func(ctx context.Context, session *models.Session) error
}

// Mailer delivers the emails the auth flows need. A nil Mailer disables them.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, link string) error
	SendResetPasswordEmail(ctx context.Context, to, name, link string) error
	SendInvitationEmail(ctx context.Context, inv InvitationEmail) error
	// SendChangeEmailVerification goes to the current address and carries
	// the link that moves the account to newEmail.
	SendChangeEmailVerification(ctx context.Context, to, name, newEmail, link string) error
	SendMagicLinkEmail(ctx context.Context, to, link string) error
	SendOTPEmail(ctx context.Context, to, code, purpose string) error
}

type InvitationEmail struct {
	To               string
	InviterName      string
	InviterEmail     string
	OrganizationName string
	Role             string
	Link             string
}

type Options struct {
	Cache                    *SessionCache
	Encryptor                *crypto.Encryptor
	Logger                   *slog.Logger
	Mailer                   Mailer
	SiteURL                  string
	RequireEmailVerification bool

	// MagicLink and EmailOTP need a Mailer to do anything useful.
	MagicLink bool
	EmailOTP  bool
	APIKeys   bool
	// DeviceClientID is the only client allowed to start a device
	// authorization. Empty disables the flow.
	DeviceClientID string
}

type Service struct {
	db        *gorm.DB
	jwt       *JWTService
	cache     *SessionCache
	encryptor *crypto.Encryptor
	logger    *slog.Logger
	mailer    Mailer
	hooks     Hooks
	providers map[string]*SocialProvider

	siteURL             string
	requireVerification bool
	magicLink           bool
	emailOTP            bool
	apiKeys             bool
	deviceClientID      string
	now                 func() time.Time
}

func NewService(db *gorm.DB, jwt *JWTService, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:                  db,
		jwt:                 jwt,
		cache:               opts.Cache,
		encryptor:           opts.Encryptor,
		logger:              logger,
		mailer:              opts.Mailer,
		providers:           make(map[string]*SocialProvider),
		siteURL:             strings.TrimRight(opts.SiteURL, "/"),
		requireVerification: opts.RequireEmailVerification,
		magicLink:           opts.MagicLink,
		emailOTP:            opts.EmailOTP,
		apiKeys:             opts.APIKeys,
		deviceClientID:      opts.DeviceClientID,
		now:                 time.Now,
	}
}

func (s *Service) SetHooks(h Hooks) {
	s.hooks = h
}

func (s *Service) SetMailer(m Mailer) {
	s.mailer = m
}

// SessionMeta describes the client a session is issued to.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

type SignUpInput struct {
	Email    string
	Password string
	Name     string
	SessionMeta
}

type SignInInput struct {
	Email    string
	Password string
	SessionMeta
}

// AuthResponse carries a session token. Token is empty when the user must
// verify their email before signing in.
type AuthResponse struct {
	Token   string          `json:"token,omitempty"`
	User    *models.User    `json:"user"`
	Session *models.Session `json:"session,omitempty"`
}

// SessionView is a live session together with its user.
type SessionView struct {
	Session *models.Session
	User    *models.User
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) SignUpEmail(ctx context.Context, input SignUpInput) (*AuthResponse, error) {
	email := normalizeEmail(input.Email)
	if len(input.Password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking existing user: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := models.User{Email: email, Name: strings.TrimSpace(input.Name)}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUserExists
			}
			return err
		}
		return tx.Create(&models.Account{
			UserID:       user.ID,
			ProviderID:   models.ProviderCredential,
			AccountID:    user.ID.String(),
			PasswordHash: hash,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.afterUserCreate(ctx, &user)

	if s.mailer != nil {
		if err := s.SendVerificationEmail(ctx, &user); err != nil {
			s.logger.Error("sending verification email", "user_id", user.ID, "error", err)
		}
	}

	if s.requireVerification {
		return &AuthResponse{User: &user}, nil
	}

	return s.issueSession(ctx, &user, input.SessionMeta)
}

func (s *Service) SignInEmail(ctx context.Context, input SignInInput) (*AuthResponse, error) {
	user, err := s.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	var account models.Account
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ?", user.ID, models.ProviderCredential).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading credential account: %w", err)
	}

	if !CheckPassword(input.Password, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if s.requireVerification && !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return s.issueSession(ctx, user, input.SessionMeta)
}

// issueSession creates a session row, runs OnSessionCreate and signs a token.
func (s *Service) issueSession(ctx context.Context, user *models.User, meta SessionMeta) (*AuthResponse, error) {
	session := models.Session{
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.jwt.Expiry()),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	if s.hooks.OnSessionCreate != nil {
		if err := s.hooks.OnSessionCreate(ctx, &session); err != nil {
			s.logger.Error("session create hook failed", "session_id", session.ID, "error", err)
		}
		// the hook may have picked an active organization
		if err := s.db.WithContext(ctx).First(&session, "id = ?", session.ID).Error; err != nil {
			return nil, fmt.Errorf("reloading session: %w", err)
		}
	}

	token, err := s.jwt.GenerateToken(session.ID, user.ID, user.Email, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	return &AuthResponse{Token: token, User: user, Session: &session}, nil
}

func (s *Service) afterUserCreate(ctx context.Context, user *models.User) {
	if s.hooks.OnUserCreate == nil {
		return
	}
	if err := s.hooks.OnUserCreate(ctx, user); err != nil {
		s.logger.Error("user create hook failed", "user_id", user.ID, "error", err)
	}
}

// GetSession resolves a session token to a live session and its user.
func (s *Service) GetSession(ctx context.Context, token string) (*SessionView, error) {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return nil, ErrInvalidSession
	}

	session, err := s.loadSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID || session.Expired(s.now()) {
		return nil, ErrInvalidSession
	}

	user, err := s.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	return &SessionView{Session: session, User: user}, nil
}

func (s *Service) loadSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if session, ok := s.cache.Get(ctx, id); ok {
		return session, nil
	}

	var session models.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	s.cache.Set(ctx, &session)
	return &session, nil
}

func (s *Service) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	s.cache.Invalidate(ctx, sessionID)
	return nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

// UserUpdate lists the user fields that may change. Nil pointers are left
// untouched; ClearActiveOrganization wins over ActiveOrganizationID.
type UserUpdate struct {
	Name                    *string
	Image                   *string
	ImageID                 *string
	ActiveOrganizationID    *uuid.UUID
	ClearActiveOrganization bool
}

func (s *Service) UpdateUser(ctx context.Context, userID uuid.UUID, upd UserUpdate) (*models.User, error) {
	fields := map[string]interface{}{}
	if upd.Name != nil {
		fields["name"] = strings.TrimSpace(*upd.Name)
	}
	if upd.Image != nil {
		fields["image"] = *upd.Image
	}
	if upd.ImageID != nil {
		fields["image_id"] = *upd.ImageID
	}
	switch {
	case upd.ClearActiveOrganization:
		fields["active_organization_id"] = nil
	case upd.ActiveOrganizationID != nil:
		fields["active_organization_id"] = *upd.ActiveOrganizationID
	}

	if len(fields) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
		if res.Error != nil {
			return nil, fmt.Errorf("updating user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrUserNotFound
		}
	}

	return s.GetUser(ctx, userID)
}

// BlobReferenced reports whether an organization logo or a user avatar
// already points at the storage id.
func (s *Service) BlobReferenced(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Organization{}).Where("logo_id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking organization logos: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("image_id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking user avatars: %w", err)
	}
	return n > 0, nil
}

func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	var accounts []models.Account
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

func (s *Service) HasPassword(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ? AND provider_id = ?", userID, models.ProviderCredential).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking credential account: %w", err)
	}
	return count > 0, nil
}

// SetPassword adds a credential account to a user who signed up through a
// social provider.
func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	has, err := s.HasPassword(ctx, userID)
	if err != nil {
		return err
	}
	if has {
		return ErrPasswordAlreadySet
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	return s.db.WithContext(ctx).Create(&models.Account{
		UserID:       userID,
		ProviderID:   models.ProviderCredential,
		AccountID:    userID.String(),
		PasswordHash: hash,
	}).Error
}

// VerifyPassword succeeds for users without a credential account.
func (s *Service) VerifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	var account models.Account
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ?", userID, models.ProviderCredential).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading credential account: %w", err)
	}
	if !CheckPassword(password, account.PasswordHash) {
		return ErrInvalidCredentials
	}
	return nil
}

// DeleteUser runs OnUserDelete and then removes the user with its sessions,
// accounts, api keys and pending tokens.
func (s *Service) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if s.hooks.OnUserDelete != nil {
		if err := s.hooks.OnUserDelete(ctx, user); err != nil {
			return err
		}
	}

	var sessionIDs []uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).Where("user_id = ?", userID).Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Account{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.DeviceCode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("identifier LIKE ? OR identifier LIKE ? OR identifier LIKE ?",
			"%:"+userID.String(), "change-email:"+userID.String()+":%", "%:"+user.Email).
			Delete(&models.Verification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", userID).Error
	})
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	s.cache.Invalidate(ctx, sessionIDs...)
	s.logger.Info("user deleted", "user_id", userID)
	return nil
}

func (s *Service) createVerification(ctx context.Context, identifier string, ttl time.Duration) (string, error) {
	token, err := crypto.GenerateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.storeVerification(ctx, identifier, token, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// storeVerification replaces any earlier token for identifier.
func (s *Service) storeVerification(ctx context.Context, identifier, value string, ttl time.Duration) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identifier = ?", identifier).Delete(&models.Verification{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Verification{
			Identifier: identifier,
			Value:      value,
			ExpiresAt:  s.now().Add(ttl),
		}).Error
	})
	if err != nil {
		return fmt.Errorf("storing verification: %w", err)
	}
	return nil
}

// consumeVerification deletes the token and returns the user id it was
// issued for.
func (s *Service) consumeVerification(ctx context.Context, prefix, token string) (uuid.UUID, error) {
	subject, err := s.consumeToken(ctx, prefix, token)
	if err != nil {
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return userID, nil
}

// consumeToken deletes the token and returns its identifier without the
// "prefix:" part. Tokens issued for another flow or past their expiry are
// rejected after deletion.
func (s *Service) consumeToken(ctx context.Context, prefix, token string) (string, error) {
	var v models.Verification
	if err := s.db.WithContext(ctx).Where("value = ?", token).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("loading verification: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&v).Error; err != nil {
		return "", fmt.Errorf("deleting verification: %w", err)
	}

	if !strings.HasPrefix(v.Identifier, prefix+":") || !s.now().Before(v.ExpiresAt) {
		return "", ErrInvalidToken
	}
	return strings.TrimPrefix(v.Identifier, prefix+":"), nil
}

func (s *Service) SendVerificationEmail(ctx context.Context, user *models.User) error {
	if s.mailer == nil || user.EmailVerified {
		return nil
	}

	token, err := s.createVerification(ctx, "verify:"+user.ID.String(), verificationTTL)
	if err != nil {
		return err
	}

	link := s.siteURL + "/api/auth/verify-email?token=" + url.QueryEscape(token)
	return s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, link)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.consumeVerification(ctx, "verify", token)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("email_verified", true).Error; err != nil {
		return nil, fmt.Errorf("marking email verified: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// RequestPasswordReset never reveals whether the email is registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if s.mailer == nil {
		return nil
	}

	token, err := s.createVerification(ctx, "reset:"+user.ID.String(), passwordResetTTL)
	if err != nil {
		return err
	}

	if redirectTo == "" {
		redirectTo = s.siteURL + "/reset-password"
	}
	link := redirectTo + "?token=" + url.QueryEscape(token)
	return s.mailer.SendResetPasswordEmail(ctx, user.Email, user.Name, link)
}

// ResetPassword replaces the credential password and revokes every session.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	userID, err := s.consumeVerification(ctx, "reset", token)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, userID, newPassword)
}

// replacePassword sets the credential password, creating the credential
// account if needed, and signs the user out everywhere.
func (s *Service) replacePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	var sessionIDs []uuid.UUID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("user_id = ? AND provider_id = ?", userID, models.ProviderCredential).
			Update("password_hash", hash)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&models.Account{
				UserID:       userID,
				ProviderID:   models.ProviderCredential,
				AccountID:    userID.String(),
				PasswordHash: hash,
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Session{}).Where("user_id = ?", userID).Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.Session{}).Error
	})
	if err != nil {
		return fmt.Errorf("resetting password: %w", err)
	}

	s.cache.Invalidate(ctx, sessionIDs...)
	return nil
}

// PurgeExpired removes sessions, verification tokens and device codes past
// their expiry. Device codes are counted with verifications.
func (s *Service) PurgeExpired(ctx context.Context) (sessions, verifications int64, err error) {
	now := s.now()

	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.Session{})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("purging sessions: %w", res.Error)
	}
	sessions = res.RowsAffected

	res = s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.Verification{})
	if res.Error != nil {
		return sessions, 0, fmt.Errorf("purging verifications: %w", res.Error)
	}
	verifications = res.RowsAffected

	res = s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.DeviceCode{})
	if res.Error != nil {
		return sessions, verifications, fmt.Errorf("purging device codes: %w", res.Error)
	}
	return sessions, verifications + res.RowsAffected, nil
}
