package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/hugh/go-orgs/internal/database/models"
	"gorm.io/gorm"
)

const (
	magicLinkTTL   = 5 * time.Minute
	otpTTL         = 5 * time.Minute
	otpDigits      = 6
	otpMaxAttempts = 3
)

// One-time code purposes.
const (
	OTPSignIn            = "sign-in"
	OTPEmailVerification = "email-verification"
	OTPForgetPassword    = "forget-password"
)

func ValidOTPType(purpose string) bool {
	switch purpose {
	case OTPSignIn, OTPEmailVerification, OTPForgetPassword:
		return true
	}
	return false
}

// SendMagicLink mails a single-use sign-in link. callbackURL, when set, is
// carried through so the browser lands there after signing in.
func (s *Service) SendMagicLink(ctx context.Context, email, callbackURL string) error {
	if !s.magicLink || s.mailer == nil {
		return ErrFeatureDisabled
	}
	email = normalizeEmail(email)

	token, err := s.createVerification(ctx, "magic-link:"+email, magicLinkTTL)
	if err != nil {
		return err
	}

	link := s.siteURL + "/api/auth/magic-link/verify?token=" + url.QueryEscape(token)
	if callbackURL != "" {
		link += "&callbackURL=" + url.QueryEscape(callbackURL)
	}
	return s.mailer.SendMagicLinkEmail(ctx, email, link)
}

// VerifyMagicLink signs in the address the link was sent to, creating the
// user on first use.
func (s *Service) VerifyMagicLink(ctx context.Context, token string, meta SessionMeta) (*AuthResponse, error) {
	if !s.magicLink {
		return nil, ErrFeatureDisabled
	}

	email, err := s.consumeToken(ctx, "magic-link", token)
	if err != nil {
		return nil, err
	}

	user, err := s.passwordlessUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user, meta)
}

// passwordlessUser returns the user for an address that has just proven it
// receives mail, marking it verified. Unknown addresses get a new user
// without credentials.
func (s *Service) passwordlessUser(ctx context.Context, email string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		if !user.EmailVerified {
			if err := s.db.WithContext(ctx).Model(user).Update("email_verified", true).Error; err != nil {
				return nil, fmt.Errorf("marking email verified: %w", err)
			}
			user.EmailVerified = true
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &models.User{Email: email, Name: nameFromEmail(email), EmailVerified: true}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.GetUserByEmail(ctx, email)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	s.afterUserCreate(ctx, user)
	return user, nil
}

func nameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func otpIdentifier(purpose, email string) string {
	return "otp-" + purpose + ":" + email
}

// SendVerificationOTP mails a six digit code. Sign-in codes go to any
// address; the other purposes only reach registered users, without telling
// the caller whether the address is known.
func (s *Service) SendVerificationOTP(ctx context.Context, email, purpose string) error {
	if !s.emailOTP || s.mailer == nil {
		return ErrFeatureDisabled
	}
	if !ValidOTPType(purpose) {
		return ErrInvalidOTPType
	}
	email = normalizeEmail(email)

	if purpose != OTPSignIn {
		if _, err := s.GetUserByEmail(ctx, email); err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil
			}
			return err
		}
	}

	code, err := randomDigits(otpDigits)
	if err != nil {
		return err
	}

	// Value is unique across every token kind, so the code is stored under
	// its identifier.
	identifier := otpIdentifier(purpose, email)
	if err := s.storeVerification(ctx, identifier, identifier+":"+code, otpTTL); err != nil {
		return err
	}
	return s.mailer.SendOTPEmail(ctx, email, code, purpose)
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// checkOTP consumes a matching code. Each wrong guess counts; once
// otpMaxAttempts have failed the code is burnt.
func (s *Service) checkOTP(ctx context.Context, purpose, email, code string) error {
	db := s.db.WithContext(ctx)
	identifier := otpIdentifier(purpose, normalizeEmail(email))

	var v models.Verification
	if err := db.Where("identifier = ?", identifier).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidOTP
		}
		return fmt.Errorf("loading verification: %w", err)
	}

	if !s.now().Before(v.ExpiresAt) {
		if err := db.Delete(&v).Error; err != nil {
			return fmt.Errorf("deleting verification: %w", err)
		}
		return ErrOTPExpired
	}
	if v.Attempts >= otpMaxAttempts {
		if err := db.Delete(&v).Error; err != nil {
			return fmt.Errorf("deleting verification: %w", err)
		}
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(v.Value), []byte(identifier+":"+code)) != 1 {
		if err := db.Model(&v).Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
			return fmt.Errorf("counting attempt: %w", err)
		}
		return ErrInvalidOTP
	}

	if err := db.Delete(&v).Error; err != nil {
		return fmt.Errorf("deleting verification: %w", err)
	}
	return nil
}

// SignInEmailOTP signs in with a sign-in code, creating the user on first use.
func (s *Service) SignInEmailOTP(ctx context.Context, email, code string, meta SessionMeta) (*AuthResponse, error) {
	if !s.emailOTP {
		return nil, ErrFeatureDisabled
	}
	if err := s.checkOTP(ctx, OTPSignIn, email, code); err != nil {
		return nil, err
	}

	user, err := s.passwordlessUser(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return s.issueSession(ctx, user, meta)
}

func (s *Service) VerifyEmailOTP(ctx context.Context, email, code string) (*models.User, error) {
	if !s.emailOTP {
		return nil, ErrFeatureDisabled
	}
	if err := s.checkOTP(ctx, OTPEmailVerification, email, code); err != nil {
		return nil, err
	}

	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("email_verified", true).Error; err != nil {
		return nil, fmt.Errorf("marking email verified: %w", err)
	}
	user.EmailVerified = true
	return user, nil
}

// ResetPasswordOTP is ResetPassword with a forget-password code in place of
// the emailed link.
func (s *Service) ResetPasswordOTP(ctx context.Context, email, code, newPassword string) error {
	if !s.emailOTP {
		return ErrFeatureDisabled
	}
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if err := s.checkOTP(ctx, OTPForgetPassword, email, code); err != nil {
		return err
	}

	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, user.ID, newPassword)
}
