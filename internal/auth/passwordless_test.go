package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_MagicLink(t *testing.T) {
	ctx := context.Background()

	t.Run("first use creates a verified user", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer, MagicLink: true})

		var created []string
		svc.SetHooks(auth.Hooks{OnUserCreate: func(ctx context.Context, user *models.User) error {
			created = append(created, user.Email)
			return nil
		}})

		require.NoError(t, svc.SendMagicLink(ctx, " Link@Example.com", "/dashboard"))
		require.Len(t, mailer.magic, 1)
		assert.Contains(t, mailer.magic[0], "http://localhost:5173/api/auth/magic-link/verify?token=")
		assert.Contains(t, mailer.magic[0], "callbackURL=%2Fdashboard")

		resp, err := svc.VerifyMagicLink(ctx, tokenFromLink(t, mailer.magic[0]), auth.SessionMeta{})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "link@example.com", resp.User.Email)
		assert.Equal(t, "link", resp.User.Name)
		assert.True(t, resp.User.EmailVerified)
		assert.Equal(t, []string{"link@example.com"}, created)
		assert.Equal(t, int64(0), testutil.CountRows(t, db, &models.Account{}, "user_id = ?", resp.User.ID))

		_, err = svc.VerifyMagicLink(ctx, tokenFromLink(t, mailer.magic[0]), auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("existing user gets verified", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer, MagicLink: true})
		user := &models.User{Email: "known@example.com", Name: "Known"}
		require.NoError(t, db.Create(user).Error)

		require.NoError(t, svc.SendMagicLink(ctx, user.Email, ""))
		resp, err := svc.VerifyMagicLink(ctx, tokenFromLink(t, mailer.magic[0]), auth.SessionMeta{})
		require.NoError(t, err)
		assert.Equal(t, user.ID, resp.User.ID)
		assert.True(t, testutil.ReloadUser(t, db, user.ID).EmailVerified)
	})

	t.Run("only the latest link works", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, _ := newService(t, auth.Options{Mailer: mailer, MagicLink: true})

		require.NoError(t, svc.SendMagicLink(ctx, "twice@example.com", ""))
		require.NoError(t, svc.SendMagicLink(ctx, "twice@example.com", ""))

		_, err := svc.VerifyMagicLink(ctx, tokenFromLink(t, mailer.magic[0]), auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		_, err = svc.VerifyMagicLink(ctx, tokenFromLink(t, mailer.magic[1]), auth.SessionMeta{})
		assert.NoError(t, err)
	})

	t.Run("disabled", func(t *testing.T) {
		svc, _ := newService(t, auth.Options{Mailer: &recordingMailer{}})
		assert.ErrorIs(t, svc.SendMagicLink(ctx, "off@example.com", ""), auth.ErrFeatureDisabled)
	})
}

func TestService_EmailOTP(t *testing.T) {
	ctx := context.Background()

	newOTPService := func(t *testing.T) (*auth.Service, *recordingMailer) {
		mailer := &recordingMailer{}
		svc, _ := newService(t, auth.Options{Mailer: mailer, EmailOTP: true})
		return svc, mailer
	}

	t.Run("sign in with a code", func(t *testing.T) {
		svc, mailer := newOTPService(t)

		require.NoError(t, svc.SendVerificationOTP(ctx, "code@example.com", auth.OTPSignIn))
		code := mailer.lastCode(t)
		assert.Regexp(t, `^\d{6}$`, code)

		resp, err := svc.SignInEmailOTP(ctx, "Code@Example.com", code, auth.SessionMeta{})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.True(t, resp.User.EmailVerified)

		_, err = svc.SignInEmailOTP(ctx, "code@example.com", code, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidOTP)
	})

	t.Run("three wrong guesses burn the code", func(t *testing.T) {
		svc, mailer := newOTPService(t)

		require.NoError(t, svc.SendVerificationOTP(ctx, "guess@example.com", auth.OTPSignIn))
		code := mailer.lastCode(t)
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}

		for i := 0; i < 3; i++ {
			_, err := svc.SignInEmailOTP(ctx, "guess@example.com", wrong, auth.SessionMeta{})
			assert.ErrorIs(t, err, auth.ErrInvalidOTP)
		}
		_, err := svc.SignInEmailOTP(ctx, "guess@example.com", code, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrTooManyAttempts)
		_, err = svc.SignInEmailOTP(ctx, "guess@example.com", code, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidOTP)
	})

	t.Run("expired code", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer, EmailOTP: true})

		require.NoError(t, svc.SendVerificationOTP(ctx, "late@example.com", auth.OTPSignIn))
		require.NoError(t, db.Model(&models.Verification{}).Where("identifier = ?", "otp-sign-in:late@example.com").
			Update("expires_at", time.Now().Add(-time.Second)).Error)

		_, err := svc.SignInEmailOTP(ctx, "late@example.com", mailer.lastCode(t), auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrOTPExpired)
	})

	t.Run("codes are scoped to their purpose", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer, EmailOTP: true})
		user := &models.User{Email: "scoped@example.com", Name: "Scoped"}
		require.NoError(t, db.Create(user).Error)

		require.NoError(t, svc.SendVerificationOTP(ctx, user.Email, auth.OTPEmailVerification))
		code := mailer.lastCode(t)

		_, err := svc.SignInEmailOTP(ctx, user.Email, code, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidOTP)

		verified, err := svc.VerifyEmailOTP(ctx, user.Email, code)
		require.NoError(t, err)
		assert.True(t, verified.EmailVerified)
		assert.True(t, testutil.ReloadUser(t, db, user.ID).EmailVerified)
	})

	t.Run("reset password with a code", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer, EmailOTP: true})
		user := testutil.CreateTestUser(t, db, "Forgetful")
		session := testutil.CreateTestSession(t, db, user, nil)

		require.NoError(t, svc.SendVerificationOTP(ctx, user.Email, auth.OTPForgetPassword))
		code := mailer.lastCode(t)

		assert.ErrorIs(t, svc.ResetPasswordOTP(ctx, user.Email, code, "short"), auth.ErrPasswordTooShort)
		require.NoError(t, svc.ResetPasswordOTP(ctx, user.Email, code, "otp-new-password"))
		assert.Equal(t, int64(0), testutil.CountRows(t, db, &models.Session{}, "id = ?", session.ID))

		_, err := svc.SignInEmail(ctx, auth.SignInInput{Email: user.Email, Password: "otp-new-password"})
		assert.NoError(t, err)
	})

	t.Run("unknown address gets no reset code", func(t *testing.T) {
		svc, mailer := newOTPService(t)
		require.NoError(t, svc.SendVerificationOTP(ctx, "ghost@example.com", auth.OTPForgetPassword))
		assert.Empty(t, mailer.codes)
	})

	t.Run("invalid purpose", func(t *testing.T) {
		svc, _ := newOTPService(t)
		assert.ErrorIs(t, svc.SendVerificationOTP(ctx, "x@example.com", "login"), auth.ErrInvalidOTPType)
	})
}
