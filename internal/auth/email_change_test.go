package auth_test

import (
	"context"
	"testing"

	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ChangeEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("verified address approves the change", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer})
		user := testutil.CreateTestUser(t, db, "Mover")
		oldEmail := user.Email

		unchanged, err := svc.ChangeEmail(ctx, user.ID, " Moved@Example.com ", "/settings")
		require.NoError(t, err)
		assert.Equal(t, oldEmail, unchanged.Email)
		assert.Equal(t, oldEmail, testutil.ReloadUser(t, db, user.ID).Email)

		require.Len(t, mailer.changes, 1)
		assert.Equal(t, oldEmail, mailer.changes[0].To)
		assert.Equal(t, "moved@example.com", mailer.changes[0].NewEmail)
		assert.Contains(t, mailer.changes[0].Link, "http://localhost:5173/api/auth/change-email/verify?token=")

		moved, err := svc.ConfirmEmailChange(ctx, tokenFromLink(t, mailer.changes[0].Link))
		require.NoError(t, err)
		assert.Equal(t, "moved@example.com", moved.Email)
		assert.False(t, moved.EmailVerified)

		reloaded := testutil.ReloadUser(t, db, user.ID)
		assert.Equal(t, "moved@example.com", reloaded.Email)
		assert.False(t, reloaded.EmailVerified)

		// the new address is asked to verify itself
		require.Len(t, mailer.verify, 1)

		_, err = svc.SignInEmail(ctx, auth.SignInInput{Email: "moved@example.com", Password: testutil.TestPassword})
		assert.NoError(t, err)
	})

	t.Run("unverified address changes at once", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer})
		user := &models.User{Email: "fresh@example.com", Name: "Fresh"}
		require.NoError(t, db.Create(user).Error)

		moved, err := svc.ChangeEmail(ctx, user.ID, "fresher@example.com", "")
		require.NoError(t, err)
		assert.Equal(t, "fresher@example.com", moved.Email)
		assert.Empty(t, mailer.changes)
		assert.Len(t, mailer.verify, 1)
	})

	t.Run("taken and unchanged addresses are refused", func(t *testing.T) {
		svc, db := newService(t, auth.Options{Mailer: &recordingMailer{}})
		user := testutil.CreateTestUser(t, db, "One")
		other := testutil.CreateTestUser(t, db, "Two")

		_, err := svc.ChangeEmail(ctx, user.ID, other.Email, "")
		assert.ErrorIs(t, err, auth.ErrUserExists)

		_, err = svc.ChangeEmail(ctx, user.ID, user.Email, "")
		assert.ErrorIs(t, err, auth.ErrEmailUnchanged)
	})

	t.Run("address taken before confirmation", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer})
		user := testutil.CreateTestUser(t, db, "Slow")

		_, err := svc.ChangeEmail(ctx, user.ID, "race@example.com", "")
		require.NoError(t, err)
		require.NoError(t, db.Create(&models.User{Email: "race@example.com", Name: "Fast"}).Error)

		_, err = svc.ConfirmEmailChange(ctx, tokenFromLink(t, mailer.changes[0].Link))
		assert.ErrorIs(t, err, auth.ErrUserExists)
	})

	t.Run("a newer request replaces the older link", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer})
		user := testutil.CreateTestUser(t, db, "Indecisive")

		_, err := svc.ChangeEmail(ctx, user.ID, "first@example.com", "")
		require.NoError(t, err)
		_, err = svc.ChangeEmail(ctx, user.ID, "second@example.com", "")
		require.NoError(t, err)

		_, err = svc.ConfirmEmailChange(ctx, tokenFromLink(t, mailer.changes[0].Link))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)

		moved, err := svc.ConfirmEmailChange(ctx, tokenFromLink(t, mailer.changes[1].Link))
		require.NoError(t, err)
		assert.Equal(t, "second@example.com", moved.Email)
	})

	t.Run("email verification tokens are not change tokens", func(t *testing.T) {
		mailer := &recordingMailer{}
		svc, db := newService(t, auth.Options{Mailer: mailer})
		user := &models.User{Email: "mixed@example.com", Name: "Mixed"}
		require.NoError(t, db.Create(user).Error)

		require.NoError(t, svc.SendVerificationEmail(ctx, user))
		_, err := svc.ConfirmEmailChange(ctx, tokenFromLink(t, mailer.verify[0]))
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}
