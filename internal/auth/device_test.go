package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const deviceClient = "cli-test"

func newDeviceService(t *testing.T) (*auth.Service, *gorm.DB) {
	t.Helper()
	return newService(t, auth.Options{DeviceClientID: deviceClient})
}

func TestService_RequestDeviceCode(t *testing.T) {
	ctx := context.Background()

	t.Run("issues codes for the configured client", func(t *testing.T) {
		svc, db := newDeviceService(t)

		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)
		assert.NotEmpty(t, da.DeviceCode)
		assert.Len(t, da.UserCode, 8)
		assert.Equal(t, "http://localhost:5173/device", da.VerificationURI)
		assert.Equal(t, "http://localhost:5173/device?user_code="+da.UserCode, da.VerificationURIComplete)
		assert.Equal(t, 7*24*60*60, da.ExpiresIn)
		assert.Equal(t, 5, da.Interval)

		var row models.DeviceCode
		require.NoError(t, db.Where("device_code = ?", da.DeviceCode).First(&row).Error)
		assert.Equal(t, auth.DefaultDeviceScope, row.Scope)
		assert.Equal(t, models.DeviceStatusPending, row.Status)
	})

	t.Run("other clients are refused", func(t *testing.T) {
		svc, _ := newDeviceService(t)
		_, err := svc.RequestDeviceCode(ctx, "someone-else", "")
		assert.ErrorIs(t, err, auth.ErrInvalidClient)
	})

	t.Run("disabled without a client id", func(t *testing.T) {
		svc, _ := newService(t, auth.Options{})
		_, err := svc.RequestDeviceCode(ctx, "", "")
		assert.ErrorIs(t, err, auth.ErrFeatureDisabled)
	})
}

func TestService_DeviceCodeStatus(t *testing.T) {
	ctx := context.Background()
	svc, db := newDeviceService(t)
	user := testutil.CreateTestUser(t, db, "Device Owner")

	da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
	require.NoError(t, err)

	status, err := svc.DeviceCodeStatus(ctx, deviceClient, da.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusPending, status)

	require.NoError(t, svc.ApproveDevice(ctx, user.ID, da.UserCode))
	status, err = svc.DeviceCodeStatus(ctx, deviceClient, da.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStatusApproved, status)

	status, err = svc.DeviceCodeStatus(ctx, deviceClient, "nope")
	require.NoError(t, err)
	assert.Equal(t, "unknown", status)

	_, err = svc.DeviceCodeStatus(ctx, "someone-else", da.DeviceCode)
	assert.ErrorIs(t, err, auth.ErrInvalidClient)
}

func TestService_DeviceToken(t *testing.T) {
	ctx := context.Background()

	t.Run("pending then approved exchanges once", func(t *testing.T) {
		svc, db := newDeviceService(t)
		user := testutil.CreateTestUser(t, db, "Approver")

		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)

		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrAuthorizationPending)

		// lower-case with a dash, as typed by a person
		typed := strings.ToLower(da.UserCode[:4] + "-" + da.UserCode[4:])
		require.NoError(t, svc.ApproveDevice(ctx, user.ID, typed))

		tok, err := svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{UserAgent: "cli/1.0"})
		require.NoError(t, err)
		assert.Equal(t, "Bearer", tok.TokenType)
		assert.Equal(t, auth.DefaultDeviceScope, tok.Scope)
		assert.Greater(t, tok.ExpiresIn, 0)

		view, err := svc.GetSession(ctx, tok.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, view.User.ID)
		assert.Equal(t, "cli/1.0", view.Session.UserAgent)

		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidGrant)
	})

	t.Run("polling too fast slows down", func(t *testing.T) {
		svc, _ := newDeviceService(t)
		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)

		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrAuthorizationPending)
		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrSlowDown)
	})

	t.Run("denied codes are dropped", func(t *testing.T) {
		svc, db := newDeviceService(t)
		user := testutil.CreateTestUser(t, db, "Denier")
		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)

		require.NoError(t, svc.DenyDevice(ctx, user.ID, da.UserCode))
		assert.ErrorIs(t, svc.ApproveDevice(ctx, user.ID, da.UserCode), auth.ErrDeviceCodeProcessed)

		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrAccessDenied)
		assert.Equal(t, int64(0), testutil.CountRows(t, db, &models.DeviceCode{}, "device_code = ?", da.DeviceCode))
	})

	t.Run("expired codes", func(t *testing.T) {
		svc, db := newDeviceService(t)
		user := testutil.CreateTestUser(t, db, "Late")
		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.DeviceCode{}).Where("device_code = ?", da.DeviceCode).
			Update("expires_at", time.Now().Add(-time.Minute)).Error)

		assert.ErrorIs(t, svc.ApproveDevice(ctx, user.ID, da.UserCode), auth.ErrInvalidUserCode)

		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrExpiredDeviceCode)
	})

	t.Run("grant type and client are checked", func(t *testing.T) {
		svc, _ := newDeviceService(t)
		da, err := svc.RequestDeviceCode(ctx, deviceClient, "")
		require.NoError(t, err)

		_, err = svc.DeviceToken(ctx, "authorization_code", da.DeviceCode, deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrUnsupportedGrantType)
		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, da.DeviceCode, "someone-else", auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidClient)
		_, err = svc.DeviceToken(ctx, auth.DeviceCodeGrantType, "unknown", deviceClient, auth.SessionMeta{})
		assert.ErrorIs(t, err, auth.ErrInvalidGrant)
	})
}
