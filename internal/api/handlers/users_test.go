package handlers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersHandler_Me(t *testing.T) {
	e := newEnv(t, mountUsers)

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/users/me", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var user models.User
	testutil.ParseJSONResponse(t, rr, &user)
	assert.Equal(t, e.User.ID, user.ID)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/users/me/accounts", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var accounts []models.Account
	testutil.ParseJSONResponse(t, rr, &accounts)
	require.Len(t, accounts, 1)
	assert.Equal(t, models.ProviderCredential, accounts[0].ProviderID)
	assert.NotContains(t, rr.Body.String(), "password")
}

func TestUsersHandler_Exists(t *testing.T) {
	e := newEnv(t, mountUsers)

	tests := []struct {
		name   string
		email  string
		status int
		exists bool
	}{
		{name: "registered", email: e.User.Email, status: http.StatusOK, exists: true},
		{name: "registered different case", email: strings.ToUpper(e.User.Email), status: http.StatusOK, exists: true},
		{name: "unknown", email: "ghost@example.com", status: http.StatusOK},
		{name: "invalid", email: "not-an-email", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(testutil.UnauthenticatedRequest(t, http.MethodGet, "/api/v1/users/exists?email="+tt.email, nil))
			testutil.AssertStatus(t, rr, tt.status)
			if tt.status != http.StatusOK {
				return
			}

			var resp dto.UserExistsResponse
			testutil.ParseJSONResponse(t, rr, &resp)
			assert.Equal(t, tt.exists, resp.Exists)
		})
	}
}

func TestUsersHandler_UpdateAvatar(t *testing.T) {
	e := newEnv(t, mountUsers)

	first := e.PutBlob(t)
	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPut, "/api/v1/users/me/avatar",
		map[string]interface{}{"storageId": first}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp dto.URLResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "http://files.test/"+first, resp.URL)

	second := e.PutBlob(t)
	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPut, "/api/v1/users/me/avatar",
		map[string]interface{}{"storageId": second}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.False(t, e.Storage.Exists(first), "previous avatar is deleted")
	assert.Equal(t, second, testutil.ReloadUser(t, e.DB, e.User.ID).ImageID)

	t.Run("unknown blob", func(t *testing.T) {
		rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPut, "/api/v1/users/me/avatar",
			map[string]interface{}{"storageId": "missing"}, e.Token))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)

		var resp dto.ErrorResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "Failed to get image URL", resp.Error)
	})
}

func TestUsersHandler_SetPassword(t *testing.T) {
	e := newEnv(t, mountUsers)

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/users/me/password",
		map[string]interface{}{"newPassword": "short"}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/users/me/password",
		map[string]interface{}{"newPassword": "longenough123"}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	var resp dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Contains(t, resp.Error, "User already has a password")
}

func TestUsersHandler_Delete(t *testing.T) {
	e := newEnv(t, mountUsers)

	t.Run("password required", func(t *testing.T) {
		rr := e.do(testutil.AuthenticatedRequest(t, http.MethodDelete, "/api/v1/users/me", nil, e.Token))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := e.do(testutil.AuthenticatedRequest(t, http.MethodDelete, "/api/v1/users/me",
			map[string]interface{}{"password": "wrong-password"}, e.Token))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodDelete, "/api/v1/users/me",
		map[string]interface{}{"password": testutil.TestPassword}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	assert.Equal(t, int64(0), testutil.CountRows(t, e.DB, &models.User{}, "id = ?", e.User.ID))
	assert.Equal(t, int64(0), testutil.CountRows(t, e.DB, &models.Organization{}, "id = ?", e.Org.ID),
		"sole-member organization goes with the user")

	cookie := sessionCookie(t, rr.Header())
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestStorageHandler_UploadURL(t *testing.T) {
	e := newEnv(t, mountUsers)

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/storage/upload-url", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var target storage.UploadTarget
	testutil.ParseJSONResponse(t, rr, &target)
	assert.NotEmpty(t, target.StorageID)
	assert.Equal(t, "http://files.test/upload/"+target.StorageID, target.UploadURL)

	rr = e.do(testutil.UnauthenticatedRequest(t, http.MethodPost, "/api/v1/storage/upload-url", nil))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestBootstrapHandler(t *testing.T) {
	e := newEnv(t, mountUsers)
	testutil.CreateTestInvitation(t, e.DB, e.Org, e.User, "pending@example.com")

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/bootstrap", nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp dto.BootstrapResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	require.NotNil(t, resp.User)
	assert.Equal(t, e.User.ID, resp.User.ID)
	assert.Len(t, resp.Accounts, 1)
	require.NotNil(t, resp.ActiveOrganization)
	assert.Equal(t, e.Org.ID, resp.ActiveOrganization.ID)
	assert.Len(t, resp.Organizations, 1)
	assert.Len(t, resp.Invitations, 1)
	require.NotNil(t, resp.Role)
	assert.Equal(t, models.RoleOwner, *resp.Role)
	assert.True(t, resp.Permissions.IsOwner)
	assert.True(t, resp.Permissions.CanManageBilling)
}

func TestBootstrapHandler_NoOrganization(t *testing.T) {
	e := newEnv(t, mountUsers)
	_, token := e.newUser(t, nil, "")

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/bootstrap", nil, token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var resp dto.BootstrapResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Nil(t, resp.ActiveOrganization)
	assert.Nil(t, resp.Role)
	assert.False(t, resp.Permissions.CanManageOrganization)
	assert.Empty(t, resp.Organizations)
	assert.Empty(t, resp.Invitations)
}
