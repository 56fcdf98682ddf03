package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deviceClient = "cli-test"

func TestAuthHandler_DeviceFlow(t *testing.T) {
	e := newEnv(t, withAuthOptions(auth.Options{DeviceClientID: deviceClient}, mountAuth))

	// devices post form-encoded bodies
	form := url.Values{"client_id": {deviceClient}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/device/code", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := e.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	var da auth.DeviceAuthorization
	testutil.ParseJSONResponse(t, rr, &da)
	assert.Equal(t, siteURL+"/device", da.VerificationURI)

	poll := func() *httptest.ResponseRecorder {
		return e.do(testutil.UnauthenticatedRequest(t, http.MethodPost, "/api/auth/device/token", map[string]string{
			"grant_type":  auth.DeviceCodeGrantType,
			"device_code": da.DeviceCode,
			"client_id":   deviceClient,
		}))
	}

	rr = poll()
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	var pending dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &pending)
	assert.Equal(t, "authorization_pending", pending.Error)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/auth/device?user_code="+da.UserCode, nil, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var lookup dto.DeviceLookupResponse
	testutil.ParseJSONResponse(t, rr, &lookup)
	assert.Equal(t, auth.DefaultDeviceScope, lookup.Scope)
	assert.Equal(t, models.DeviceStatusPending, lookup.Status)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/auth/device/approve", map[string]string{"userCode": da.UserCode}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = e.do(testutil.UnauthenticatedRequest(t, http.MethodGet,
		"/api/auth/device/status?client_id="+deviceClient+"&device_code="+url.QueryEscape(da.DeviceCode), nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var status dto.DeviceStatusResponse
	testutil.ParseJSONResponse(t, rr, &status)
	assert.Equal(t, models.DeviceStatusApproved, status.Status)

	rr = poll()
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	var tok auth.DeviceToken
	testutil.ParseJSONResponse(t, rr, &tok)
	require.NotEmpty(t, tok.AccessToken)

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodGet, "/api/auth/get-session", nil, tok.AccessToken))
	testutil.AssertStatus(t, rr, http.StatusOK)
	var session dto.SessionResponse
	testutil.ParseJSONResponse(t, rr, &session)
	require.NotNil(t, session.User)
	assert.Equal(t, e.User.ID, session.User.ID)
}

func TestAuthHandler_DeviceCode_WrongClient(t *testing.T) {
	e := newEnv(t, withAuthOptions(auth.Options{DeviceClientID: deviceClient}, mountAuth))

	rr := e.do(testutil.UnauthenticatedRequest(t, http.MethodPost, "/api/auth/device/code", map[string]string{"client_id": "other"}))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	var resp dto.ErrorResponse
	testutil.ParseJSONResponse(t, rr, &resp)
	assert.Equal(t, "Invalid client_id", resp.Error)
}

func TestAuthHandler_DeviceApprove_RequiresSession(t *testing.T) {
	e := newEnv(t, withAuthOptions(auth.Options{DeviceClientID: deviceClient}, mountAuth))

	rr := e.do(testutil.UnauthenticatedRequest(t, http.MethodPost, "/api/auth/device/approve", map[string]string{"userCode": "ABCDEFGH"}))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
}

func TestAuthHandler_APIKeys(t *testing.T) {
	e := newEnv(t, withAuthOptions(auth.Options{APIKeys: true}, mountAuth))

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/auth/api-key/create", map[string]interface{}{"name": "ci", "expiresIn": 3600}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	var created struct {
		ID    string `json:"id"`
		Key   string `json:"key"`
		Start string `json:"start"`
	}
	testutil.ParseJSONResponse(t, rr, &created)
	require.NotEmpty(t, created.Key)
	assert.True(t, strings.HasPrefix(created.Key, created.Start))

	// the key alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/api/auth/api-key/list", nil)
	req.Header.Set(middleware.APIKeyHeader, created.Key)
	rr = e.do(req)
	testutil.AssertStatus(t, rr, http.StatusOK)
	var keys []map[string]interface{}
	testutil.ParseJSONResponse(t, rr, &keys)
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "key")

	rr = e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/auth/api-key/delete", map[string]string{"keyId": created.ID}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/api-key/list", nil)
	req.Header.Set(middleware.APIKeyHeader, created.Key)
	testutil.AssertStatus(t, e.do(req), http.StatusUnauthorized)
}

func TestAuthHandler_APIKeys_Disabled(t *testing.T) {
	e := newEnv(t, mountAuth)

	rr := e.do(testutil.AuthenticatedRequest(t, http.MethodPost, "/api/auth/api-key/create", map[string]string{"name": "ci"}, e.Token))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}
