package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/billing"
	"github.com/hugh/go-orgs/internal/mail"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/internal/users"
	"github.com/hugh/go-orgs/pkg/config"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, rateLimit int) (*Router, *testutil.TestSetup) {
	t.Helper()

	tc := testutil.NewTestContext(t)
	logger := util.DiscardLogger()

	orgs := organizations.NewService(tc.DB, tc.AuthService, tc.Storage, logger)
	tc.AuthService.SetHooks(orgs.AuthHooks())

	client := billing.NewClient(&config.BillingConfig{CreemAPIKey: "test", CreemBaseURL: "https://creem.test"}, logger)

	router := NewRouter(RouterConfig{
		DB:                   tc.DB,
		Logger:               logger,
		AuthService:          tc.AuthService,
		Organizations:        orgs,
		Users:                users.NewService(tc.AuthService, tc.Storage, logger),
		Storage:              tc.Storage,
		Billing:              billing.NewService(tc.DB, client, tc.AuthService, logger),
		MailEvents:           mail.NewEventRecorder(tc.DB, "", logger),
		Metrics:              middleware.NewMetrics(),
		BillingWebhookSecret: "whsec_router",
		SiteURL:              "http://localhost:5173",
		RateLimitReqs:        rateLimit,
		RateLimitSecs:        60,
	})
	return router, tc
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{name: "health", method: http.MethodGet, path: "/health", status: http.StatusOK},
		{name: "ready", method: http.MethodGet, path: "/ready", status: http.StatusOK},
		{name: "providers", method: http.MethodGet, path: "/api/auth/providers", status: http.StatusOK},
		{name: "session without token", method: http.MethodGet, path: "/api/auth/get-session", status: http.StatusOK},
		{name: "email exists", method: http.MethodGet, path: "/api/v1/users/exists?email=nobody@example.com", status: http.StatusOK},
		{name: "bootstrap needs auth", method: http.MethodGet, path: "/api/v1/bootstrap", status: http.StatusUnauthorized},
		{name: "organizations need auth", method: http.MethodGet, path: "/api/v1/organizations", status: http.StatusUnauthorized},
		{name: "billing needs auth", method: http.MethodGet, path: "/api/billing/subscriptions", status: http.StatusUnauthorized},
		{name: "unsigned billing webhook", method: http.MethodPost, path: "/api/billing/webhook", status: http.StatusUnauthorized},
		{name: "mail webhook without secret", method: http.MethodPost, path: "/resend-webhook", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			rec := serve(router, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_BearerSession(t *testing.T) {
	router, tc := newTestRouter(t, 0)

	rec := serve(router, testutil.AuthenticatedRequest(t, http.MethodGet, "/api/v1/organizations/active", nil, tc.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tc.Org.ID.String())

	rec = serve(router, testutil.AuthenticatedRequest(t, http.MethodPost, "/api/v1/organizations", map[string]string{"name": "Acme Inc"}, tc.Token))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouter_CookieSessionNeedsCSRF(t *testing.T) {
	router, tc := newTestRouter(t, 0)
	session := &http.Cookie{Name: middleware.SessionCookieName, Value: tc.Token}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/organizations", nil)
	req.AddCookie(session)
	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var csrf *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.CSRFCookieName {
			csrf = c
		}
	}
	require.NotNil(t, csrf, "safe request should issue a csrf cookie")

	body := `{"name":"Cookie Co"}`

	req = httptest.NewRequest(http.MethodPost, "/api/v1/organizations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(session)
	rec = serve(router, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/organizations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CSRFHeaderName, csrf.Value)
	req.AddCookie(session)
	req.AddCookie(csrf)
	rec = serve(router, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRouter_RateLimit(t *testing.T) {
	router, _ := newTestRouter(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, req).Code)
}

func TestRouter_Metrics(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orgs_http_requests_total")
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/organizations/active", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	req.Header.Set("Access-Control-Request-Headers", middleware.CSRFHeaderName)
	rec := serve(router, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
