package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	views map[string]*auth.SessionView
	keys  map[string]*auth.SessionView
}

func (f *fakeSessions) GetSession(ctx context.Context, token string) (*auth.SessionView, error) {
	if view, ok := f.views[token]; ok {
		return view, nil
	}
	return nil, auth.ErrInvalidSession
}

func (f *fakeSessions) VerifyAPIKey(ctx context.Context, key string) (*auth.SessionView, error) {
	if view, ok := f.keys[key]; ok {
		return view, nil
	}
	return nil, auth.ErrInvalidAPIKey
}

func newSessions() (*fakeSessions, *auth.SessionView) {
	user := &models.User{Base: models.Base{ID: uuid.New()}, Email: "jane@example.com"}
	session := &models.Session{Base: models.Base{ID: uuid.New()}, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
	view := &auth.SessionView{Session: session, User: user}
	return &fakeSessions{views: map[string]*auth.SessionView{"good-token": view}}, view
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func TestAuth(t *testing.T) {
	sessions, view := newSessions()

	var seen auth.Principal
	handler := Auth(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
		assert.Equal(t, view, GetSession(r.Context()))
		okHandler(w, r)
	}))

	tests := []struct {
		name     string
		path     string
		setup    func(r *http.Request)
		status   int
		location string
	}{
		{
			name:   "bearer token",
			path:   "/api/v1/users/me",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			status: http.StatusOK,
		},
		{
			name: "session cookie",
			path: "/api/v1/users/me",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-token"})
			},
			status: http.StatusOK,
		},
		{
			name:   "missing token on api",
			path:   "/api/v1/users/me",
			setup:  func(r *http.Request) {},
			status: http.StatusUnauthorized,
		},
		{
			name:   "unknown token",
			path:   "/api/v1/users/me",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer stale") },
			status: http.StatusUnauthorized,
		},
		{
			name:     "page request redirects to sign in",
			path:     "/settings?tab=billing",
			setup:    func(r *http.Request) { r.Header.Set("Accept", "text/html") },
			status:   http.StatusFound,
			location: "/signin?redirectTo=%2Fsettings%3Ftab%3Dbilling",
		},
		{
			name:     "invitation link redirects to sign in",
			path:     "/api/organization/accept-invitation/abc",
			setup:    func(r *http.Request) { r.Header.Set("Accept", "text/html,application/xhtml+xml") },
			status:   http.StatusFound,
			location: "/signin?redirectTo=%2Fapi%2Forganization%2Faccept-invitation%2Fabc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = auth.Principal{}
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
			if tt.status == http.StatusOK {
				assert.Equal(t, view.User.ID, seen.UserID)
				assert.Equal(t, view.Session.ID, seen.SessionID)
			}
		})
	}
}

func TestAuth_APIKey(t *testing.T) {
	sessions, view := newSessions()
	keyView := &auth.SessionView{User: view.User}
	sessions.keys = map[string]*auth.SessionView{"go_good": keyView}

	var seen auth.Principal
	handler := Auth(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetPrincipal(r.Context())
		okHandler(w, r)
	}))

	t.Run("valid key has no session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req.Header.Set(APIKeyHeader, "go_good")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, view.User.ID, seen.UserID)
		assert.False(t, seen.HasSession())
	})

	t.Run("bad key is refused even with a good token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
		req.Header.Set(APIKeyHeader, "go_bad")
		req.Header.Set("Authorization", "Bearer good-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetPrincipal_Empty(t *testing.T) {
	_, ok := GetPrincipal(context.Background())
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, GetUserID(context.Background()))
	assert.Nil(t, GetSession(context.Background()))
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/organizations", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
	assert.Contains(t, buf.String(), "boom")
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/ready"`)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2, 60)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	allowed, remaining := limiter.Allow("1.2.3.4")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)

	allowed, _ = limiter.Allow("1.2.3.4")
	assert.True(t, allowed)

	allowed, remaining = limiter.Allow("1.2.3.4")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	allowed, _ = limiter.Allow("5.6.7.8")
	assert.True(t, allowed, "other clients have their own bucket")

	now = now.Add(30 * time.Second)
	allowed, _ = limiter.Allow("1.2.3.4")
	assert.True(t, allowed, "one token refills every window/requests")
}

func TestRateLimit_Middleware(t *testing.T) {
	handler := RateLimit(1, 60)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bootstrap", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
}

func TestCSRF(t *testing.T) {
	handler := CSRF(false)(http.HandlerFunc(okHandler))
	session := &http.Cookie{Name: SessionCookieName, Value: "good-token"}

	t.Run("safe request issues cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bootstrap", nil)
		req.AddCookie(session)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CSRFCookieName, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
	})

	t.Run("cookie session without token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations", nil)
		req.AddCookie(session)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("mismatched token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
		req.Header.Set(CSRFHeaderName, "xyz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("matching token passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/organizations", nil)
		req.AddCookie(session)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
		req.Header.Set(CSRFHeaderName, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bearer requests skip the check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/organizations/active", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("api key requests skip the check", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/api-key/create", nil)
		req.AddCookie(session)
		req.Header.Set(APIKeyHeader, "go_good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/organizations/{id}/members", okHandler)
	r.Handle("/metrics", m.Handler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/organizations/"+uuid.NewString()+"/members", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	count := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/v1/organizations/{id}/members", "200"))
	assert.Equal(t, float64(2), count)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orgs_http_requests_total")
}
