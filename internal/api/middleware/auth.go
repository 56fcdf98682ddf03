package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/auth"
)

// SessionCookieName holds the session token for browser clients.
const SessionCookieName = "session_token"

// APIKeyHeader carries an API key in place of a session token.
const APIKeyHeader = "X-API-Key"

type contextKey string

const (
	principalKey contextKey = "principal"
	sessionKey   contextKey = "session"
)

// TokenFromRequest returns the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Auth rejects requests without a live session or a valid API key. API
// callers get a 401; page requests are sent to the sign-in page with a
// redirectTo back to where they were going.
func Auth(sessions auth.SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(APIKeyHeader); key != "" {
				view, err := sessions.VerifyAPIKey(r.Context(), key)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), view)))
				return
			}

			token := TokenFromRequest(r)
			if token == "" {
				handleUnauthorized(w, r)
				return
			}

			view, err := sessions.GetSession(r.Context(), token)
			if err != nil {
				handleUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), view)))
		})
	}
}

// WithSession stores a resolved caller on ctx. API key callers have no
// session and get a principal without one.
func WithSession(ctx context.Context, view *auth.SessionView) context.Context {
	ctx = context.WithValue(ctx, sessionKey, view)
	p := auth.Principal{UserID: view.User.ID}
	if view.Session != nil {
		p.SessionID = view.Session.ID
	}
	return context.WithValue(ctx, principalKey, p)
}

func handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	isWebRequest := strings.Contains(accept, "text/html") && !strings.HasPrefix(r.URL.Path, "/api/")

	if isWebRequest || isPageRequest(r) {
		http.Redirect(w, r, "/signin?redirectTo="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}

	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

// isPageRequest covers links followed from emails, which land on /api paths
// but are opened in a browser.
func isPageRequest(r *http.Request) bool {
	return r.Method == http.MethodGet &&
		strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.HasPrefix(r.URL.Path, "/api/organization/accept-invitation/")
}

func GetPrincipal(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

func GetUserID(ctx context.Context) uuid.UUID {
	if p, ok := GetPrincipal(ctx); ok {
		return p.UserID
	}
	return uuid.Nil
}

func GetSession(ctx context.Context) *auth.SessionView {
	if view, ok := ctx.Value(sessionKey).(*auth.SessionView); ok {
		return view
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message})
}
