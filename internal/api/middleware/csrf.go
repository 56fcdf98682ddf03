package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"
)

const (
	csrfTokenLength = 32
	CSRFCookieName  = "csrf_token"
	CSRFHeaderName  = "X-CSRF-Token"
	csrfTokenExpiry = 24 * time.Hour
)

// CSRF protects cookie-authenticated requests with a double-submit token: safe
// requests receive a readable csrf_token cookie and unsafe ones must echo it in
// X-CSRF-Token. Bearer-token and API key callers and requests without a
// session cookie carry no ambient credentials and pass through.
func CSRF(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				ensureCSRFCookie(w, r, secure)
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "" || r.Header.Get(APIKeyHeader) != "" || !hasSessionCookie(r) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(CSRFCookieName)
			if err != nil || cookie.Value == "" {
				writeError(w, http.StatusForbidden, "CSRF token missing")
				return
			}

			provided := r.Header.Get(CSRFHeaderName)
			if provided == "" {
				writeError(w, http.StatusForbidden, "CSRF token missing")
				return
			}

			if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(provided)) != 1 {
				writeError(w, http.StatusForbidden, "Invalid CSRF token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func hasSessionCookie(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookieName)
	return err == nil && cookie.Value != ""
}

func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, secure bool) {
	if !hasSessionCookie(r) {
		return
	}
	if c, err := r.Cookie(CSRFCookieName); err == nil && c.Value != "" {
		return
	}

	token, err := newCSRFToken()
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // JavaScript needs to read this
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfTokenExpiry.Seconds()),
	})
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
