package handlers

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/api/dto"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/api/validation"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/organizations"
)

const oauthStateCookie = "oauth_state"

type AuthHandler struct {
	authService   *auth.Service
	orgs          *organizations.Service
	logger        *slog.Logger
	siteURL       string
	secureCookies bool
}

func NewAuthHandler(authService *auth.Service, orgs *organizations.Service, logger *slog.Logger, siteURL string, secureCookies bool) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService:   authService,
		orgs:          orgs,
		logger:        logger,
		siteURL:       strings.TrimRight(siteURL, "/"),
		secureCookies: secureCookies,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		MaxAge:   -1,
	})
}

func (h *AuthHandler) issue(w http.ResponseWriter, resp *auth.AuthResponse) {
	if resp.Token != "" && resp.Session != nil {
		h.setSessionCookie(w, resp.Token, resp.Session.ExpiresAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) SignUpEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.SignUpRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	resp, err := h.authService.SignUpEmail(r.Context(), auth.SignUpInput{
		Email:       req.Email,
		Password:    req.Password,
		Name:        req.Name,
		SessionMeta: sessionMeta(r),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.issue(w, resp)
}

func (h *AuthHandler) SignInEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.SignInRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	resp, err := h.authService.SignInEmail(r.Context(), auth.SignInInput{
		Email:       req.Email,
		Password:    req.Password,
		SessionMeta: sessionMeta(r),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.issue(w, resp)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.SignOut(r.Context(), principal(r).SessionID); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	clearSessionCookie(w, h.secureCookies)
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

// GetSession answers null rather than 401 when there is no live session.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	if token == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	view, err := h.authService.GetSession(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SessionResponse{Session: view.Session, User: view.User})
}

func (h *AuthHandler) SocialSignIn(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	authURL, err := h.authService.SocialAuthURL(chi.URLParam(r, "provider"), state)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/callback",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *AuthHandler) SocialCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		h.redirectWithError(w, r, "/signin", "invalid_state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/auth/callback", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, "/signin", "missing_code")
		return
	}

	resp, err := h.authService.SignInSocial(r.Context(), chi.URLParam(r, "provider"), code, sessionMeta(r))
	if err != nil {
		h.logger.Warn("social sign-in failed", "provider", chi.URLParam(r, "provider"), "error", err)
		h.redirectWithError(w, r, "/signin", "social_sign_in_failed")
		return
	}

	h.setSessionCookie(w, resp.Token, resp.Session.ExpiresAt)
	http.Redirect(w, r, h.siteURL+"/", http.StatusFound)
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authService.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.redirectWithError(w, r, "/signin", "invalid_token")
		return
	}
	http.Redirect(w, r, h.siteURL+"/signin?verified=true", http.StatusFound)
}

func (h *AuthHandler) ForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgetPasswordRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	redirectTo := req.RedirectTo
	if strings.HasPrefix(redirectTo, "/") {
		redirectTo = h.siteURL + redirectTo
	}
	if err := h.authService.RequestPasswordReset(r.Context(), req.Email, redirectTo); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	member, err := h.orgs.AcceptInvitation(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// AcceptInvitationLink is the target of the link in invitation emails. The
// browser ends up on the site either way.
func (h *AuthHandler) AcceptInvitationLink(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.redirectWithError(w, r, "/", "invalid_invitation")
		return
	}

	if _, err := h.orgs.AcceptInvitation(r.Context(), principal(r), id); err != nil {
		h.logger.Info("invitation link rejected", "invitation_id", id, "error", err)
		h.redirectWithError(w, r, "/", "invitation_failed")
		return
	}
	http.Redirect(w, r, h.siteURL+"/", http.StatusFound)
}

func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, path, code string) {
	http.Redirect(w, r, h.siteURL+path+"?error="+url.QueryEscape(code), http.StatusFound)
}

func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	providers := h.authService.Providers()
	sort.Strings(providers)
	writeJSON(w, http.StatusOK, map[string][]string{"providers": providers})
}

// redirectToCallback sends the browser to callbackURL when it is a path on
// this site, otherwise to fallback.
func (h *AuthHandler) redirectToCallback(w http.ResponseWriter, r *http.Request, callbackURL, fallback string) {
	target := fallback
	if validation.IsLocalRedirect(callbackURL) {
		target = callbackURL
	}
	http.Redirect(w, r, h.siteURL+target, http.StatusFound)
}

func (h *AuthHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangeEmailRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	user, err := h.authService.ChangeEmail(r.Context(), principal(r).UserID, req.NewEmail, req.CallbackURL)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UserResponse{Status: true, User: user})
}

// ChangeEmailVerify is the target of the link sent to the old address.
func (h *AuthHandler) ChangeEmailVerify(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authService.ConfirmEmailChange(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.logger.Info("email change rejected", "error", err)
		h.redirectWithError(w, r, "/", "email_change_failed")
		return
	}
	h.redirectToCallback(w, r, r.URL.Query().Get("callbackURL"), "/")
}

func (h *AuthHandler) SendMagicLink(w http.ResponseWriter, r *http.Request) {
	var req dto.MagicLinkRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.SendMagicLink(r.Context(), req.Email, req.CallbackURL); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.authService.VerifyMagicLink(r.Context(), r.URL.Query().Get("token"), sessionMeta(r))
	if err != nil {
		h.redirectWithError(w, r, "/signin", "invalid_token")
		return
	}
	h.setSessionCookie(w, resp.Token, resp.Session.ExpiresAt)
	h.redirectToCallback(w, r, r.URL.Query().Get("callbackURL"), "/")
}

func (h *AuthHandler) SendVerificationOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.SendOTPRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.SendVerificationOTP(r.Context(), req.Email, req.Type); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) SignInEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.OTPRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	resp, err := h.authService.SignInEmailOTP(r.Context(), req.Email, req.OTP, sessionMeta(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.issue(w, resp)
}

func (h *AuthHandler) VerifyEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.OTPRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	user, err := h.authService.VerifyEmailOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UserResponse{Status: true, User: user})
}

func (h *AuthHandler) ResetPasswordOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.OTPResetPasswordRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.ResetPasswordOTP(r.Context(), req.Email, req.OTP, req.Password); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}

func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAPIKeyRequest
	if !decodeJSON(w, r, &req, true) || !validate(w, req.Validate()) {
		return
	}

	key, err := h.authService.CreateAPIKey(r.Context(), principal(r).UserID, req.Name, time.Duration(req.ExpiresIn)*time.Second)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.authService.ListAPIKeys(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *AuthHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	var req dto.DeleteAPIKeyRequest
	if !decodeJSON(w, r, &req, false) || !validate(w, req.Validate()) {
		return
	}

	if err := h.authService.DeleteAPIKey(r.Context(), principal(r).UserID, uuid.MustParse(req.KeyID)); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: true})
}
