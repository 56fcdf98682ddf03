package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-orgs/internal/api/handlers"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/testutil"
	"github.com/hugh/go-orgs/internal/users"
	"github.com/hugh/go-orgs/pkg/util"
)

const siteURL = "http://localhost:5173"

type env struct {
	*testutil.TestSetup
	orgs   *organizations.Service
	users  *users.Service
	router *chi.Mux
}

// newEnv wires real services on a private sqlite database. Routes are added
// per test file through mount.
func newEnv(t *testing.T, mount func(e *env, r chi.Router)) *env {
	t.Helper()

	tc := testutil.NewTestContext(t)
	logger := util.DiscardLogger()

	e := &env{
		TestSetup: tc,
		orgs:      organizations.NewService(tc.DB, tc.AuthService, tc.Storage, logger),
		users:     users.NewService(tc.AuthService, tc.Storage, logger),
		router:    chi.NewRouter(),
	}
	tc.AuthService.SetHooks(e.orgs.AuthHooks())
	mount(e, e.router)
	return e
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// newUser creates a signed-in user who is a member of org with role.
func (e *env) newUser(t *testing.T, org *models.Organization, role string) (*models.User, string) {
	t.Helper()

	user := testutil.CreateTestUser(t, e.DB, "User "+role)
	if org != nil {
		testutil.AddMember(t, e.DB, org, user, role)
		testutil.SetUserActiveOrganization(t, e.DB, user, org)
	}
	session := testutil.CreateTestSession(t, e.DB, user, org)
	return user, testutil.GenerateTestToken(t, e.JWTService, session, user)
}

func mountAuth(e *env, r chi.Router) {
	h := handlers.NewAuthHandler(e.AuthService, e.orgs, util.DiscardLogger(), siteURL, false)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/sign-up/email", h.SignUpEmail)
		r.Post("/sign-in/email", h.SignInEmail)
		r.Get("/get-session", h.GetSession)
		r.Get("/providers", h.Providers)
		r.Get("/sign-in/social/{provider}", h.SocialSignIn)
		r.Get("/callback/{provider}", h.SocialCallback)
		r.Get("/verify-email", h.VerifyEmail)
		r.Post("/forget-password", h.ForgetPassword)
		r.Post("/reset-password", h.ResetPassword)
		r.Get("/change-email/verify", h.ChangeEmailVerify)
		r.Post("/sign-in/magic-link", h.SendMagicLink)
		r.Get("/magic-link/verify", h.MagicLinkVerify)
		r.Post("/email-otp/send-verification-otp", h.SendVerificationOTP)
		r.Post("/sign-in/email-otp", h.SignInEmailOTP)
		r.Post("/email-otp/verify-email", h.VerifyEmailOTP)
		r.Post("/email-otp/reset-password", h.ResetPasswordOTP)
		r.Post("/device/code", h.DeviceCode)
		r.Post("/device/token", h.DeviceToken)
		r.Get("/device/status", h.DeviceStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(e.AuthService))
			r.Post("/sign-out", h.SignOut)
			r.Post("/change-email", h.ChangeEmail)
			r.Post("/organization/accept-invitation/{id}", h.AcceptInvitation)
			r.Get("/device", h.DeviceLookup)
			r.Post("/device/approve", h.DeviceApprove)
			r.Post("/device/deny", h.DeviceDeny)
			r.Post("/api-key/create", h.CreateAPIKey)
			r.Get("/api-key/list", h.ListAPIKeys)
			r.Post("/api-key/delete", h.DeleteAPIKey)
		})
	})
	r.With(middleware.Auth(e.AuthService)).Get("/api/organization/accept-invitation/{id}", h.AcceptInvitationLink)
}

// withAuthOptions swaps in an auth service built with opts before routes are
// mounted.
func withAuthOptions(opts auth.Options, mount func(e *env, r chi.Router)) func(e *env, r chi.Router) {
	return func(e *env, r chi.Router) {
		opts.Logger = util.DiscardLogger()
		opts.SiteURL = siteURL
		e.AuthService = auth.NewService(e.DB, e.JWTService, opts)
		e.AuthService.SetHooks(e.orgs.AuthHooks())
		mount(e, r)
	}
}

func mountOrganizations(e *env, r chi.Router) {
	h := handlers.NewOrganizationHandler(e.orgs, util.DiscardLogger())
	r.Route("/api/v1/organizations", func(r chi.Router) {
		r.Use(middleware.Auth(e.AuthService))
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/role", h.GetRole)
		r.Get("/active", h.GetActive)
		r.Post("/active", h.SetActive)
		r.Patch("/active", h.UpdateActive)
		r.Delete("/active", h.DeleteActive)
		r.Post("/active/leave", h.Leave)
		r.Get("/active/members", h.ListActiveMembers)
		r.Get("/invitations", h.ListInvitations)
		r.Post("/invitations", h.Invite)
		r.Delete("/invitations/{id}", h.CancelInvitation)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/members", h.ListMembers)
		r.Patch("/{id}/members/{memberId}", h.UpdateMemberRole)
		r.Delete("/{id}/members/{memberId}", h.RemoveMember)
	})
}

func mountUsers(e *env, r chi.Router) {
	h := handlers.NewUsersHandler(e.users, util.DiscardLogger(), false)
	s := handlers.NewStorageHandler(e.Storage, util.DiscardLogger())
	b := handlers.NewBootstrapHandler(e.users, e.orgs, util.DiscardLogger())

	r.Get("/api/v1/users/exists", h.Exists)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(e.AuthService))
		r.Get("/api/v1/users/me", h.Me)
		r.Get("/api/v1/users/me/accounts", h.ListAccounts)
		r.Put("/api/v1/users/me/avatar", h.UpdateAvatar)
		r.Post("/api/v1/users/me/password", h.SetPassword)
		r.Delete("/api/v1/users/me", h.Delete)
		r.Post("/api/v1/storage/upload-url", s.UploadURL)
		r.Get("/api/v1/bootstrap", b.Get)
	})
}
