package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/go-orgs/internal/api/handlers"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/billing"
	"github.com/hugh/go-orgs/internal/mail"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/users"
	"github.com/hugh/go-orgs/pkg/storage"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB            *gorm.DB
	Redis         *redis.Client // optional
	Logger        *slog.Logger
	AuthService   *auth.Service
	Organizations *organizations.Service
	Users         *users.Service
	Storage       storage.Storage
	Billing       *billing.Service
	MailEvents    *mail.EventRecorder
	Metrics       *middleware.Metrics // optional; /metrics is only served when set

	BillingWebhookSecret string
	SiteURL              string
	SecureCookies        bool
	AllowedOrigins       []string // CORS allowed origins
	RateLimitReqs        int      // Rate limit requests per window
	RateLimitSecs        int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{cfg.SiteURL}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.CSRFHeaderName, middleware.APIKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Cookie sessions need a CSRF token on unsafe requests; bearer clients
	// and the signed webhooks pass straight through.
	r.Use(middleware.CSRF(cfg.SecureCookies))

	requireAuth := middleware.Auth(cfg.AuthService)

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.Organizations, cfg.Logger, cfg.SiteURL, cfg.SecureCookies)
	orgHandler := handlers.NewOrganizationHandler(cfg.Organizations, cfg.Logger)
	usersHandler := handlers.NewUsersHandler(cfg.Users, cfg.Logger, cfg.SecureCookies)
	storageHandler := handlers.NewStorageHandler(cfg.Storage, cfg.Logger)
	bootstrapHandler := handlers.NewBootstrapHandler(cfg.Users, cfg.Organizations, cfg.Logger)
	billingHandler := handlers.NewBillingHandler(cfg.Billing, cfg.BillingWebhookSecret, cfg.Logger)
	mailHandler := handlers.NewMailWebhookHandler(cfg.MailEvents, cfg.Logger)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Post("/resend-webhook", mailHandler.Handle)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/sign-up/email", authHandler.SignUpEmail)
		r.Post("/sign-in/email", authHandler.SignInEmail)
		r.Get("/get-session", authHandler.GetSession)
		r.Get("/providers", authHandler.Providers)
		r.Get("/sign-in/social/{provider}", authHandler.SocialSignIn)
		r.Get("/callback/{provider}", authHandler.SocialCallback)
		r.Get("/verify-email", authHandler.VerifyEmail)
		r.Post("/forget-password", authHandler.ForgetPassword)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Get("/change-email/verify", authHandler.ChangeEmailVerify)

		r.Post("/sign-in/magic-link", authHandler.SendMagicLink)
		r.Get("/magic-link/verify", authHandler.MagicLinkVerify)

		r.Post("/email-otp/send-verification-otp", authHandler.SendVerificationOTP)
		r.Post("/sign-in/email-otp", authHandler.SignInEmailOTP)
		r.Post("/email-otp/verify-email", authHandler.VerifyEmailOTP)
		r.Post("/email-otp/reset-password", authHandler.ResetPasswordOTP)

		r.Post("/device/code", authHandler.DeviceCode)
		r.Post("/device/token", authHandler.DeviceToken)
		r.Get("/device/status", authHandler.DeviceStatus)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/sign-out", authHandler.SignOut)
			r.Post("/change-email", authHandler.ChangeEmail)
			r.Post("/organization/accept-invitation/{id}", authHandler.AcceptInvitation)

			r.Get("/device", authHandler.DeviceLookup)
			r.Post("/device/approve", authHandler.DeviceApprove)
			r.Post("/device/deny", authHandler.DeviceDeny)

			r.Post("/api-key/create", authHandler.CreateAPIKey)
			r.Get("/api-key/list", authHandler.ListAPIKeys)
			r.Post("/api-key/delete", authHandler.DeleteAPIKey)
		})
	})

	// Link target of invitation emails; signed-out browsers are sent to sign in.
	r.With(requireAuth).Get("/api/organization/accept-invitation/{id}", authHandler.AcceptInvitationLink)

	r.Route("/api/billing", func(r chi.Router) {
		r.Post("/webhook", billingHandler.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/products", billingHandler.Products)
			r.Post("/checkout", billingHandler.Checkout)
			r.Get("/portal", billingHandler.Portal)
			r.Get("/subscriptions", billingHandler.Subscriptions)
			r.Post("/subscriptions/{id}/{action}", billingHandler.ChangeSubscription)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/users/exists", usersHandler.Exists)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/bootstrap", bootstrapHandler.Get)
			r.Post("/storage/upload-url", storageHandler.UploadURL)

			r.Route("/users/me", func(r chi.Router) {
				r.Get("/", usersHandler.Me)
				r.Delete("/", usersHandler.Delete)
				r.Get("/accounts", usersHandler.ListAccounts)
				r.Put("/avatar", usersHandler.UpdateAvatar)
				r.Post("/password", usersHandler.SetPassword)
			})

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Post("/", orgHandler.Create)
				r.Get("/role", orgHandler.GetRole)

				r.Get("/active", orgHandler.GetActive)
				r.Post("/active", orgHandler.SetActive)
				r.Patch("/active", orgHandler.UpdateActive)
				r.Delete("/active", orgHandler.DeleteActive)
				r.Post("/active/leave", orgHandler.Leave)
				r.Get("/active/members", orgHandler.ListActiveMembers)

				r.Get("/invitations", orgHandler.ListInvitations)
				r.Post("/invitations", orgHandler.Invite)
				r.Delete("/invitations/{id}", orgHandler.CancelInvitation)

				r.Patch("/{id}", orgHandler.Update)
				r.Delete("/{id}", orgHandler.Delete)
				r.Get("/{id}/members", orgHandler.ListMembers)
				r.Patch("/{id}/members/{memberId}", orgHandler.UpdateMemberRole)
				r.Delete("/{id}/members/{memberId}", orgHandler.RemoveMember)
			})
		})
	})

	return &Router{r}
}
