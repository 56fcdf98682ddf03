package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-orgs/internal/api"
	"github.com/hugh/go-orgs/internal/api/middleware"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/billing"
	"github.com/hugh/go-orgs/internal/database"
	"github.com/hugh/go-orgs/internal/mail"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/internal/tasks"
	"github.com/hugh/go-orgs/internal/users"
	"github.com/hugh/go-orgs/pkg/config"
	"github.com/hugh/go-orgs/pkg/crypto"
	"github.com/hugh/go-orgs/pkg/queue"
	"github.com/hugh/go-orgs/pkg/storage"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting go-orgs server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.Server.IsDevelopment() {
		if err := database.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	// Connect to Redis. Without it sessions are not cached and mail is sent inline.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis", "error", err)
		redisClient.Close()
		redisClient = nil
	}

	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if encryptor.Ephemeral() {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - linked account tokens will be unreadable after restart")
	}

	mailer, err := newMailer(cfg, asynqClient, logger)
	if err != nil {
		logger.Error("failed to set up mail", "error", err)
		os.Exit(1)
	}

	// Initialize services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, auth.Options{
		Cache:                    auth.NewSessionCache(redisClient, cfg.JWT.Expiry(), logger),
		Encryptor:                encryptor,
		Logger:                   logger,
		Mailer:                   mailer,
		SiteURL:                  cfg.Server.SiteURL,
		RequireEmailVerification: cfg.Auth.RequireVerifyEmail,
		MagicLink:                cfg.Auth.MagicLink,
		EmailOTP:                 cfg.Auth.EmailOTP,
		APIKeys:                  cfg.Auth.APIKeys,
		DeviceClientID:           cfg.Auth.DeviceClientID,
	})
	if mailer == nil && (cfg.Auth.MagicLink || cfg.Auth.EmailOTP) {
		logger.Warn("AUTH_MAGIC_LINK or AUTH_EMAIL_OTP set but emails are disabled, passwordless sign-in is off")
	}
	registerProviders(authService, cfg)

	store, err := storage.New(context.Background(), &cfg.Storage)
	if err != nil {
		logger.Error("failed to set up storage", "error", err)
		os.Exit(1)
	}

	orgService := organizations.NewService(db, authService, store, logger)
	if cfg.Auth.OrganizationsEnabled {
		authService.SetHooks(orgService.AuthHooks())
	}
	userService := users.NewService(authService, store, logger)

	billingClient := billing.NewClient(&cfg.Billing, logger)
	billingService := billing.NewService(db, billingClient, authService, logger)
	if cfg.Billing.CreemAPIKey == "" {
		logger.Warn("CREEM_API_KEY not set, billing routes will fail")
	}

	// Create router
	router := api.NewRouter(api.RouterConfig{
		DB:                   db,
		Redis:                redisClient,
		Logger:               logger,
		AuthService:          authService,
		Organizations:        orgService,
		Users:                userService,
		Storage:              store,
		Billing:              billingService,
		MailEvents:           mail.NewEventRecorder(db, cfg.Mail.ResendWebhookSecret, logger),
		Metrics:              middleware.NewMetrics(),
		BillingWebhookSecret: cfg.Billing.CreemWebhookSecret,
		SiteURL:              cfg.Server.SiteURL,
		SecureCookies:        !cfg.Server.IsDevelopment(),
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		RateLimitReqs:        cfg.RateLimit.Requests,
		RateLimitSecs:        cfg.RateLimit.WindowSeconds,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if asynqClient != nil {
		asynqClient.Close()
	}

	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

// newMailer returns nil when emails are switched off. With redis available
// messages go through the worker queue, otherwise they are sent over SMTP
// from the request.
func newMailer(cfg *config.Config, client *asynq.Client, logger *slog.Logger) (auth.Mailer, error) {
	if !cfg.Auth.SendEmails {
		return nil, nil
	}

	renderer, err := mail.NewRenderer()
	if err != nil {
		return nil, err
	}

	var deliverer mail.Deliverer
	switch {
	case client != nil:
		deliverer = tasks.NewEmailQueue(client)
	case cfg.Mail.MailEnabled():
		deliverer = mail.NewSMTPSender(&cfg.Mail)
	default:
		logger.Warn("AUTH_SEND_EMAILS set but neither redis nor SMTP is available, emails disabled")
		return nil, nil
	}
	return mail.NewMailer(renderer, deliverer, logger), nil
}

func registerProviders(authService *auth.Service, cfg *config.Config) {
	callback := func(name string) string {
		return cfg.Server.SiteURL + "/api/auth/callback/" + name
	}
	if cfg.Auth.GithubClientID != "" {
		authService.RegisterProvider(auth.NewGithubProvider(cfg.Auth.GithubClientID, cfg.Auth.GithubClientSecret, callback("github")))
	}
	if cfg.Auth.GoogleClientID != "" {
		authService.RegisterProvider(auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret, callback("google")))
	}
}
