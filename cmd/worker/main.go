package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database"
	"github.com/hugh/go-orgs/internal/mail"
	"github.com/hugh/go-orgs/internal/tasks"
	"github.com/hugh/go-orgs/pkg/config"
	"github.com/hugh/go-orgs/pkg/queue"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/joho/godotenv"
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

	logger.Info("starting go-orgs worker")

	if err := util.ValidateCronExpr(cfg.Housekeeping.Cron); err != nil {
		logger.Error("invalid HOUSEKEEPING_CRON", "cron", cfg.Housekeeping.Cron, "error", err)
		os.Exit(1)
	}

	if !cfg.Mail.MailEnabled() {
		logger.Warn("SMTP_HOST not set, queued emails will fail until it is configured")
	}

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Housekeeping only touches the database, so the auth service runs without
	// cache, mailer or hooks here.
	authService := auth.NewService(db, auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry()), auth.Options{Logger: logger})

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, 10)

	// Create task handler
	handler := tasks.NewHandler(mail.NewSMTPSender(&cfg.Mail), authService, logger)

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	scheduler := queue.NewScheduler(&cfg.Redis)
	entryID, err := scheduler.Register(cfg.Housekeeping.Cron, tasks.NewHousekeepingTickTask())
	if err != nil {
		logger.Error("failed to register housekeeping schedule", "error", err)
		os.Exit(1)
	}
	next, _ := util.NextCronTime(cfg.Housekeeping.Cron, time.Now())
	logger.Info("housekeeping scheduled", "cron", cfg.Housekeeping.Cron, "entry_id", entryID, "next_run", next)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	logQueueBacklog(cfg, logger)

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}

// logQueueBacklog reports how many tasks were left waiting while no worker ran.
func logQueueBacklog(cfg *config.Config, logger *slog.Logger) {
	inspector := queue.NewInspector(&cfg.Redis)
	defer inspector.Close()

	info, err := inspector.GetQueueInfo("default")
	if err != nil {
		logger.Debug("queue info unavailable", "error", err)
		return
	}
	logger.Info("queue backlog",
		"queue", info.Queue,
		"pending", info.Pending,
		"retry", info.Retry,
		"archived", info.Archived,
	)
}
