//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/go-orgs/internal/auth"
	"github.com/hugh/go-orgs/internal/database"
	"github.com/hugh/go-orgs/internal/organizations"
	"github.com/hugh/go-orgs/pkg/config"
	"github.com/hugh/go-orgs/pkg/storage"
	"github.com/hugh/go-orgs/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)
	ctx := context.Background()

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		log.Fatalf("failed to set up storage: %v", err)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, auth.Options{Logger: logger, SiteURL: cfg.Server.SiteURL})
	orgs := organizations.NewService(db, authService, store, logger)
	authService.SetHooks(orgs.AuthHooks())

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "admin123!"
	}
	if name == "" {
		name = "Admin"
	}

	resp, err := authService.SignUpEmail(ctx, auth.SignUpInput{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	team, err := orgs.Create(ctx, organizations.CreateInput{
		UserID: resp.User.ID,
		Name:   "Demo Team",
		Slug:   organizations.Slugify("Demo Team"),
	})
	if err != nil {
		log.Fatalf("failed to create demo organization: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("Organization: %s (%s)\n", team.Name, team.Slug)
	if resp.Token != "" {
		fmt.Printf("Token: %s\n", resp.Token)
	}
}
