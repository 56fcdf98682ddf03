package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
)

// Authenticator covers the credential flows exposed over HTTP.
type Authenticator interface {
	SignUpEmail(ctx context.Context, input SignUpInput) (*AuthResponse, error)
	SignInEmail(ctx context.Context, input SignInInput) (*AuthResponse, error)
	SignOut(ctx context.Context, sessionID uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SessionResolver turns a bearer token or an API key into a live caller.
type SessionResolver interface {
	GetSession(ctx context.Context, token string) (*SessionView, error)
	VerifyAPIKey(ctx context.Context, key string) (*SessionView, error)
}

type TokenService interface {
	GenerateToken(sessionID, userID uuid.UUID, email string, expiresAt time.Time) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

var (
	_ Authenticator   = (*Service)(nil)
	_ SessionResolver = (*Service)(nil)
	_ TokenService    = (*JWTService)(nil)
)
