package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/internal/database/models"
	"github.com/redis/go-redis/v9"
)

// SessionCache keeps session rows in redis so authenticated requests skip the
// database. A nil *SessionCache is valid and caches nothing.
type SessionCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewSessionCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *SessionCache {
	if rdb == nil {
		return nil
	}
	return &SessionCache{rdb: rdb, ttl: ttl, logger: logger}
}

func sessionKey(id uuid.UUID) string {
	return "session:" + id.String()
}

func (c *SessionCache) Get(ctx context.Context, id uuid.UUID) (*models.Session, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("session cache read failed", "error", err)
		}
		return nil, false
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, false
	}
	return &session, true
}

func (c *SessionCache) Set(ctx context.Context, session *models.Session) {
	if c == nil {
		return
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl > c.ttl {
		ttl = c.ttl
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		c.logger.Warn("session cache write failed", "error", err)
	}
}

func (c *SessionCache) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if c == nil || len(ids) == 0 {
		return
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("session cache invalidation failed", "error", err)
	}
}
