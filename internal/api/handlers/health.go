package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthCheckTimeout = 2 * time.Second

type dependencyCheck struct {
	name  string
	check func(ctx context.Context) error
}

type HealthHandler struct {
	checks []dependencyCheck
}

// NewHealthHandler checks the database and, when one is configured, redis.
// Without redis sessions are not cached and mail is sent inline, so its
// absence is not reported as a failure.
func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	h := &HealthHandler{}
	h.checks = append(h.checks, dependencyCheck{name: "database", check: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}})
	if rdb != nil {
		h.checks = append(h.checks, dependencyCheck{name: "redis", check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Services: make(map[string]string, len(h.checks))}

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.check(ctx)
		cancel()

		if err != nil {
			resp.Services[c.name] = "unhealthy"
			resp.Status = "unhealthy"
			continue
		}
		resp.Services[c.name] = "healthy"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Ready only reports that the process is serving; dependencies are Health's job.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
