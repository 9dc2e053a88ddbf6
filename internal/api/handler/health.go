package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = time.Second

// DependencyCheck pings one backing service for readiness.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness checks. Only the dependencies
// the process was started with are checked.
type HealthHandler struct {
	checks []DependencyCheck
}

func NewHealthHandler(db *pgxpool.Pool, rdb redis.Cmdable, extra ...DependencyCheck) *HealthHandler {
	var checks []DependencyCheck
	if db != nil {
		checks = append(checks, DependencyCheck{Name: "database", Ping: db.Ping})
	}
	if rdb != nil {
		checks = append(checks, DependencyCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return &HealthHandler{checks: append(checks, extra...)}
}

// Live reports OK while the process is serving.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every dependency check and fails on the first unavailable one.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	components := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/"+c.Name+"-unavailable", c.Name+" unavailable")
			return
		}
		components[c.Name] = "up"
	}

	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "components": components})
}
