package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/transfer-orchestrator/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "IP", httprate.KeyByIP)
}

// AuthRateLimiter limits authenticated routes per user, falling back to the
// client IP when no principal is present. It must run after AuthMiddleware.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(rps, "user", func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(rps int, scope string, key httprate.KeyFunc) func(http.Handler) http.Handler {
	detail := fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope)
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests), detail)
		}),
	)
}
