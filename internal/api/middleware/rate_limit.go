package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/api/problem"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/go-chi/httprate"
)

const rateLimitWindow = time.Second

// PublicRateLimiter limits requests per IP for unauthenticated routes such as
// the gateway webhook.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded("public", fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))),
	)
}

// AuthRateLimiter keys authenticated traffic by user so one account cannot
// hog polling capacity behind a shared NAT.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, rateLimitWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return "user:" + userID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded("user", fmt.Sprintf("Rate limit of %d req/s exceeded for this user", rps))),
	)
}

func limitExceeded(scope, detail string) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(rateLimitWindow / time.Second))
	return func(w http.ResponseWriter, r *http.Request) {
		observability.IncrementSecurityEvent("rate_limited_" + scope)
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(
			w,
			r,
			http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"),
			http.StatusText(http.StatusTooManyRequests),
			detail,
		)
	}
}
