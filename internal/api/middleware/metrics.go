package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/go-chi/chi/v5"
)

const unmatchedRoute = "unmatched"

// MetricsMiddleware records request durations labelled by chi route pattern.
// Requests that match no route share one label so scanners cannot blow up
// series cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, metricRoute(r), rw.status, time.Since(start))
	})
}

func metricRoute(r *http.Request) string {
	if pattern := routePattern(r); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

// routePattern is empty until chi has matched the request.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
