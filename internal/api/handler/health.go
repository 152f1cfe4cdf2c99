package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const readinessTimeout = time.Second

type ReadinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler serves the liveness and readiness probes. The gateway is not
// probed: polls and the settlement sweep tolerate it being down.
type HealthHandler struct {
	db    *pgxpool.Pool
	redis redis.Cmdable
}

func NewHealthHandler(db *pgxpool.Pool, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready fails when the ledger database is unreachable. Redis only caches
// idempotency keys and inquiries, so its outage is reported as degraded.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := ReadinessReport{Status: "ready", Checks: map[string]string{}}

	if err := h.db.Ping(ctx); err != nil {
		zap.L().Warn("readiness: postgres ping failed", zap.Error(err))
		RespondError(w, r, http.StatusServiceUnavailable, "health/database-unavailable", "database unavailable")
		return
	}
	report.Checks["postgres"] = "ok"

	switch {
	case h.redis == nil:
		report.Checks["redis"] = "disabled"
	case h.redis.Ping(ctx).Err() != nil:
		report.Checks["redis"] = "unavailable"
		report.Status = "degraded"
	default:
		report.Checks["redis"] = "ok"
	}

	RespondJSON(w, http.StatusOK, report)
}
