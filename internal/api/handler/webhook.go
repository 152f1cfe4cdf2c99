package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway payment callbacks.
type WebhookHandler struct {
	settlement    *service.SettlementService
	secret        string
	skipSignature bool
}

func NewWebhookHandler(settlement *service.SettlementService, secret string, skipSignature bool) *WebhookHandler {
	return &WebhookHandler{
		settlement:    settlement,
		secret:        secret,
		skipSignature: skipSignature,
	}
}

// HandleGatewayWebhook handles POST /v1/webhooks/oxapay.
//
// The gateway retries anything but a 200, so only failures a retry could fix
// answer 500. Rejected or meaningless callbacks are acknowledged.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Warn("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	if !h.skipSignature && !gateway.VerifySignature(body, r.Header.Get(gateway.SignatureHeader), h.secret) {
		observability.IncrementSecurityEvent("bad_signature")
		zap.L().Warn("webhook rejected",
			zap.String("event", "security"),
			zap.String("reason", "bad_signature"),
			zap.String("remote_addr", r.RemoteAddr),
		)
		RespondError(w, r, http.StatusForbidden, "auth/unauthorized", "unauthorized")
		return
	}

	var payload gateway.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		zap.L().Warn("webhook body is not a gateway payload", zap.Error(err))
		acknowledge(w)
		return
	}

	n, err := service.ParseNotification(payload)
	if err != nil {
		zap.L().Warn("webhook ignored", zap.String("track_id", payload.TrackID.String()), zap.Error(err))
		acknowledge(w)
		return
	}

	res, err := h.settlement.Settle(r.Context(), n, service.SettleOptions{
		ProcessedBy: service.SourceWebhook,
		Source:      service.SourceWebhook,
	})
	switch {
	case err == nil:
		zap.L().Info("webhook processed",
			zap.String("deposit_id", res.DepositID.String()),
			zap.String("outcome", res.Outcome),
			zap.String("status", res.Status),
		)
		acknowledge(w)
	case errors.Is(err, service.ErrUnauthorized):
		RespondError(w, r, http.StatusForbidden, "auth/unauthorized", "unauthorized")
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrNotFound):
		zap.L().Warn("webhook ignored", zap.String("order_id", payload.OrderID), zap.Error(err))
		acknowledge(w)
	case errors.Is(err, service.ErrConflict):
		zap.L().Error("webhook needs manual review", zap.String("order_id", payload.OrderID), zap.Error(err))
		acknowledge(w)
	default:
		zap.L().Error("webhook settlement failed", zap.String("order_id", payload.OrderID), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "webhook/processing-failed", "temporary failure, retry later")
	}
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
