package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayo6706/deposit-settlement/internal/api/problem"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DepositHandler struct {
	invoices *service.InvoiceService
	status   *service.StatusService
}

func NewDepositHandler(invoices *service.InvoiceService, status *service.StatusService) *DepositHandler {
	return &DepositHandler{invoices: invoices, status: status}
}

type CreateDepositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ReturnURL string          `json:"return_url,omitempty"`
}

type regenerateInvoiceRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

// CreateDeposit handles POST /v1/deposits.
func (h *DepositHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	inv, err := h.invoices.CreateInvoice(r.Context(), service.CreateInvoiceRequest{
		UserID:    actorID,
		Amount:    req.Amount,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		h.respondInvoiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, inv)
}

// RegenerateInvoice handles POST /v1/deposits/{id}/invoice.
func (h *DepositHandler) RegenerateInvoice(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	depositID, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deposit-id", "Invalid deposit ID")
		return
	}

	var req regenerateInvoiceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
			return
		}
	}

	inv, err := h.invoices.RegenerateInvoice(r.Context(), depositID, actorID, req.ReturnURL)
	if err != nil {
		h.respondInvoiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

// GetDeposit handles GET /v1/deposits/{id}. Open deposits are refreshed from
// the gateway before answering.
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	depositID, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-deposit-id", "Invalid deposit ID")
		return
	}

	st, err := h.status.Poll(r.Context(), depositID, actorID)
	if err != nil {
		respondServiceError(w, r, "poll deposit", err)
		return
	}
	RespondJSON(w, http.StatusOK, st)
}

// ListDeposits handles GET /v1/deposits.
func (h *DepositHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, offset := pageParams(r)

	deposits, err := h.status.List(r.Context(), actorID, limit, offset)
	if err != nil {
		respondServiceError(w, r, "list deposits", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"deposits": deposits,
		"limit":    limit,
		"offset":   offset,
	})
}

// respondInvoiceError reports the deposit id with gateway failures so the
// client can retry against the same deposit.
func (h *DepositHandler) respondInvoiceError(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *service.InvoiceGatewayError
	if errors.As(err, &gwErr) {
		zap.L().Warn("invoice creation deferred", zap.String("deposit_id", gwErr.DepositID.String()), zap.Error(err))
		problem.WriteWithExtensions(w, r, http.StatusBadGateway, problem.Type("gateway/unavailable"), "",
			"payment gateway unavailable, retry with the invoice endpoint",
			map[string]any{
				"deposit_id": gwErr.DepositID,
				"retry_path": "/v1/deposits/" + gwErr.DepositID.String() + "/invoice",
			})
		return
	}
	respondServiceError(w, r, "create invoice", err)
}
