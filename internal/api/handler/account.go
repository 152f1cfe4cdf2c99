package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/deposit-settlement/internal/service"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// GetBalance handles GET /v1/balance for the authenticated caller.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, "get balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, balance)
}

// GetStatement handles GET /v1/balance/transactions, newest first.
func (h *AccountHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize > 100 {
		pageSize = 100
	}

	entries, err := h.svc.GetStatement(r.Context(), actorID, page, pageSize)
	if err != nil {
		respondServiceError(w, r, "get statement", err)
		return
	}
	RespondJSON(w, http.StatusOK, entries)
}
