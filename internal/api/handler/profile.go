package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProfileHandler registers ledger profiles. Identity and tokens live with
// the identity provider; the profile only carries the ledger balance and the
// referral edge.
type ProfileHandler struct {
	repo *repository.Repository
}

func NewProfileHandler(repo *repository.Repository) *ProfileHandler {
	return &ProfileHandler{repo: repo}
}

type CreateProfileRequest struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	ReferrerID string `json:"referrer_id,omitempty"`
}

// CreateProfile handles POST /v1/profiles. The profile id is the caller's
// token subject, so a caller can only register themselves.
func (h *ProfileHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" {
		RespondError(w, r, http.StatusBadRequest, "request/validation", "username and email are required")
		return
	}
	if req.UserID != "" && req.UserID != actorID.String() {
		RespondError(w, r, http.StatusForbidden, "auth/unauthorized", "unauthorized")
		return
	}

	profile := &models.Profile{
		UserID:   actorID,
		Username: req.Username,
		Email:    req.Email,
		Role:     "user",
	}
	if req.ReferrerID != "" {
		referrer, err := uuid.Parse(req.ReferrerID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-referrer-id", "Invalid referrer_id")
			return
		}
		profile.ReferrerID = &referrer
	}

	if err := h.repo.CreateProfile(r.Context(), profile); err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create profile failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "profile/create-failed", "Failed to create profile")
		return
	}
	RespondJSON(w, http.StatusCreated, profile)
}
