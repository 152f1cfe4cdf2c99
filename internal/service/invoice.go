package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceConfig is the gateway-facing part of invoice creation.
type InvoiceConfig struct {
	MinDeposit      decimal.Decimal
	CallbackURL     string
	ReturnURL       string
	LifetimeMinutes int
	FeePaidByPayer  bool
}

type CreateInvoiceRequest struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	ReturnURL string
}

type InvoiceResult struct {
	DepositID uuid.UUID       `json:"deposit_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	TrackID   string          `json:"track_id"`
	PayLink   string          `json:"pay_link"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// InvoiceGatewayError means the deposit row exists but has no invoice yet.
// Callers retry with RegenerateInvoice against DepositID.
type InvoiceGatewayError struct {
	DepositID uuid.UUID
	Err       error
}

func (e *InvoiceGatewayError) Error() string {
	return fmt.Sprintf("deposit %s: %s: %v", e.DepositID, ErrGateway, e.Err)
}

func (e *InvoiceGatewayError) Unwrap() []error {
	return []error{ErrGateway, e.Err}
}

// InvoiceService opens deposits and their hosted gateway invoices.
type InvoiceService struct {
	store   QueryStore
	gateway gateway.Gateway
	cfg     InvoiceConfig
}

func NewInvoiceService(store QueryStore, gw gateway.Gateway, cfg InvoiceConfig) *InvoiceService {
	return &InvoiceService{
		store:   store,
		gateway: gw,
		cfg:     cfg,
	}
}

// CreateInvoice persists a pending deposit, then asks the gateway for an
// invoice and binds its track id to the deposit.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*InvoiceResult, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}
	returnURL, err := s.returnURL(req.ReturnURL)
	if err != nil {
		return nil, err
	}

	depositID := uuid.New()
	var dep models.Deposit
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if _, err := qtx.GetProfile(ctx, req.UserID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
			}
			return fmt.Errorf("load profile: %w", err)
		}
		dep, err = qtx.CreateDeposit(ctx, repository.CreateDepositParams{
			ID:           depositID,
			UserID:       req.UserID,
			AmountMicros: domain.ToMicros(req.Amount),
		})
		if err != nil {
			return fmt.Errorf("create deposit: %w", err)
		}
		return writeDepositAudit(ctx, qtx, depositAudit{
			DepositID: depositID,
			Actor:     &req.UserID,
			Action:    "created",
			To:        domain.DepositStatusPending,
			Metadata:  map[string]string{"amount": req.Amount.StringFixed(2)},
		})
	})
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, dep, returnURL)
}

// RegenerateInvoice retries invoice creation for an existing deposit. A
// deposit that already has an invoice gets it back unchanged.
func (s *InvoiceService) RegenerateInvoice(ctx context.Context, depositID, callerID uuid.UUID, returnURL string) (*InvoiceResult, error) {
	dep, err := s.store.Queries().GetDeposit(ctx, depositID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: deposit %s", ErrNotFound, depositID)
		}
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	if dep.UserID != callerID {
		securityEvent("ownership_mismatch", dep.ID, "", SettleOptions{Caller: &callerID, Source: "invoice"})
		return nil, ErrUnauthorized
	}
	if dep.TrackID != nil {
		return invoiceResult(dep), nil
	}
	if dep.Status != domain.DepositStatusPending {
		return nil, fmt.Errorf("%w: deposit %s is %s", ErrConflict, dep.ID, dep.Status)
	}

	ret, err := s.returnURL(returnURL)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, dep, ret)
}

func (s *InvoiceService) issue(ctx context.Context, dep models.Deposit, returnURL string) (*InvoiceResult, error) {
	amount := domain.FromMicros(dep.AmountMicros)
	inv, err := s.gateway.CreateInvoice(ctx, gateway.InvoiceRequest{
		Amount:          amount,
		Currency:        domain.CurrencyUSD,
		CallbackURL:     s.cfg.CallbackURL,
		ReturnURL:       returnURL,
		OrderID:         dep.ID.String(),
		Description:     fmt.Sprintf("Deposit %s USD", amount.StringFixed(2)),
		LifetimeMinutes: s.cfg.LifetimeMinutes,
		FeePaidByPayer:  s.cfg.FeePaidByPayer,
	})
	if err != nil {
		zap.L().Warn("gateway invoice creation failed",
			zap.String("deposit_id", dep.ID.String()),
			zap.Error(err),
		)
		return nil, &InvoiceGatewayError{DepositID: dep.ID, Err: err}
	}

	var attached models.Deposit
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		current, err := qtx.GetDepositForUpdate(ctx, dep.ID)
		if err != nil {
			return fmt.Errorf("lock deposit: %w", err)
		}
		params := repository.AttachInvoiceParams{
			ID:               dep.ID,
			TrackID:          inv.TrackID,
			PayLink:          inv.PayLink,
			GatewayExpiresAt: inv.ExpiresAt,
		}

		action := "invoice_attached"
		var rows int64
		switch {
		case current.TrackID == nil:
			rows, err = qtx.AttachInvoice(ctx, params)
		case *current.TrackID == inv.TrackID && current.PayLink == nil:
			// A callback for this invoice arrived first and adopted the track id.
			action = "invoice_link_attached"
			rows, err = qtx.CompleteAdoptedInvoice(ctx, params)
		case *current.TrackID == inv.TrackID:
			attached = current
			return nil
		}
		if err != nil {
			return fmt.Errorf("attach invoice: %w", err)
		}
		if rows != 1 {
			return fmt.Errorf("%w: deposit %s already has an invoice", ErrConflict, dep.ID)
		}

		current.TrackID = &inv.TrackID
		current.PayLink = &inv.PayLink
		if current.GatewayExpiresAt == nil {
			current.GatewayExpiresAt = inv.ExpiresAt
		}
		attached = current
		return writeDepositAudit(ctx, qtx, depositAudit{
			DepositID: dep.ID,
			Actor:     &dep.UserID,
			Action:    action,
			Metadata:  map[string]string{"track_id": inv.TrackID},
		})
	})
	if err != nil {
		return nil, err
	}
	return invoiceResult(attached), nil
}

func (s *InvoiceService) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("amount must be positive")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return validationError("amount must have at most 2 decimal places")
	}
	if amount.LessThan(s.cfg.MinDeposit) {
		return validationError("amount must be at least %s USD", s.cfg.MinDeposit.StringFixed(2))
	}
	return nil
}

func (s *InvoiceService) returnURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.cfg.ReturnURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", validationError("return_url must be an absolute http(s) URL")
	}
	return raw, nil
}

func invoiceResult(dep models.Deposit) *InvoiceResult {
	return &InvoiceResult{
		DepositID: dep.ID,
		Status:    dep.Status,
		Amount:    domain.FromMicros(dep.AmountMicros),
		TrackID:   derefText(dep.TrackID),
		PayLink:   derefText(dep.PayLink),
		ExpiresAt: dep.GatewayExpiresAt,
	}
}
