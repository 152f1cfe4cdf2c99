package service

import (
	"context"
	"errors"
	"fmt"
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

type StatusConfig struct {
	PollWindow   time.Duration
	PollInterval time.Duration
}

type PaymentDetails struct {
	PayCurrency string           `json:"pay_currency,omitempty"`
	Network     string           `json:"network,omitempty"`
	Address     string           `json:"address,omitempty"`
	PayAmount   *decimal.Decimal `json:"pay_amount,omitempty"`
}

// DepositStatus is the client view of a deposit. Status may read expired
// while StoredStatus is still open once the local countdown has elapsed.
type DepositStatus struct {
	DepositID           uuid.UUID        `json:"deposit_id"`
	Status              string           `json:"status"`
	StoredStatus        string           `json:"stored_status"`
	GatewayStatus       string           `json:"gateway_status,omitempty"`
	Amount              decimal.Decimal  `json:"amount"`
	CreditedAmount      *decimal.Decimal `json:"credited_amount,omitempty"`
	TrackID             *string          `json:"track_id,omitempty"`
	PayLink             *string          `json:"pay_link,omitempty"`
	Payment             *PaymentDetails  `json:"payment,omitempty"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty"`
	AdminNote           *string          `json:"admin_note,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	ExpiresAt           time.Time        `json:"expires_at"`
	SecondsRemaining    int64            `json:"seconds_remaining"`
	LocallyExpired      bool             `json:"locally_expired"`
	Retryable           bool             `json:"retryable"`
	PollIntervalSeconds int64            `json:"poll_interval_seconds"`
}

// StatusService serves client polls. Gateway progress it observes is fed
// through SettlementService so polls and webhooks share one code path.
type StatusService struct {
	store      QueryStore
	gateway    gateway.Gateway
	settlement *SettlementService
	cfg        StatusConfig
	now        func() time.Time
}

func NewStatusService(store QueryStore, gw gateway.Gateway, settlement *SettlementService, cfg StatusConfig) *StatusService {
	return &StatusService{
		store:      store,
		gateway:    gw,
		settlement: settlement,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Poll returns the caller's deposit status, refreshing it from the gateway
// while it is still open.
func (s *StatusService) Poll(ctx context.Context, depositID, callerID uuid.UUID) (*DepositStatus, error) {
	dep, err := s.loadOwned(ctx, depositID, callerID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalDeposit(dep.Status) || dep.TrackID == nil {
		return s.view(dep, nil, false), nil
	}

	inq, err := s.gateway.Inquire(ctx, *dep.TrackID)
	if err != nil {
		zap.L().Warn("gateway inquiry failed during poll",
			zap.String("deposit_id", dep.ID.String()),
			zap.Error(err),
		)
		return s.view(dep, nil, true), nil
	}

	n, err := NotificationFromInquiry(dep.ID, inq)
	if err != nil {
		zap.L().Warn("unusable gateway inquiry", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
		return s.view(dep, inq, false), nil
	}

	retryable := false
	_, err = s.settlement.Settle(ctx, n, SettleOptions{
		Caller:      &callerID,
		ProcessedBy: "poll:" + callerID.String(),
		Source:      SourcePoll,
	})
	switch {
	case err == nil, errors.Is(err, ErrConflict):
	case errors.Is(err, ErrUnauthorized):
		return nil, err
	default:
		retryable = true
		zap.L().Warn("poll settlement failed", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
	}

	dep, err = s.store.Queries().GetDeposit(ctx, depositID)
	if err != nil {
		return nil, fmt.Errorf("reload deposit: %w", err)
	}
	return s.view(dep, inq, retryable), nil
}

// List returns the caller's deposits, newest first, without gateway calls.
func (s *StatusService) List(ctx context.Context, callerID uuid.UUID, limit, offset int) ([]DepositStatus, error) {
	deps, err := s.store.Queries().ListDepositsByUser(ctx, repository.ListDepositsByUserParams{
		UserID: callerID,
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	out := make([]DepositStatus, 0, len(deps))
	for _, dep := range deps {
		out = append(out, *s.view(dep, nil, false))
	}
	return out, nil
}

// loadOwned hides whether a deposit exists from anyone but its owner.
func (s *StatusService) loadOwned(ctx context.Context, depositID, callerID uuid.UUID) (models.Deposit, error) {
	dep, err := s.store.Queries().GetDeposit(ctx, depositID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dep, fmt.Errorf("%w: deposit %s", ErrNotFound, depositID)
		}
		return dep, fmt.Errorf("load deposit: %w", err)
	}
	if dep.UserID != callerID {
		securityEvent("ownership_mismatch", dep.ID, "", SettleOptions{Caller: &callerID, Source: SourcePoll})
		return models.Deposit{}, ErrUnauthorized
	}
	return dep, nil
}

func (s *StatusService) view(dep models.Deposit, inq *gateway.Inquiry, retryable bool) *DepositStatus {
	now := s.now()
	expiresAt := dep.CreatedAt.Add(s.cfg.PollWindow)
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	st := &DepositStatus{
		DepositID:           dep.ID,
		Status:              dep.Status,
		StoredStatus:        dep.Status,
		GatewayStatus:       dep.GatewayStatus,
		Amount:              domain.FromMicros(dep.AmountMicros),
		TrackID:             dep.TrackID,
		PayLink:             dep.PayLink,
		ProcessedAt:         dep.ProcessedAt,
		AdminNote:           dep.AdminNote,
		CreatedAt:           dep.CreatedAt,
		ExpiresAt:           expiresAt,
		SecondsRemaining:    int64(remaining / time.Second),
		Retryable:           retryable,
		PollIntervalSeconds: int64(s.cfg.PollInterval / time.Second),
	}
	if dep.CreditedMicros != nil {
		credited := domain.FromMicros(*dep.CreditedMicros)
		st.CreditedAmount = &credited
	}

	if domain.IsTerminalDeposit(dep.Status) {
		st.SecondsRemaining = 0
		return st
	}
	if remaining == 0 {
		st.Status = domain.DepositStatusExpired
		st.LocallyExpired = true
	}

	details := &PaymentDetails{
		PayCurrency: derefText(dep.PayCurrency),
		Network:     derefText(dep.Network),
		Address:     derefText(dep.Address),
	}
	if inq != nil {
		if inq.PayCurrency != "" {
			details.PayCurrency = inq.PayCurrency
		}
		if inq.Network != "" {
			details.Network = inq.Network
		}
		if inq.Address != "" {
			details.Address = inq.Address
		}
		if inq.PayAmount.IsPositive() {
			amt := inq.PayAmount
			details.PayAmount = &amt
		}
	}
	if *details != (PaymentDetails{}) {
		st.Payment = details
	}
	return st
}
