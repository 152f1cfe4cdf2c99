package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	OutcomeCredited  = "credited"
	OutcomeDuplicate = "duplicate"
	OutcomeObserved  = "observed"

	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceSweep   = "sweep"

	ledgerMaxAttempts = 3
)

// InquiryInvalidator drops cached gateway inquiries once local state moves.
type InquiryInvalidator interface {
	Invalidate(ctx context.Context, trackID string)
}

// SettleOptions identifies who is asking. Caller is set for pull-based
// inquiries and must own the deposit; webhooks leave it nil.
type SettleOptions struct {
	Caller      *uuid.UUID
	ProcessedBy string
	Source      string
}

type SettlementResult struct {
	DepositID      uuid.UUID           `json:"deposit_id"`
	Status         string              `json:"status"`
	Outcome        string              `json:"outcome"`
	CreditedAmount *decimal.Decimal    `json:"credited_amount,omitempty"`
	Note           string              `json:"note,omitempty"`
	Commission     *DistributionResult `json:"commission,omitempty"`
}

// SettlementService turns gateway notifications into deposit transitions.
// It is the only writer of deposit credits.
type SettlementService struct {
	store       QueryStore
	commissions *CommissionService
	cache       InquiryInvalidator
	backoff     time.Duration
}

func NewSettlementService(store QueryStore, commissions *CommissionService) *SettlementService {
	return &SettlementService{
		store:       store,
		commissions: commissions,
		backoff:     25 * time.Millisecond,
	}
}

// WithInquiryCache registers a cache to invalidate after state changes.
func (s *SettlementService) WithInquiryCache(cache InquiryInvalidator) *SettlementService {
	s.cache = cache
	return s
}

// Settle applies one notification. It is safe to call any number of times
// for the same event: a deposit is credited at most once.
func (s *SettlementService) Settle(ctx context.Context, n Notification, opts SettleOptions) (*SettlementResult, error) {
	if opts.Source == "" {
		opts.Source = SourceWebhook
	}
	if opts.ProcessedBy == "" {
		opts.ProcessedBy = opts.Source
	}

	meta := n.Meta()
	if meta.OrderID == "" {
		observability.IncrementSettlement(opts.Source, "invalid")
		return nil, validationError("orderId is required")
	}
	depositID, err := uuid.Parse(meta.OrderID)
	if err != nil {
		observability.IncrementSettlement(opts.Source, "invalid")
		return nil, validationError("orderId %q is not a deposit id", meta.OrderID)
	}

	var res *SettlementResult
	switch n := n.(type) {
	case PaidNotification:
		res, err = s.settlePaid(ctx, depositID, n, opts)
	case ProgressNotification:
		res, err = s.observe(ctx, depositID, n.NotificationMeta, opts)
	case ClosedNotification:
		res, err = s.observe(ctx, depositID, n.NotificationMeta, opts)
	default:
		err = validationError("unsupported notification %T", n)
	}
	if err != nil {
		observability.IncrementSettlement(opts.Source, outcomeLabel(err))
		return nil, err
	}
	observability.IncrementSettlement(opts.Source, res.Outcome)
	return res, nil
}

func (s *SettlementService) observe(ctx context.Context, depositID uuid.UUID, meta NotificationMeta, opts SettleOptions) (*SettlementResult, error) {
	res := &SettlementResult{DepositID: depositID, Outcome: OutcomeObserved}
	changed := false
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		dep, err := s.lockDeposit(ctx, qtx, depositID)
		if err != nil {
			return err
		}
		if err := s.guardAccess(ctx, qtx, &dep, meta, opts); err != nil {
			return err
		}
		res.Status = dep.Status
		if domain.IsTerminalDeposit(dep.Status) {
			return nil
		}
		next, err := observeDepositState(ctx, qtx, dep, meta, opts.Caller, opts.ProcessedBy)
		if err != nil {
			return err
		}
		changed = next != dep.Status
		res.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		zap.L().Info("deposit status observed",
			zap.String("deposit_id", depositID.String()),
			zap.String("gateway_status", meta.GatewayStatus),
			zap.String("status", res.Status),
			zap.String("source", opts.Source),
		)
		s.invalidate(ctx, meta.TrackID)
	}
	return res, nil
}

func (s *SettlementService) settlePaid(ctx context.Context, depositID uuid.UUID, n PaidNotification, opts SettleOptions) (*SettlementResult, error) {
	// Once the credit starts it runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var (
		res     *SettlementResult
		dep     models.Deposit
		lastErr error
	)
	delay := s.backoff
	for attempt := 1; attempt <= ledgerMaxAttempts; attempt++ {
		res, dep, lastErr = s.creditOnce(ctx, depositID, n, opts)
		if lastErr == nil || !isRetryableTxError(lastErr) {
			break
		}
		zap.L().Warn("deposit credit conflicted, retrying",
			zap.String("deposit_id", depositID.String()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == ledgerMaxAttempts {
			lastErr = fmt.Errorf("%w: deposit %s: %v", ErrLedgerConflict, depositID, lastErr)
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if res.Outcome != OutcomeCredited {
		return res, nil
	}

	zap.L().Info("deposit settled",
		zap.String("deposit_id", depositID.String()),
		zap.String("user_id", dep.UserID.String()),
		zap.String("credited", res.CreditedAmount.StringFixed(2)),
		zap.String("source", opts.Source),
	)
	s.invalidate(ctx, n.TrackID)

	if s.commissions != nil {
		dist, err := s.commissions.Distribute(ctx, dep.ID, dep.UserID, *dep.CreditedMicros)
		res.Commission = dist
		if err != nil {
			zap.L().Error("commission distribution incomplete",
				zap.String("deposit_id", depositID.String()),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// creditOnce is one attempt at the approve + balance + transaction unit.
func (s *SettlementService) creditOnce(ctx context.Context, depositID uuid.UUID, n PaidNotification, opts SettleOptions) (*SettlementResult, models.Deposit, error) {
	var (
		res *SettlementResult
		dep models.Deposit
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		dep, err = s.lockDeposit(ctx, qtx, depositID)
		if err != nil {
			return err
		}
		if err := s.guardAccess(ctx, qtx, &dep, n.NotificationMeta, opts); err != nil {
			return err
		}

		switch dep.Status {
		case domain.DepositStatusApproved:
			res = &SettlementResult{DepositID: dep.ID, Status: dep.Status, Outcome: OutcomeDuplicate}
			if dep.CreditedMicros != nil {
				credited := domain.FromMicros(*dep.CreditedMicros)
				res.CreditedAmount = &credited
			}
			return nil
		case domain.DepositStatusExpired, domain.DepositStatusFailed:
			zap.L().Warn("paid notification for closed deposit needs manual review",
				zap.String("deposit_id", dep.ID.String()),
				zap.String("status", dep.Status),
				zap.String("track_id", n.TrackID),
			)
			return fmt.Errorf("%w: deposit %s is %s", ErrConflict, dep.ID, dep.Status)
		}

		rec, err := reconcileAmount(domain.FromMicros(dep.AmountMicros), n.PayAmount, n.Rate)
		if err != nil {
			zap.L().Warn("paid notification needs manual review",
				zap.String("deposit_id", dep.ID.String()),
				zap.String("track_id", n.TrackID),
				zap.Error(err),
			)
			return err
		}
		creditedMicros := domain.ToMicros(rec.Credited)
		note := settlementNote(rec, n.NotificationMeta)

		rows, err := qtx.ApproveDeposit(ctx, repository.ApproveDepositParams{
			ID:             dep.ID,
			CreditedMicros: creditedMicros,
			GatewayStatus:  n.GatewayStatus,
			AdminNote:      note,
			ProcessedBy:    opts.ProcessedBy,
			PayCurrency:    optionalText(n.PayCurrency),
			Network:        optionalText(n.Network),
			TxID:           optionalText(n.TxID),
		})
		if err != nil {
			return fmt.Errorf("approve deposit: %w", err)
		}
		if err := requireExactlyOne(rows, "approve deposit"); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerConflict, err)
		}

		rows, err = qtx.IncrementBalance(ctx, dep.UserID, creditedMicros)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if err := requireExactlyOne(rows, "credit balance"); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerConflict, err)
		}

		if _, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:           uuid.New(),
			UserID:       dep.UserID,
			AmountMicros: creditedMicros,
			Type:         domain.TxTypeDeposit,
			ReferenceID:  dep.ID.String(),
		}); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: deposit %s already has a credit", ErrLedgerConflict, dep.ID)
			}
			return fmt.Errorf("insert deposit transaction: %w", err)
		}

		meta := map[string]string{
			"gateway_status": n.GatewayStatus,
			"track_id":       n.TrackID,
			"processed_by":   opts.ProcessedBy,
			"credited":       rec.Credited.StringFixed(6),
		}
		if rec.Flag != "" {
			meta["discrepancy"] = rec.Flag
		}
		if rec.Unreported {
			meta["paid_amount"] = "not reported"
		}
		if err := writeDepositAudit(ctx, qtx, depositAudit{
			DepositID: dep.ID,
			Actor:     opts.Caller,
			Action:    "approved",
			From:      dep.Status,
			To:        domain.DepositStatusApproved,
			Metadata:  meta,
		}); err != nil {
			return err
		}

		credited := domain.FromMicros(creditedMicros)
		dep.Status = domain.DepositStatusApproved
		dep.CreditedMicros = &creditedMicros
		res = &SettlementResult{
			DepositID:      dep.ID,
			Status:         domain.DepositStatusApproved,
			Outcome:        OutcomeCredited,
			CreditedAmount: &credited,
			Note:           note,
		}
		return nil
	})
	return res, dep, err
}

func (s *SettlementService) lockDeposit(ctx context.Context, qtx *repository.Queries, id uuid.UUID) (models.Deposit, error) {
	dep, err := qtx.GetDepositForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dep, fmt.Errorf("%w: deposit %s", ErrNotFound, id)
		}
		return dep, fmt.Errorf("lock deposit: %w", err)
	}
	return dep, nil
}

// guardAccess enforces ownership and the track id binding. A deposit with no
// track id yet adopts the notification's, after which it is fixed.
func (s *SettlementService) guardAccess(ctx context.Context, qtx *repository.Queries, dep *models.Deposit, meta NotificationMeta, opts SettleOptions) error {
	if opts.Caller != nil && *opts.Caller != dep.UserID {
		securityEvent("ownership_mismatch", dep.ID, meta.TrackID, opts)
		return ErrUnauthorized
	}

	if dep.TrackID != nil {
		if *dep.TrackID != meta.TrackID {
			securityEvent("track_id_mismatch", dep.ID, meta.TrackID, opts)
			return ErrUnauthorized
		}
		return nil
	}

	rows, err := qtx.AttachTrackID(ctx, dep.ID, meta.TrackID)
	if err != nil {
		if isUniqueViolation(err) {
			securityEvent("track_id_reused", dep.ID, meta.TrackID, opts)
			return ErrUnauthorized
		}
		return fmt.Errorf("attach track id: %w", err)
	}
	if err := requireExactlyOne(rows, "attach track id"); err != nil {
		return err
	}
	trackID := meta.TrackID
	dep.TrackID = &trackID
	return writeDepositAudit(ctx, qtx, depositAudit{
		DepositID: dep.ID,
		Actor:     opts.Caller,
		Action:    "track_id_attached",
		Metadata:  map[string]string{"track_id": trackID, "source": opts.Source},
	})
}

func (s *SettlementService) invalidate(ctx context.Context, trackID string) {
	if s.cache != nil && trackID != "" {
		s.cache.Invalidate(ctx, trackID)
	}
}

func securityEvent(reason string, depositID uuid.UUID, trackID string, opts SettleOptions) {
	observability.IncrementSecurityEvent(reason)
	fields := []zap.Field{
		zap.String("event", "security"),
		zap.String("reason", reason),
		zap.String("deposit_id", depositID.String()),
		zap.String("track_id", trackID),
		zap.String("source", opts.Source),
	}
	if opts.Caller != nil {
		fields = append(fields, zap.String("caller_id", opts.Caller.String()))
	}
	zap.L().Warn("settlement rejected", fields...)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLedgerConflict):
		return "ledger_conflict"
	default:
		return "error"
	}
}
