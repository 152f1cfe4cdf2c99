package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"go.uber.org/zap"
)

const (
	redistributeGrace = time.Minute
	redistributeBatch = 100
)

// ReconciliationReport summarises one pass.
type ReconciliationReport struct {
	DriftedProfiles       int
	RedrivenDeposits      int
	StillPartialDeposits  int
	UndistributedDeposits int
}

// ReconciliationService checks balances against the transaction log and
// finishes commission fan-outs that did not complete after settlement.
type ReconciliationService struct {
	store       QueryStore
	commissions *CommissionService
	now         func() time.Time
}

func NewReconciliationService(store QueryStore, commissions *CommissionService) *ReconciliationService {
	return &ReconciliationService{store: store, commissions: commissions, now: time.Now}
}

// Run performs both checks. Drift is reported, never corrected.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	report := &ReconciliationReport{}
	queries := s.store.Queries()

	drift, err := queries.GetBalanceDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("run balance drift query: %w", err)
	}
	report.DriftedProfiles = len(drift)
	for _, row := range drift {
		observability.IncrementBalanceDrift(domain.CurrencyUSD)
		zap.L().Error("CRITICAL: balance does not match transaction log",
			zap.String("user_id", row.UserID.String()),
			zap.Int64("balance_micros", row.BalanceMicros),
			zap.Int64("ledger_sum_micros", row.LedgerSumMicros),
		)
	}
	if len(drift) == 0 {
		zap.L().Info("ledger balanced")
	}

	if s.commissions == nil {
		return report, nil
	}
	if err := s.redrive(ctx, queries, report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *ReconciliationService) redrive(ctx context.Context, queries *repository.Queries, report *ReconciliationReport) error {
	pending, err := queries.ListUndistributedDeposits(ctx, repository.ListUndistributedDepositsParams{
		ProcessedBefore: s.now().Add(-redistributeGrace),
		Limit:           redistributeBatch,
	})
	if err != nil {
		return fmt.Errorf("list undistributed deposits: %w", err)
	}
	report.UndistributedDeposits = len(pending)

	for _, dep := range pending {
		if dep.CreditedMicros == nil {
			continue
		}
		_, err := s.commissions.Distribute(ctx, dep.ID, dep.UserID, *dep.CreditedMicros)
		if err != nil {
			if errors.Is(err, ErrPartialDistribution) {
				report.StillPartialDeposits++
			}
			zap.L().Warn("commission re-drive incomplete", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
			continue
		}
		report.RedrivenDeposits++
	}
	observability.SetCommissionBacklog(report.UndistributedDeposits - report.RedrivenDeposits)
	return nil
}
