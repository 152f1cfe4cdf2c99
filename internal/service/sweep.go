package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"go.uber.org/zap"
)

// sweepLookback bounds how old an open deposit may be and still be swept.
const sweepLookback = 72 * time.Hour

// SweepService re-inquires open invoices so a lost webhook does not leave a
// paid deposit uncredited.
type SweepService struct {
	store      QueryStore
	gateway    gateway.Gateway
	settlement *SettlementService
	now        func() time.Time
}

func NewSweepService(store QueryStore, gw gateway.Gateway, settlement *SettlementService) *SweepService {
	return &SweepService{store: store, gateway: gw, settlement: settlement, now: time.Now}
}

type SweepReport struct {
	Checked  int
	Credited int
	Failed   int
}

// Run sweeps up to batchSize open deposits, least recently updated first.
func (s *SweepService) Run(ctx context.Context, batchSize int32) (*SweepReport, error) {
	deps, err := s.store.Queries().ListSettleableDeposits(ctx, repository.ListSettleableDepositsParams{
		CreatedAfter: s.now().Add(-sweepLookback),
		Limit:        batchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list settleable deposits: %w", err)
	}

	report := &SweepReport{}
	for _, dep := range deps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		inq, err := s.gateway.Inquire(ctx, *dep.TrackID)
		if err != nil {
			report.Failed++
			zap.L().Warn("sweep inquiry failed", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
			continue
		}
		n, err := NotificationFromInquiry(dep.ID, inq)
		if err != nil {
			report.Failed++
			zap.L().Warn("sweep inquiry unusable", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
			continue
		}
		res, err := s.settlement.Settle(ctx, n, SettleOptions{ProcessedBy: SourceSweep, Source: SourceSweep})
		if err != nil {
			if !errors.Is(err, ErrConflict) {
				report.Failed++
			}
			zap.L().Warn("sweep settlement failed", zap.String("deposit_id", dep.ID.String()), zap.Error(err))
			continue
		}
		if res.Outcome == OutcomeCredited {
			report.Credited++
		}
	}
	return report, nil
}
