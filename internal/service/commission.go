package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	LevelCredited = "credited"
	LevelSkipped  = "skipped"
	LevelFailed   = "failed"
)

type LevelResult struct {
	Level         int             `json:"level"`
	BeneficiaryID uuid.UUID       `json:"beneficiary_id"`
	Percentage    decimal.Decimal `json:"percentage"`
	AmountMicros  int64           `json:"amount_micros"`
	Result        string          `json:"result"`
}

type DistributionResult struct {
	DepositID uuid.UUID     `json:"deposit_id"`
	Levels    []LevelResult `json:"levels"`
}

// CommissionService pays referral commissions up the referrer chain.
type CommissionService struct {
	store  QueryStore
	levels []decimal.Decimal
}

// NewCommissionService takes the per-level percentages, level 1 first.
// Entries beyond the maximum depth are ignored.
func NewCommissionService(store QueryStore, levels []decimal.Decimal) *CommissionService {
	if len(levels) > domain.MaxCommissionDepth {
		levels = levels[:domain.MaxCommissionDepth]
	}
	return &CommissionService{store: store, levels: levels}
}

// Distribute credits each ancestor of payingUserID its share of
// creditedMicros. Re-running it for the same deposit pays nothing twice:
// each (deposit, level) commission is inserted at most once.
func (s *CommissionService) Distribute(ctx context.Context, depositID, payingUserID uuid.UUID, creditedMicros int64) (*DistributionResult, error) {
	result := &DistributionResult{DepositID: depositID}
	var failures []LevelFailure

	queries := s.store.Queries()
	seen := map[uuid.UUID]struct{}{payingUserID: {}}
	current := payingUserID
	for i, pct := range s.levels {
		level := i + 1
		referrer, err := queries.GetReferrer(ctx, current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			// The chain cannot be walked further; this and every deeper level fail.
			failures = append(failures, LevelFailure{Level: level, Err: fmt.Errorf("load referrer: %w", err)})
			observability.IncrementCommission(level, LevelFailed)
			break
		}
		if referrer == nil {
			break
		}
		if _, dup := seen[*referrer]; dup {
			zap.L().Error("referral cycle detected",
				zap.String("deposit_id", depositID.String()),
				zap.String("user_id", referrer.String()),
				zap.Int("level", level),
			)
			break
		}
		seen[*referrer] = struct{}{}
		current = *referrer

		amount := domain.NewMoney(creditedMicros, domain.CurrencyUSD).Percent(pct).Amount
		lr := LevelResult{Level: level, BeneficiaryID: *referrer, Percentage: pct, AmountMicros: amount}
		if amount <= 0 {
			lr.Result = LevelSkipped
			result.Levels = append(result.Levels, lr)
			continue
		}

		credited, err := s.creditLevel(ctx, depositID, payingUserID, lr)
		switch {
		case err != nil:
			lr.Result = LevelFailed
			failures = append(failures, LevelFailure{Level: level, BeneficiaryID: *referrer, Err: err})
			zap.L().Error("commission level failed",
				zap.String("deposit_id", depositID.String()),
				zap.Int("level", level),
				zap.String("beneficiary_id", referrer.String()),
				zap.Error(err),
			)
		case credited:
			lr.Result = LevelCredited
		default:
			lr.Result = LevelSkipped
		}
		observability.IncrementCommission(level, lr.Result)
		result.Levels = append(result.Levels, lr)
	}

	if len(failures) > 0 {
		return result, &PartialDistributionError{DepositID: depositID, Failures: failures}
	}

	if _, err := queries.MarkCommissionDistributed(ctx, depositID); err != nil {
		return result, fmt.Errorf("mark commission distributed: %w", err)
	}
	return result, nil
}

// creditLevel reports false when the level was already paid.
func (s *CommissionService) creditLevel(ctx context.Context, depositID, sourceUserID uuid.UUID, lr LevelResult) (bool, error) {
	credited := false
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		commission, err := qtx.InsertCommission(ctx, repository.InsertCommissionParams{
			ID:            uuid.New(),
			DepositID:     depositID,
			BeneficiaryID: lr.BeneficiaryID,
			SourceUserID:  sourceUserID,
			Level:         lr.Level,
			Percentage:    lr.Percentage.String(),
			AmountMicros:  lr.AmountMicros,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("insert commission: %w", err)
		}

		rows, err := qtx.IncrementBalance(ctx, lr.BeneficiaryID, lr.AmountMicros)
		if err != nil {
			return fmt.Errorf("credit commission: %w", err)
		}
		if err := requireExactlyOne(rows, "credit commission"); err != nil {
			return err
		}

		if _, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:           uuid.New(),
			UserID:       lr.BeneficiaryID,
			AmountMicros: lr.AmountMicros,
			Type:         domain.TxTypeReferralCommission,
			ReferenceID:  commission.ID.String(),
		}); err != nil {
			return fmt.Errorf("insert commission transaction: %w", err)
		}
		credited = true
		return nil
	})
	return credited, err
}
