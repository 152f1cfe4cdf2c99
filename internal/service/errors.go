package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConflict            = errors.New("conflict")
	ErrGateway             = errors.New("payment gateway error")
	ErrLedgerConflict      = errors.New("ledger conflict")
	ErrPartialDistribution = errors.New("partial commission distribution")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// LevelFailure records one commission level that could not be credited.
type LevelFailure struct {
	Level         int
	BeneficiaryID uuid.UUID
	Err           error
}

// PartialDistributionError is returned when the deposit settled but one or
// more commission levels failed. It never implies the deposit was rolled back.
type PartialDistributionError struct {
	DepositID uuid.UUID
	Failures  []LevelFailure
}

func (e *PartialDistributionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("level %d: %v", f.Level, f.Err))
	}
	return fmt.Sprintf("deposit %s: %s (%s)", e.DepositID, ErrPartialDistribution, strings.Join(parts, "; "))
}

func (e *PartialDistributionError) Unwrap() error {
	return ErrPartialDistribution
}

// isRetryableTxError reports serialization failures and deadlocks, which
// Postgres resolves by aborting one side.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
