package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	discrepancyEpsilon = decimal.RequireFromString("0.01")
	// maxCreditable is the largest USD amount representable in int64 micros.
	maxCreditable = domain.FromMicros(math.MaxInt64)
)

const (
	discrepancyShortfall   = "shortfall"
	discrepancyOverpayment = "overpayment"
	paidNotReported        = "paid amount not reported"
)

// AmountReconciliation compares what was invoiced with what was paid.
type AmountReconciliation struct {
	Invoiced    decimal.Decimal
	Paid        decimal.Decimal
	Credited    decimal.Decimal
	Discrepancy decimal.Decimal
	Flag        string
	// Unreported is set when the gateway gave no payAmount or rate and the
	// invoiced amount was credited at face value.
	Unreported bool
}

// reconcileAmount credits payAmount x rate when both are positive and falls
// back to the invoiced amount otherwise. A paid amount outside the int64
// micros range is a conflict that needs manual review.
func reconcileAmount(invoiced, payAmount, rate decimal.Decimal) (AmountReconciliation, error) {
	r := AmountReconciliation{Invoiced: invoiced, Credited: invoiced}
	if !payAmount.IsPositive() || !rate.IsPositive() {
		r.Unreported = true
		return r, nil
	}
	paid := payAmount.Mul(rate)
	if paid.GreaterThan(maxCreditable) {
		return r, fmt.Errorf("%w: paid amount %s USD is out of range", ErrConflict, paid.String())
	}
	r.Paid = paid
	r.Credited = paid
	r.Discrepancy = paid.Sub(invoiced)
	if r.Discrepancy.Abs().GreaterThan(discrepancyEpsilon) {
		if r.Discrepancy.IsNegative() {
			r.Flag = discrepancyShortfall
		} else {
			r.Flag = discrepancyOverpayment
		}
	}
	return r, nil
}

// settlementNote is the admin note stored on an approved deposit.
func settlementNote(r AmountReconciliation, meta NotificationMeta) string {
	parts := []string{fmt.Sprintf("Paid via %s", orUnknown(meta.PayCurrency))}
	if meta.Network != "" {
		parts[0] += fmt.Sprintf(" (%s)", meta.Network)
	}
	if meta.TxID != "" {
		parts = append(parts, "tx "+meta.TxID)
	}
	parts = append(parts, fmt.Sprintf("invoiced %s USD", r.Invoiced.StringFixed(2)))
	if r.Unreported {
		parts = append(parts, paidNotReported)
	} else {
		parts = append(parts, fmt.Sprintf("paid %s USD", r.Paid.StringFixed(2)))
	}
	if r.Flag != "" {
		parts = append(parts, fmt.Sprintf("%s %s USD", r.Flag, r.Discrepancy.Abs().StringFixed(2)))
	}
	return strings.Join(parts, "; ")
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
