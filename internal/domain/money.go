package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the storage scale for every USD amount (10^-6).
const MicrosPerUnit = 1_000_000

var microsFactor = decimal.NewFromInt(MicrosPerUnit)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// USD builds a USD Money value from a decimal amount, truncating below one micro.
func USD(d decimal.Decimal) Money {
	return NewMoney(ToMicros(d), CurrencyUSD)
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return FromMicros(m.Amount)
}

// ToMicros converts a decimal to int64 micros, rounding toward zero.
func ToMicros(d decimal.Decimal) int64 {
	return d.Mul(microsFactor).IntPart()
}

// FromMicros converts int64 micros to a decimal.
func FromMicros(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(microsFactor)
}

// Percent returns pct percent of m, rounded down to the micro.
func (m Money) Percent(pct decimal.Decimal) Money {
	share := m.ToDecimal().Mul(pct).Div(decimal.NewFromInt(100))
	return Money{
		Amount:   ToMicros(share),
		Currency: m.Currency,
	}
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
