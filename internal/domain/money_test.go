package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "USD") // 10.50 USD
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestToMicros(t *testing.T) {
	d := decimal.RequireFromString("10.50")
	assert.Equal(t, int64(10_500_000), ToMicros(d))
}

func TestToMicrosTruncatesSubMicro(t *testing.T) {
	d := decimal.RequireFromString("0.0000019")
	assert.Equal(t, int64(1), ToMicros(d))
}

func TestMoney_Percent(t *testing.T) {
	source := USD(decimal.NewFromInt(250))

	share := source.Percent(decimal.RequireFromString("2.5"))

	assert.Equal(t, "USD", share.Currency)
	assert.Equal(t, int64(6_250_000), share.Amount)
}

func TestMoney_PercentRoundsDown(t *testing.T) {
	// 33.333333 USD * 3% = 0.99999999 -> 0.999999
	source := NewMoney(33_333_333, "USD")

	share := source.Percent(decimal.NewFromInt(3))

	assert.Equal(t, int64(999_999), share.Amount)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "80.00 USD", NewMoney(80_000_000, "USD").String())
}

func TestIsTerminalDeposit(t *testing.T) {
	assert.True(t, IsTerminalDeposit(DepositStatusApproved))
	assert.True(t, IsTerminalDeposit(DepositStatusExpired))
	assert.True(t, IsTerminalDeposit(DepositStatusFailed))
	assert.False(t, IsTerminalDeposit(DepositStatusPending))
	assert.False(t, IsTerminalDeposit(DepositStatusConfirming))
}
