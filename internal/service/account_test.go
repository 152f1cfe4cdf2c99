package service

import (
	"context"
	"testing"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountBalanceAndStatement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ancestors, owner := f.chain(t, 1)
	inv := f.invoice(t, owner, "200")

	_, err := f.settlement.Settle(ctx, paidNotification(inv.DepositID, inv.TrackID, "", ""), SettleOptions{ProcessedBy: "webhook", Source: SourceWebhook})
	require.NoError(t, err)

	accounts := NewAccountService(f.repo)
	bal, err := accounts.GetBalance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.CurrencyUSD, bal.Currency)
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(200)))

	stmt, err := accounts.GetStatement(ctx, ancestors[0], 1, 10)
	require.NoError(t, err)
	require.Len(t, stmt, 1)
	assert.Equal(t, domain.TxTypeReferralCommission, stmt[0].Type)
	assert.True(t, stmt[0].Amount.Equal(decimal.NewFromInt(10)))

	_, err = accounts.GetBalance(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
