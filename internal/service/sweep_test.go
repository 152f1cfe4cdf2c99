package service

import (
	"context"
	"testing"

	"github.com/ayo6706/deposit-settlement/internal/domain"
	"github.com/ayo6706/deposit-settlement/internal/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepCreditsPaidInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.profile(t, nil)

	paid := f.invoice(t, owner, "100")
	open := f.invoice(t, owner, "60")
	f.gw.SetInquiry(gateway.Inquiry{TrackID: paid.TrackID, Status: "Paid", Amount: decimal.NewFromInt(100)})

	sweep := NewSweepService(f.store, f.gw, f.settlement)
	report, err := sweep.Run(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Credited)
	assert.Equal(t, 0, report.Failed)

	dep := f.deposit(t, paid.DepositID)
	assert.Equal(t, domain.DepositStatusApproved, dep.Status)
	require.NotNil(t, dep.ProcessedBy)
	assert.Equal(t, SourceSweep, *dep.ProcessedBy)
	assert.Equal(t, domain.DepositStatusPending, f.deposit(t, open.DepositID).Status)
	assert.Equal(t, int64(100_000_000), f.balance(t, owner))

	report, err = sweep.Run(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Credited)
	assert.Equal(t, int64(1), f.depositCredits(t, paid.DepositID))
}

func TestSweepCountsGatewayFailures(t *testing.T) {
	f := newFixture(t)
	owner := f.profile(t, nil)
	f.invoice(t, owner, "100")

	f.gw.InquireErr = gateway.ErrUnavailable
	report, err := NewSweepService(f.store, f.gw, f.settlement).Run(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Failed)
}
