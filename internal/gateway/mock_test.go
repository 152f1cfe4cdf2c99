package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGatewayInvoiceLifecycle(t *testing.T) {
	g := NewMockGateway()
	ctx := context.Background()

	inv, err := g.CreateInvoice(ctx, InvoiceRequest{Amount: decimal.NewFromInt(75), OrderID: "o-1", LifetimeMinutes: 60})
	require.NoError(t, err)
	require.NotEmpty(t, inv.TrackID)

	inq, err := g.Inquire(ctx, inv.TrackID)
	require.NoError(t, err)
	assert.Equal(t, "New", inq.Status)

	g.SetInquiry(Inquiry{TrackID: inv.TrackID, Status: "Paid", Amount: decimal.NewFromInt(75)})
	inq, err = g.Inquire(ctx, inv.TrackID)
	require.NoError(t, err)
	assert.Equal(t, "Paid", inq.Status)

	assert.Len(t, g.Requests(), 1)
	assert.Equal(t, 2, g.InquiryCount())
}

func TestMockGatewayUnknownTrackID(t *testing.T) {
	_, err := NewMockGateway().Inquire(context.Background(), "nope")
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
}
