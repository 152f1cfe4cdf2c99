package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// MockGateway simulates the payment gateway in-process for local runs and
// tests. Invoices start as New; tests drive them with SetInquiry.
type MockGateway struct {
	// FailureRate is the probability (0.0 to 1.0) that a call fails as unavailable.
	FailureRate float64
	// CreateErr, when set, is returned by every CreateInvoice call.
	CreateErr error
	// InquireErr, when set, is returned by every Inquire call.
	InquireErr error

	seq       atomic.Int64
	mu        sync.Mutex
	inquiries map[string]Inquiry
	requests  []InvoiceRequest
	inquired  int
}

// NewMockGateway creates a MockGateway that never fails.
func NewMockGateway() *MockGateway {
	return &MockGateway{inquiries: make(map[string]Inquiry)}
}

func (g *MockGateway) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	if g.FailureRate > 0 && rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("%w: mock gateway temporarily unavailable", ErrUnavailable)
	}

	// Format: MOCK-YYYYMMDD-NNNNNN
	trackID := fmt.Sprintf("MOCK-%s-%06d", time.Now().UTC().Format("20060102"), g.seq.Add(1))
	expires := time.Now().Add(time.Duration(req.LifetimeMinutes) * time.Minute).UTC()

	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.inquiries[trackID] = Inquiry{
		TrackID:   trackID,
		Status:    "New",
		Amount:    req.Amount,
		ExpiresAt: &expires,
	}
	g.mu.Unlock()

	return &Invoice{
		TrackID:   trackID,
		PayLink:   "https://pay.mock.local/" + trackID,
		ExpiresAt: &expires,
	}, nil
}

func (g *MockGateway) Inquire(ctx context.Context, trackID string) (*Inquiry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inquired++
	if g.InquireErr != nil {
		return nil, g.InquireErr
	}
	inq, ok := g.inquiries[trackID]
	if !ok {
		return nil, &Error{Result: 102, Message: "invalid trackId"}
	}
	return &inq, nil
}

// SetInquiry replaces what Inquire reports for a track id.
func (g *MockGateway) SetInquiry(inq Inquiry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inquiries[inq.TrackID] = inq
}

// Requests returns every invoice request received so far.
func (g *MockGateway) Requests() []InvoiceRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]InvoiceRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

// InquiryCount reports how many Inquire calls reached the mock.
func (g *MockGateway) InquiryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inquired
}
