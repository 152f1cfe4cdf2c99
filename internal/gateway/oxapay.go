package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultBaseURL     = "https://api.oxapay.com"
	invoicePath        = "/merchants/request"
	inquiryPath        = "/merchants/inquiry"
	inquiryMaxAttempts = 3
)

type OxapayConfig struct {
	BaseURL     string
	MerchantKey string
	Timeout     time.Duration
}

// OxapayClient talks to the gateway's merchant API over HTTPS.
type OxapayClient struct {
	baseURL     string
	merchantKey string
	httpClient  *http.Client
	backoff     time.Duration
}

func NewOxapayClient(cfg OxapayConfig) *OxapayClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OxapayClient{
		baseURL:     baseURL,
		merchantKey: cfg.MerchantKey,
		httpClient:  &http.Client{Timeout: timeout},
		backoff:     200 * time.Millisecond,
	}
}

// WithBackoff sets the base delay between inquiry retries.
func (c *OxapayClient) WithBackoff(d time.Duration) *OxapayClient {
	c.backoff = d
	return c
}

type invoiceRequestBody struct {
	Merchant       string      `json:"merchant"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	LifeTime       int         `json:"lifeTime"`
	FeePaidByPayer int         `json:"feePaidByPayer"`
	CallbackURL    string      `json:"callbackUrl"`
	ReturnURL      string      `json:"returnUrl,omitempty"`
	Description    string      `json:"description,omitempty"`
	OrderID        string      `json:"orderId"`
}

type invoiceResponseBody struct {
	Result    int        `json:"result"`
	Message   string     `json:"message"`
	TrackID   FlexString `json:"trackId"`
	PayLink   string     `json:"payLink"`
	ExpiredAt UnixTime   `json:"expiredAt"`
}

// CreateInvoice is deliberately not retried: a lost response could otherwise
// mint a second invoice for the same order.
func (c *OxapayClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	fee := 0
	if req.FeePaidByPayer {
		fee = 1
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	body := invoiceRequestBody{
		Merchant:       c.merchantKey,
		Amount:         json.Number(req.Amount.String()),
		Currency:       currency,
		LifeTime:       req.LifetimeMinutes,
		FeePaidByPayer: fee,
		CallbackURL:    req.CallbackURL,
		ReturnURL:      req.ReturnURL,
		Description:    req.Description,
		OrderID:        req.OrderID,
	}

	var resp invoiceResponseBody
	start := time.Now()
	err := c.post(ctx, invoicePath, body, &resp)
	if err == nil && resp.Result != ResultOK {
		err = &Error{Result: resp.Result, Message: resp.Message}
	}
	observability.ObserveGatewayCall("create_invoice", gatewayOutcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if resp.TrackID == "" || resp.PayLink == "" {
		return nil, fmt.Errorf("%w: invoice response missing trackId or payLink", ErrUnavailable)
	}

	return &Invoice{
		TrackID:   resp.TrackID.String(),
		PayLink:   resp.PayLink,
		ExpiresAt: resp.ExpiredAt.Ptr(),
	}, nil
}

type inquiryRequestBody struct {
	Merchant string `json:"merchant"`
	TrackID  string `json:"trackId"`
}

type inquiryResponseBody struct {
	Result      int             `json:"result"`
	Message     string          `json:"message"`
	TrackID     FlexString      `json:"trackId"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	PayAmount   decimal.Decimal `json:"payAmount"`
	PayCurrency string          `json:"payCurrency"`
	Network     string          `json:"network"`
	Address     string          `json:"address"`
	TxID        string          `json:"txID"`
	ExpiredAt   UnixTime        `json:"expiredAt"`
}

// Inquire retries transport failures with exponential backoff. Non-success
// results from the gateway are returned immediately.
func (c *OxapayClient) Inquire(ctx context.Context, trackID string) (*Inquiry, error) {
	var (
		resp    inquiryResponseBody
		lastErr error
	)
	delay := c.backoff
	for attempt := 1; attempt <= inquiryMaxAttempts; attempt++ {
		resp = inquiryResponseBody{}
		start := time.Now()
		lastErr = c.post(ctx, inquiryPath, inquiryRequestBody{Merchant: c.merchantKey, TrackID: trackID}, &resp)
		if lastErr == nil && resp.Result != ResultOK {
			lastErr = &Error{Result: resp.Result, Message: resp.Message}
		}
		observability.ObserveGatewayCall("inquiry", gatewayOutcome(lastErr), time.Since(start))

		if lastErr == nil || !errors.Is(lastErr, ErrUnavailable) || attempt == inquiryMaxAttempts {
			break
		}
		zap.L().Warn("gateway inquiry failed, retrying",
			zap.String("track_id", trackID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	if lastErr != nil {
		return nil, lastErr
	}

	tid := resp.TrackID.String()
	if tid == "" {
		tid = trackID
	}
	return &Inquiry{
		TrackID:     tid,
		Status:      NormalizeStatus(resp.Status),
		Amount:      resp.Amount,
		PayAmount:   resp.PayAmount,
		PayCurrency: resp.PayCurrency,
		Network:     resp.Network,
		Address:     resp.Address,
		TxID:        resp.TxID,
		ExpiresAt:   resp.ExpiredAt.Ptr(),
	}, nil
}

func (c *OxapayClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: http %d", ErrUnavailable, res.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode http %d response: %v", ErrUnavailable, res.StatusCode, err)
	}
	return nil
}

func gatewayOutcome(err error) string {
	var gwErr *Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &gwErr):
		return "rejected"
	default:
		return "unavailable"
	}
}
