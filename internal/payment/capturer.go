package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
)

// Settlement statuses reported by the payment service.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Settlement is the outcome of a successful capture.
type Settlement struct {
	Reference  string
	Amount     decimal.Decimal
	Currency   string
	CapturedAt time.Time
}

// Capturer captures the full amount of a committed order.
type Capturer interface {
	Capture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*Settlement, error)
}

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CircuitOpenFallback replaces the raw breaker error with a structured one
// carrying a retry hint.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("payment service is temporarily unavailable, please retry after 30 seconds")
}

// HTTPCapturer captures payments through the payment service's REST API.
type HTTPCapturer struct {
	client  HTTPDoer
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPCapturer creates a capturer calling baseURL. A zero timeout leaves
// the caller's deadline in charge.
func NewHTTPCapturer(client HTTPDoer, baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPCapturer {
	return &HTTPCapturer{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

type captureRequest struct {
	OrderID  string          `json:"order_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type captureResponse struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// Capture charges amount for orderID. The order id doubles as the
// idempotency key so retries of the same capture are never charged twice.
func (c *HTTPCapturer) Capture(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (*Settlement, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(captureRequest{OrderID: orderID, Amount: amount, Currency: currency})
	if err != nil {
		return nil, fmt.Errorf("marshal capture request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpclient.IdempotencyKeyHeader, orderID)

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call payment service: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		_ = resp.Body.Close()
		return nil, apperrors.PaymentFailed("payment was declined")
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, httpclient.ParseResponseError(resp, "payment")
	}
	defer func() { _ = resp.Body.Close() }()

	var out captureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode capture response: %w", err)
	}

	if out.Status != StatusSucceeded {
		reason := out.FailureReason
		if reason == "" {
			reason = "payment was declined"
		}
		return nil, apperrors.PaymentFailed(reason)
	}

	c.logger.InfoContext(ctx, "payment captured",
		slog.String("order_id", orderID),
		slog.String("payment_id", out.PaymentID),
	)

	return &Settlement{
		Reference:  out.PaymentID,
		Amount:     amount,
		Currency:   currency,
		CapturedAt: time.Now().UTC(),
	}, nil
}
