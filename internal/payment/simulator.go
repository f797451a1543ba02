package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Simulator is an in-process Capturer for local runs and tests. It approves
// every capture unless a decline limit is set and the amount exceeds it.
type Simulator struct {
	declineAbove decimal.Decimal
}

// NewSimulator creates a Simulator. A zero declineAbove approves everything.
func NewSimulator(declineAbove decimal.Decimal) *Simulator {
	return &Simulator{declineAbove: declineAbove}
}

// Capture approves or declines the capture.
func (s *Simulator) Capture(ctx context.Context, _ string, amount decimal.Decimal, currency string) (*Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.declineAbove.IsPositive() && amount.GreaterThan(s.declineAbove) {
		return nil, apperrors.PaymentFailed("amount exceeds the simulated card limit")
	}
	return &Settlement{
		Reference:  "sim_pay_" + uuid.New().String(),
		Amount:     amount,
		Currency:   currency,
		CapturedAt: time.Now().UTC(),
	}, nil
}

var (
	_ Capturer = (*HTTPCapturer)(nil)
	_ Capturer = (*Simulator)(nil)
)
