// Package coupon applies seller-scoped percentage coupons to carts.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

var applications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_coupon_applications_total",
		Help: "Coupon apply attempts by result code.",
	},
	[]string{"result"},
)

// Evaluator validates coupons and prices them into a cart.
type Evaluator struct {
	coupons repository.CouponStore
	now     func() time.Time
}

// NewEvaluator creates an evaluator. A nil now uses the wall clock.
func NewEvaluator(coupons repository.CouponStore, now func() time.Time) *Evaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{coupons: coupons, now: now}
}

// Apply attaches the coupon with code to a copy of cart and returns it with
// a confirmation message. The discount covers merchandise and shipping of
// the coupon seller's purchasable lines. On error cart is returned as given.
func (e *Evaluator) Apply(ctx context.Context, cart domain.Cart, code string) (domain.Cart, string, error) {
	out, msg, err := e.apply(ctx, cart, code)
	result := "ok"
	if err != nil {
		result = apperrors.Code(err)
		if result == "" {
			result = "error"
		}
	}
	applications.WithLabelValues(result).Inc()
	return out, msg, err
}

func (e *Evaluator) apply(ctx context.Context, cart domain.Cart, code string) (domain.Cart, string, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return cart, "", domain.InvalidCoupon(code)
	}

	c, err := e.coupons.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return cart, "", domain.InvalidCoupon(normalized)
		}
		return cart, "", fmt.Errorf("find coupon: %w", err)
	}

	if cart.AppliedCoupon != nil {
		return cart, "", domain.CouponAlreadyApplied(cart.AppliedCoupon.Code)
	}
	if !c.ActiveAt(e.now()) {
		return cart, "", domain.CouponExpired(c.Code)
	}
	if _, ok := cart.ScopedTotal(c.SellerID); !ok {
		return cart, "", domain.NoEligibleItems(c.Code)
	}

	out := cart.Clone()
	out.AppliedCoupon = &domain.AppliedCoupon{
		CouponID:        c.ID,
		Code:            c.Code,
		SellerID:        c.SellerID,
		DiscountPercent: c.DiscountPercent,
	}
	out.Recalculate()

	msg := fmt.Sprintf("Coupon %s applied: %s%% off, you save %s",
		c.Code, c.DiscountPercent.String(), out.AppliedCoupon.DiscountAmount.StringFixed(2))
	return out, msg, nil
}

// Remove returns a copy of cart without its coupon, totals recomputed.
func (e *Evaluator) Remove(cart domain.Cart) domain.Cart {
	out := cart.Clone()
	out.AppliedCoupon = nil
	out.Recalculate()
	return out
}

// Revalidate re-derives the attached coupon against cart's current lines.
// When the coupon's seller no longer has a purchasable line the coupon is
// dropped and a notice added. It reports whether the coupon was dropped.
func Revalidate(cart *domain.Cart) bool {
	applied := cart.AppliedCoupon
	if applied == nil {
		cart.Recalculate()
		return false
	}

	if _, ok := cart.ScopedTotal(applied.SellerID); ok {
		cart.Recalculate()
		return false
	}

	cart.AppliedCoupon = nil
	cart.Notices = append(cart.Notices, domain.Notice{
		Code:    domain.CodeCouponRemoved,
		Message: fmt.Sprintf("coupon %s was removed: no eligible items remain", applied.Code),
	})
	cart.Recalculate()
	return true
}
