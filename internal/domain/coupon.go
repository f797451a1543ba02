package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Coupon is a seller-scoped percentage discount.
type Coupon struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	SellerID        string          `json:"seller_id"`
}

// ActiveAt reports whether StartDate ≤ now ≤ EndDate.
func (c Coupon) ActiveAt(now time.Time) bool {
	return !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// NormalizeCouponCode is the form codes are stored and looked up in.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
