package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============================================================================
// Money
// ============================================================================

func TestRound2_HalfAwayFromZero(t *testing.T) {
	assert.True(t, d("0.01").Equal(Round2(d("0.005"))))
	assert.True(t, d("-0.01").Equal(Round2(d("-0.005"))))
	assert.True(t, d("2.34").Equal(Round2(d("2.344"))))
}

func TestDiscountedPrice(t *testing.T) {
	assert.True(t, d("8.50").Equal(DiscountedPrice(d("10"), d("15"))))
	assert.True(t, d("33.33").Equal(DiscountedPrice(d("33.33"), decimal.Zero)))
	assert.True(t, d("6.67").Equal(DiscountedPrice(d("10"), d("33.33"))))
}

func TestPercent(t *testing.T) {
	assert.True(t, d("2.40").Equal(Percent(d("24"), d("10"))))
	assert.True(t, d("0.33").Equal(Percent(d("1.10"), d("30"))))
}

// ============================================================================
// Cart
// ============================================================================

func line(seller string, price string, qty int, fee string) CartLineItem {
	return CartLineItem{
		ProductID:           "p-" + seller,
		VariantID:           "v",
		SizeID:              "s",
		SellerID:            seller,
		Quantity:            qty,
		PurchasableQuantity: qty,
		UnitPrice:           d(price),
		StockAtQuoteTime:    qty,
		ShippingFee:         d(fee),
		Valid:               true,
	}
}

func TestCartRecalculate_ExcludesInvalidLines(t *testing.T) {
	out := line("B", "20", 1, "5")
	out.Valid = false
	out.PurchasableQuantity = 0

	c := Cart{Lines: []CartLineItem{line("A", "10", 2, "4"), out}}
	c.Recalculate()

	assert.True(t, d("20").Equal(c.SubTotal))
	assert.True(t, d("4").Equal(c.ShippingFeesTotal))
	assert.True(t, decimal.Zero.Equal(c.DiscountTotal))
	assert.True(t, d("24").Equal(c.GrandTotal))
}

func TestCartRecalculate_RederivesCouponFromScratch(t *testing.T) {
	c := Cart{
		Lines: []CartLineItem{line("A", "10", 2, "4"), line("B", "20", 1, "5")},
		AppliedCoupon: &AppliedCoupon{
			Code:            "SAVE10",
			SellerID:        "A",
			DiscountPercent: d("10"),
			DiscountAmount:  d("999"),
		},
	}
	c.Recalculate()
	c.Recalculate()

	assert.True(t, d("2.40").Equal(c.AppliedCoupon.DiscountAmount))
	assert.True(t, d("2.40").Equal(c.DiscountTotal))
	assert.True(t, d("46.60").Equal(c.GrandTotal))
}

func TestCartClone_IsDeep(t *testing.T) {
	c := Cart{
		Lines:         []CartLineItem{line("A", "10", 1, "0")},
		AppliedCoupon: &AppliedCoupon{Code: "X"},
	}
	cp := c.Clone()
	cp.Lines[0].Quantity = 7
	cp.AppliedCoupon.Code = "Y"

	assert.Equal(t, 1, c.Lines[0].Quantity)
	assert.Equal(t, "X", c.AppliedCoupon.Code)
}

func TestCartFindLine(t *testing.T) {
	c := Cart{Lines: []CartLineItem{line("A", "1", 1, "0"), line("B", "1", 1, "0")}}
	assert.Equal(t, 1, c.FindLine(LineKey{ProductID: "p-B", VariantID: "v", SizeID: "s"}))
	assert.Equal(t, -1, c.FindLine(LineKey{ProductID: "nope"}))
}

func TestScopedTotal(t *testing.T) {
	c := Cart{Lines: []CartLineItem{line("A", "10", 2, "4"), line("B", "20", 1, "5")}}

	total, ok := c.ScopedTotal("A")
	assert.True(t, ok)
	assert.True(t, d("24").Equal(total))

	_, ok = c.ScopedTotal("C")
	assert.False(t, ok)
}

func TestSameValuation_IgnoresNotices(t *testing.T) {
	a := line("A", "10", 1, "0")
	b := a.Clone()
	b.Notices = []Notice{{Code: CodeInsufficientStock}}
	assert.True(t, a.SameValuation(b))

	b.UnitPrice = d("10.01")
	assert.False(t, a.SameValuation(b))
}

// ============================================================================
// Coupon
// ============================================================================

func TestCouponActiveAt_InclusiveBounds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	c := Coupon{StartDate: start, EndDate: end}

	assert.True(t, c.ActiveAt(start))
	assert.True(t, c.ActiveAt(end))
	assert.False(t, c.ActiveAt(start.Add(-time.Second)))
	assert.False(t, c.ActiveAt(end.Add(time.Second)))
}

func TestNormalizeCouponCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCouponCode("  save10 "))
}

// ============================================================================
// Order
// ============================================================================

func TestGroupTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{GroupStatusPending, GroupStatusConfirmed, true},
		{GroupStatusPending, GroupStatusCancelled, true},
		{GroupStatusConfirmed, GroupStatusShipped, true},
		{GroupStatusConfirmed, GroupStatusCancelled, true},
		{GroupStatusShipped, GroupStatusDelivered, true},
		{GroupStatusShipped, GroupStatusCancelled, false},
		{GroupStatusPending, GroupStatusShipped, false},
		{GroupStatusDelivered, GroupStatusPending, false},
		{GroupStatusCancelled, GroupStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			g := &OrderGroup{Status: tt.from}
			assert.Equal(t, tt.ok, g.CanTransitionTo(tt.to))
		})
	}
}

func TestAllowedTransitions_CoversEveryStatus(t *testing.T) {
	transitions := AllowedTransitions()
	for _, s := range ValidGroupStatuses() {
		_, ok := transitions[s]
		assert.True(t, ok, "status %s has no transition entry", s)
	}
	assert.False(t, IsValidGroupStatus("REFUNDED"))
}

func TestAddressComplete(t *testing.T) {
	var nilAddr *Address
	assert.False(t, nilAddr.Complete())

	a := &Address{FullName: "Ada", AddressLine: "1 Main", City: "Izmir", PostalCode: "35000", Country: "TR"}
	assert.True(t, a.Complete())

	a.City = "  "
	assert.False(t, a.Complete())
}

func TestOrderTotal(t *testing.T) {
	o := Order{Groups: []OrderGroup{{Total: d("24")}, {Total: d("25")}}}
	assert.True(t, d("49").Equal(o.Total()))
	assert.NotNil(t, o.Group(""))
	assert.Nil(t, o.Group("missing"))
}

// ============================================================================
// Errors
// ============================================================================

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err    *apperrors.AppError
		code   string
		status int
	}{
		{InvalidCoupon("X"), CodeInvalidCoupon, 422},
		{CouponExpired("X"), CodeCouponExpired, 422},
		{CouponAlreadyApplied("X"), CodeCouponAlreadyApplied, 409},
		{NoEligibleItems("X"), CodeNoEligibleItems, 422},
		{EmptyCart(), CodeEmptyCart, 422},
		{AddressRequired(), CodeAddressRequired, 400},
		{StockConflictError(nil), CodeStockConflict, 409},
		{InvalidTransition("A", "B"), CodeInvalidTransition, 409},
		{CartChanged(&Cart{}), CodeCartChanged, 409},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, apperrors.HTTPStatus(tt.err))
		})
	}
}

func TestStockConflictError_CarriesDetails(t *testing.T) {
	conflicts := []StockConflict{{ProductID: "p", VariantID: "v", SizeID: "s", Requested: 1, Available: 0}}
	err := StockConflictError(conflicts)
	assert.Equal(t, conflicts, err.Details)
}

func TestOrderDemand_SumsAndSorts(t *testing.T) {
	o := &Order{Groups: []OrderGroup{
		{Lines: []OrderLine{
			{ProductID: "p2", VariantID: "v", SizeID: "s", Quantity: 1},
			{ProductID: "p1", VariantID: "v", SizeID: "s", Quantity: 2},
		}},
		{Lines: []OrderLine{
			{ProductID: "p2", VariantID: "v", SizeID: "s", Quantity: 3},
		}},
	}}

	demand := o.Demand()
	assert.Equal(t, []StockDemand{
		{Key: LineKey{ProductID: "p1", VariantID: "v", SizeID: "s"}, Quantity: 2},
		{Key: LineKey{ProductID: "p2", VariantID: "v", SizeID: "s"}, Quantity: 4},
	}, demand)
}

func TestOrderDemand_OrderIsByFieldsNotJoinedString(t *testing.T) {
	slashed := LineKey{ProductID: "a/b", VariantID: "c", SizeID: "d"}
	plain := LineKey{ProductID: "a", VariantID: "b/c", SizeID: "d"}
	is := assert.New(t)
	is.Equal(slashed.String(), plain.String())

	line := func(k LineKey) OrderLine {
		return OrderLine{ProductID: k.ProductID, VariantID: k.VariantID, SizeID: k.SizeID, Quantity: 1}
	}
	for _, lines := range [][]OrderLine{
		{line(slashed), line(plain)},
		{line(plain), line(slashed)},
	} {
		o := &Order{Groups: []OrderGroup{{Lines: lines}}}
		demand := o.Demand()
		is.Len(demand, 2)
		is.Equal(plain, demand[0].Key)
		is.Equal(slashed, demand[1].Key)
	}
}

func TestLineKey_Less(t *testing.T) {
	k := LineKey{ProductID: "p", VariantID: "v", SizeID: "m"}
	assert.True(t, k.Less(LineKey{ProductID: "q", VariantID: "a", SizeID: "a"}))
	assert.True(t, k.Less(LineKey{ProductID: "p", VariantID: "w", SizeID: "a"}))
	assert.True(t, k.Less(LineKey{ProductID: "p", VariantID: "v", SizeID: "s"}))
	assert.False(t, k.Less(k))
}

func TestCancellableStatuses(t *testing.T) {
	assert.Equal(t, []string{GroupStatusPending, GroupStatusConfirmed}, CancellableStatuses())
}
