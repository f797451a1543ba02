// Package order splits valued carts into per-seller order groups and runs
// each group's fulfilment state machine.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// conservationTolerance is the largest accepted gap between the sum of
// group totals and the cart's grand total.
var conservationTolerance = decimal.New(1, -2)

// Builder turns a valued cart into an order with one group per seller.
type Builder struct {
	currency string
	newID    func() string
	now      func() time.Time
}

// NewBuilder creates a builder for orders in currency.
func NewBuilder(currency string) *Builder {
	return &Builder{
		currency: currency,
		newID:    func() string { return uuid.New().String() },
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Build partitions cart's purchasable lines by seller, in first-seen order,
// and prices each group. The cart must already be reconciled; Build does
// not look anything up and does not touch stock.
func (b *Builder) Build(buyerID string, address *domain.Address, cart domain.Cart) (*domain.Order, error) {
	lines := cart.PurchasableLines()
	if len(lines) == 0 {
		return nil, domain.EmptyCart()
	}
	if !address.Complete() {
		return nil, domain.AddressRequired()
	}

	now := b.now()
	o := &domain.Order{
		ID:              b.newID(),
		BuyerID:         buyerID,
		CartID:          cart.ID,
		ShippingAddress: *address,
		GrandTotal:      cart.GrandTotal,
		Currency:        b.currency,
		PaymentStatus:   domain.PaymentStatusPending,
		CreatedAt:       now,
	}

	index := make(map[string]int)
	for _, l := range lines {
		i, ok := index[l.SellerID]
		if !ok {
			i = len(o.Groups)
			index[l.SellerID] = i
			o.Groups = append(o.Groups, domain.OrderGroup{
				ID:                b.newID(),
				OrderID:           o.ID,
				SellerID:          l.SellerID,
				SubTotal:          decimal.Zero,
				ShippingFeesTotal: decimal.Zero,
				DiscountAmount:    decimal.Zero,
				Status:            domain.GroupStatusPending,
				UpdatedAt:         now,
			})
		}

		g := &o.Groups[i]
		g.Lines = append(g.Lines, b.snapshot(g.ID, l))
		g.SubTotal = g.SubTotal.Add(l.LineTotal())
		g.ShippingFeesTotal = g.ShippingFeesTotal.Add(l.ShippingFee)
	}

	sum := decimal.Zero
	for i := range o.Groups {
		g := &o.Groups[i]
		if c := cart.AppliedCoupon; c != nil && c.SellerID == g.SellerID {
			g.CouponID = c.CouponID
			g.CouponCode = c.Code
			g.DiscountAmount = c.DiscountAmount
		}
		g.SubTotal = domain.Round2(g.SubTotal)
		g.ShippingFeesTotal = domain.Round2(g.ShippingFeesTotal)
		g.Total = g.SubTotal.Add(g.ShippingFeesTotal).Sub(g.DiscountAmount)
		sum = sum.Add(g.Total)
	}

	if sum.Sub(cart.GrandTotal).Abs().GreaterThan(conservationTolerance) {
		return nil, apperrors.Internal(fmt.Errorf(
			"group totals %s do not add up to cart total %s", sum.StringFixed(2), cart.GrandTotal.StringFixed(2)))
	}

	return o, nil
}

func (b *Builder) snapshot(groupID string, l domain.CartLineItem) domain.OrderLine {
	return domain.OrderLine{
		ID:                  b.newID(),
		GroupID:             groupID,
		ProductID:           l.ProductID,
		VariantID:           l.VariantID,
		SizeID:              l.SizeID,
		Quantity:            l.PurchasableQuantity,
		UnitPrice:           l.UnitPrice,
		Weight:              l.Weight,
		ShippingMethod:      l.ShippingMethod,
		ShippingFee:         l.ShippingFee,
		IsFreeShipping:      l.IsFreeShipping,
		DeliveryTimeMinDays: l.DeliveryTimeMinDays,
		DeliveryTimeMaxDays: l.DeliveryTimeMaxDays,
		ShippingServiceName: l.ShippingServiceName,
		ReturnPolicy:        l.ReturnPolicy,
	}
}
