package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineKey identifies a cart line by what was selected.
type LineKey struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	SizeID    string `json:"size_id"`
}

func (k LineKey) String() string {
	return k.ProductID + "/" + k.VariantID + "/" + k.SizeID
}

// Less orders keys by product, then variant, then size.
func (k LineKey) Less(o LineKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	if k.VariantID != o.VariantID {
		return k.VariantID < o.VariantID
	}
	return k.SizeID < o.SizeID
}

// Notice is a non-fatal message about a cart line or the cart itself.
type Notice struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Line    *LineKey `json:"line,omitempty"`
}

// CartLineItem is one (product, variant, size) selection. Every field after
// Quantity is derived from the catalog by reconciliation.
type CartLineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	SizeID    string `json:"size_id"`
	SellerID  string `json:"seller_id"`
	Quantity  int    `json:"quantity"`

	PurchasableQuantity               int             `json:"purchasable_quantity"`
	BasePrice                         decimal.Decimal `json:"base_price"`
	DiscountPercent                   decimal.Decimal `json:"discount_percent"`
	UnitPrice                         decimal.Decimal `json:"unit_price"`
	StockAtQuoteTime                  int             `json:"stock_at_quote_time"`
	Weight                            decimal.Decimal `json:"weight"`
	ShippingMethod                    ShippingMethod  `json:"shipping_method"`
	ShippingFee                       decimal.Decimal `json:"shipping_fee"`
	ExtraShippingFeePerAdditionalUnit decimal.Decimal `json:"extra_shipping_fee_per_additional_unit"`
	IsFreeShipping                    bool            `json:"is_free_shipping"`
	DeliveryTimeMinDays               int             `json:"delivery_time_min_days"`
	DeliveryTimeMaxDays               int             `json:"delivery_time_max_days"`
	ShippingServiceName               string          `json:"shipping_service_name"`
	ReturnPolicy                      string          `json:"return_policy"`
	Valid                             bool            `json:"valid"`
	Notices                           []Notice        `json:"notices,omitempty"`
}

// Key returns the line's identity.
func (l CartLineItem) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.VariantID, SizeID: l.SizeID}
}

// Purchasable reports whether the line counts toward totals.
func (l CartLineItem) Purchasable() bool {
	return l.Valid && l.PurchasableQuantity >= 1
}

// LineTotal is UnitPrice × PurchasableQuantity.
func (l CartLineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.PurchasableQuantity)))
}

// SameValuation reports whether every catalog-derived field of l equals
// the one in o. Notices are ignored.
func (l CartLineItem) SameValuation(o CartLineItem) bool {
	return l.Key() == o.Key() &&
		l.SellerID == o.SellerID &&
		l.Quantity == o.Quantity &&
		l.PurchasableQuantity == o.PurchasableQuantity &&
		l.BasePrice.Equal(o.BasePrice) &&
		l.DiscountPercent.Equal(o.DiscountPercent) &&
		l.UnitPrice.Equal(o.UnitPrice) &&
		l.StockAtQuoteTime == o.StockAtQuoteTime &&
		l.Weight.Equal(o.Weight) &&
		l.ShippingMethod == o.ShippingMethod &&
		l.ShippingFee.Equal(o.ShippingFee) &&
		l.ExtraShippingFeePerAdditionalUnit.Equal(o.ExtraShippingFeePerAdditionalUnit) &&
		l.IsFreeShipping == o.IsFreeShipping &&
		l.DeliveryTimeMinDays == o.DeliveryTimeMinDays &&
		l.DeliveryTimeMaxDays == o.DeliveryTimeMaxDays &&
		l.ShippingServiceName == o.ShippingServiceName &&
		l.ReturnPolicy == o.ReturnPolicy &&
		l.Valid == o.Valid
}

// Clone deep-copies the line.
func (l CartLineItem) Clone() CartLineItem {
	if l.Notices != nil {
		l.Notices = append([]Notice(nil), l.Notices...)
	}
	return l
}

// AppliedCoupon is the snapshot of a coupon attached to a cart.
type AppliedCoupon struct {
	CouponID        string          `json:"coupon_id"`
	Code            string          `json:"code"`
	SellerID        string          `json:"seller_id"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
}

// Cart is a buyer's multi-seller basket. It is a value: operations take a
// Cart and return a new one.
type Cart struct {
	ID                 string          `json:"id"`
	BuyerID            string          `json:"buyer_id"`
	Lines              []CartLineItem  `json:"lines"`
	AppliedCoupon      *AppliedCoupon  `json:"applied_coupon,omitempty"`
	DestinationCountry string          `json:"destination_country,omitempty"`
	SubTotal           decimal.Decimal `json:"sub_total"`
	ShippingFeesTotal  decimal.Decimal `json:"shipping_fees_total"`
	DiscountTotal      decimal.Decimal `json:"discount_total"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	Notices            []Notice        `json:"notices,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
}

// NewCart returns an empty cart for buyerID.
func NewCart(id, buyerID string, now time.Time, ttl time.Duration) Cart {
	return Cart{
		ID:        id,
		BuyerID:   buyerID,
		Lines:     []CartLineItem{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Clone deep-copies the cart.
func (c Cart) Clone() Cart {
	lines := make([]CartLineItem, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = l.Clone()
	}
	c.Lines = lines
	if c.AppliedCoupon != nil {
		cp := *c.AppliedCoupon
		c.AppliedCoupon = &cp
	}
	if c.Notices != nil {
		c.Notices = append([]Notice(nil), c.Notices...)
	}
	return c
}

// FindLine returns the index of the line with key, or -1.
func (c Cart) FindLine(key LineKey) int {
	for i, l := range c.Lines {
		if l.Key() == key {
			return i
		}
	}
	return -1
}

// PurchasableLines returns the lines that count toward totals.
func (c Cart) PurchasableLines() []CartLineItem {
	out := make([]CartLineItem, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.Purchasable() {
			out = append(out, l)
		}
	}
	return out
}

// ScopedTotal is merchandise plus shipping over sellerID's purchasable
// lines, the base a seller coupon discounts.
func (c Cart) ScopedTotal(sellerID string) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, l := range c.Lines {
		if l.SellerID != sellerID || !l.Purchasable() {
			continue
		}
		found = true
		total = total.Add(l.LineTotal()).Add(l.ShippingFee)
	}
	return total, found
}

// Recalculate recomputes every total from the lines and, when a coupon is
// attached, its discount. It never adjusts a previous total.
func (c *Cart) Recalculate() {
	sub, ship := decimal.Zero, decimal.Zero
	for _, l := range c.Lines {
		if !l.Purchasable() {
			continue
		}
		sub = sub.Add(l.LineTotal())
		ship = ship.Add(l.ShippingFee)
	}
	c.SubTotal = Round2(sub)
	c.ShippingFeesTotal = Round2(ship)

	c.DiscountTotal = decimal.Zero
	if c.AppliedCoupon != nil {
		scoped, _ := c.ScopedTotal(c.AppliedCoupon.SellerID)
		c.AppliedCoupon.DiscountAmount = Percent(scoped, c.AppliedCoupon.DiscountPercent)
		c.DiscountTotal = c.AppliedCoupon.DiscountAmount
	}

	c.GrandTotal = c.SubTotal.Add(c.ShippingFeesTotal).Sub(c.DiscountTotal)
}
