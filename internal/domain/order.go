package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Group status constants.
const (
	GroupStatusPending   = "PENDING"
	GroupStatusConfirmed = "CONFIRMED"
	GroupStatusShipped   = "SHIPPED"
	GroupStatusDelivered = "DELIVERED"
	GroupStatusCancelled = "CANCELLED"
)

// Payment status constants.
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusCaptured = "CAPTURED"
	PaymentStatusFailed   = "FAILED"
)

// Address is the shipping address snapshot stored with an order.
type Address struct {
	FullName    string `json:"full_name" validate:"required,max=200"`
	AddressLine string `json:"address_line" validate:"required,max=500"`
	City        string `json:"city" validate:"required,max=100"`
	State       string `json:"state,omitempty" validate:"max=100"`
	PostalCode  string `json:"postal_code" validate:"required,max=20"`
	Country     string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone       string `json:"phone,omitempty" validate:"max=30"`
}

// Complete reports whether every field needed to ship is present.
func (a *Address) Complete() bool {
	if a == nil {
		return false
	}
	for _, f := range []string{a.FullName, a.AddressLine, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// OrderLine is an immutable copy of a cart line taken at order time.
type OrderLine struct {
	ID                  string          `json:"id"`
	GroupID             string          `json:"group_id"`
	ProductID           string          `json:"product_id"`
	VariantID           string          `json:"variant_id"`
	SizeID              string          `json:"size_id"`
	Quantity            int             `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Weight              decimal.Decimal `json:"weight"`
	ShippingMethod      ShippingMethod  `json:"shipping_method"`
	ShippingFee         decimal.Decimal `json:"shipping_fee"`
	IsFreeShipping      bool            `json:"is_free_shipping"`
	DeliveryTimeMinDays int             `json:"delivery_time_min_days"`
	DeliveryTimeMaxDays int             `json:"delivery_time_max_days"`
	ShippingServiceName string          `json:"shipping_service_name"`
	ReturnPolicy        string          `json:"return_policy"`
}

// Key returns the (product, variant, size) the line was bought from.
func (l OrderLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.VariantID, SizeID: l.SizeID}
}

// LineTotal is UnitPrice × Quantity.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderGroup is the part of an order fulfilled by one seller.
type OrderGroup struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	SellerID          string          `json:"seller_id"`
	Lines             []OrderLine     `json:"lines"`
	SubTotal          decimal.Decimal `json:"sub_total"`
	ShippingFeesTotal decimal.Decimal `json:"shipping_fees_total"`
	CouponID          string          `json:"coupon_id,omitempty"`
	CouponCode        string          `json:"coupon_code,omitempty"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	Total             decimal.Decimal `json:"total"`
	Status            string          `json:"status"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Order is a buyer's purchase, split into one group per seller.
type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyer_id"`
	CartID           string          `json:"cart_id"`
	ShippingAddress  Address         `json:"shipping_address"`
	Groups           []OrderGroup    `json:"groups"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	Currency         string          `json:"currency"`
	PaymentStatus    string          `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ValidGroupStatuses returns all valid group statuses.
func ValidGroupStatuses() []string {
	return []string{
		GroupStatusPending,
		GroupStatusConfirmed,
		GroupStatusShipped,
		GroupStatusDelivered,
		GroupStatusCancelled,
	}
}

// IsValidGroupStatus checks if a status string is valid.
func IsValidGroupStatus(status string) bool {
	for _, s := range ValidGroupStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// AllowedTransitions defines which group status transitions are valid.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		GroupStatusPending:   {GroupStatusConfirmed, GroupStatusCancelled},
		GroupStatusConfirmed: {GroupStatusShipped, GroupStatusCancelled},
		GroupStatusShipped:   {GroupStatusDelivered},
		GroupStatusDelivered: {},
		GroupStatusCancelled: {},
	}
}

// CanTransitionTo checks if the group can move to the target status.
func (g *OrderGroup) CanTransitionTo(target string) bool {
	for _, s := range AllowedTransitions()[g.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// Total sums every group's total.
func (o *Order) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, g := range o.Groups {
		sum = sum.Add(g.Total)
	}
	return sum
}

// Group returns the group with id, or nil.
func (o *Order) Group(id string) *OrderGroup {
	for i := range o.Groups {
		if o.Groups[i].ID == id {
			return &o.Groups[i]
		}
	}
	return nil
}

// StockDemand is the quantity an order takes from one variant size.
type StockDemand struct {
	Key      LineKey
	Quantity int
}

// Demand sums line quantities per variant size, sorted by key so stock rows
// are always locked in the same order.
func (o *Order) Demand() []StockDemand {
	totals := make(map[LineKey]int)
	for _, g := range o.Groups {
		for _, l := range g.Lines {
			totals[l.Key()] += l.Quantity
		}
	}

	out := make([]StockDemand, 0, len(totals))
	for k, q := range totals {
		out = append(out, StockDemand{Key: k, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// CancellableStatuses lists the group statuses that may move to CANCELLED.
func CancellableStatuses() []string {
	var out []string
	for _, s := range ValidGroupStatuses() {
		for _, to := range AllowedTransitions()[s] {
			if to == GroupStatusCancelled {
				out = append(out, s)
			}
		}
	}
	return out
}
