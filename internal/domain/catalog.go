package domain

import "github.com/shopspring/decimal"

// ShippingMethod selects how a line's shipping fee is computed.
type ShippingMethod string

const (
	ShippingPerItem   ShippingMethod = "PER_ITEM"
	ShippingPerWeight ShippingMethod = "PER_WEIGHT"
	ShippingFixed     ShippingMethod = "FIXED"
)

// Valid reports whether m is a known method.
func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingPerItem, ShippingPerWeight, ShippingFixed:
		return true
	}
	return false
}

// VariantSize is the catalog's current truth for one purchasable
// (product, variant, size).
type VariantSize struct {
	ProductID       string          `json:"product_id"`
	VariantID       string          `json:"variant_id"`
	SizeID          string          `json:"size_id"`
	SellerID        string          `json:"seller_id"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Stock           int             `json:"stock"`
	Weight          decimal.Decimal `json:"weight"`
	ShippingMethod  ShippingMethod  `json:"shipping_method"`
}

// Key identifies the variant size.
func (v VariantSize) Key() LineKey {
	return LineKey{ProductID: v.ProductID, VariantID: v.VariantID, SizeID: v.SizeID}
}

// ShippingRates holds the shipping parameters a seller can set. Nil fields
// are unset and fall through to the next level of resolution.
type ShippingRates struct {
	FeePerItem           *decimal.Decimal `json:"fee_per_item,omitempty"`
	FeePerAdditionalItem *decimal.Decimal `json:"fee_per_additional_item,omitempty"`
	FeePerKg             *decimal.Decimal `json:"fee_per_kg,omitempty"`
	FixedFee             *decimal.Decimal `json:"fixed_fee,omitempty"`
	DeliveryMinDays      *int             `json:"delivery_min_days,omitempty"`
	DeliveryMaxDays      *int             `json:"delivery_max_days,omitempty"`
	ServiceName          *string          `json:"service_name,omitempty"`
	ReturnPolicy         *string          `json:"return_policy,omitempty"`
}

// ShippingDefaults are a seller's store-wide shipping settings.
type ShippingDefaults struct {
	SellerID               string `json:"seller_id"`
	FreeShippingEverywhere bool   `json:"free_shipping_everywhere"`
	ShippingRates
}

// ShippingOverride replaces a seller's defaults for one destination country.
type ShippingOverride struct {
	SellerID string `json:"seller_id"`
	Country  string `json:"country"`
	ShippingRates
}
