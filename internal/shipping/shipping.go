// Package shipping computes per-line shipping fees from a seller's shipping
// settings.
package shipping

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
)

// System defaults used when neither the country override nor the seller
// default sets a parameter.
const (
	DefaultServiceName  = "International Delivery"
	DefaultReturnPolicy = "Returns accepted within 14 days of delivery in original condition."
)

// Config is everything Quote needs to know about one line's seller and
// destination. Defaults and Override may be nil.
type Config struct {
	Defaults     *domain.ShippingDefaults
	Override     *domain.ShippingOverride
	FreeEligible bool
}

// Result is the computed shipping for one line.
type Result struct {
	Fee          decimal.Decimal
	ExtraFee     decimal.Decimal
	IsFree       bool
	DeliveryMin  int
	DeliveryMax  int
	ServiceName  string
	ReturnPolicy string
}

// Quote computes the shipping fee for quantity units of weight kg each,
// shipped with method to country.
func Quote(cfg Config, method domain.ShippingMethod, country string, quantity int, weight decimal.Decimal) Result {
	levels := cfg.levels(country)

	res := Result{
		DeliveryMin:  resolveInt(levels, func(r domain.ShippingRates) *int { return r.DeliveryMinDays }),
		DeliveryMax:  resolveInt(levels, func(r domain.ShippingRates) *int { return r.DeliveryMaxDays }),
		ServiceName:  resolveString(levels, func(r domain.ShippingRates) *string { return r.ServiceName }, DefaultServiceName),
		ReturnPolicy: resolveString(levels, func(r domain.ShippingRates) *string { return r.ReturnPolicy }, DefaultReturnPolicy),
		Fee:          decimal.Zero,
		ExtraFee:     decimal.Zero,
	}

	if (cfg.Defaults != nil && cfg.Defaults.FreeShippingEverywhere) || cfg.FreeEligible {
		res.IsFree = true
		return res
	}

	q := decimal.NewFromInt(int64(quantity))
	switch method {
	case domain.ShippingPerItem:
		base := resolveDecimal(levels, func(r domain.ShippingRates) *decimal.Decimal { return r.FeePerItem })
		extra := resolveDecimal(levels, func(r domain.ShippingRates) *decimal.Decimal { return r.FeePerAdditionalItem })
		additional := decimal.NewFromInt(int64(max(quantity-1, 0)))
		res.Fee = base.Add(extra.Mul(additional))
		res.ExtraFee = extra
	case domain.ShippingPerWeight:
		perKg := resolveDecimal(levels, func(r domain.ShippingRates) *decimal.Decimal { return r.FeePerKg })
		res.Fee = perKg.Mul(weight).Mul(q)
	case domain.ShippingFixed:
		res.Fee = resolveDecimal(levels, func(r domain.ShippingRates) *decimal.Decimal { return r.FixedFee })
	}

	res.Fee = domain.Round2(res.Fee)
	res.ExtraFee = domain.Round2(res.ExtraFee)
	return res
}

// levels returns the rate sets in resolution order: the override for
// country, then the seller default.
func (c Config) levels(country string) []domain.ShippingRates {
	out := make([]domain.ShippingRates, 0, 2)
	if c.Override != nil && strings.EqualFold(c.Override.Country, country) {
		out = append(out, c.Override.ShippingRates)
	}
	if c.Defaults != nil {
		out = append(out, c.Defaults.ShippingRates)
	}
	return out
}

func resolveDecimal(levels []domain.ShippingRates, field func(domain.ShippingRates) *decimal.Decimal) decimal.Decimal {
	for _, l := range levels {
		if v := field(l); v != nil {
			return *v
		}
	}
	return decimal.Zero
}

func resolveInt(levels []domain.ShippingRates, field func(domain.ShippingRates) *int) int {
	for _, l := range levels {
		if v := field(l); v != nil {
			return *v
		}
	}
	return 0
}

func resolveString(levels []domain.ShippingRates, field func(domain.ShippingRates) *string, fallback string) string {
	for _, l := range levels {
		if v := field(l); v != nil && *v != "" {
			return *v
		}
	}
	return fallback
}
