package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
)

// seedNamespace keeps generated ids stable across runs so re-seeding
// upserts instead of duplicating.
var seedNamespace = uuid.MustParse("6f1c2a57-3b9e-4d4a-9a51-0c7de2f0b8a1")

func stableID(kind string, parts ...any) string {
	return uuid.NewSHA1(seedNamespace, []byte(kind+":"+fmt.Sprint(parts...))).String()
}

var (
	colors  = []string{"black", "navy", "beige", "green", "burgundy", "grey"}
	sizes   = []string{"XS", "S", "M", "L", "XL"}
	methods = []domain.ShippingMethod{domain.ShippingPerItem, domain.ShippingPerWeight, domain.ShippingFixed}

	overrideCountries = []string{"DE", "NL", "GB"}
	serviceNames      = []string{"Aras Kargo", "Yurtici Kargo", "MNG Kargo"}
)

type freeShipping struct {
	ProductID string
	Country   string
}

// catalog is everything one seed run writes.
type catalog struct {
	Sizes     []domain.VariantSize
	Defaults  []domain.ShippingDefaults
	Overrides []domain.ShippingOverride
	Free      []freeShipping
	Coupons   []domain.Coupon
}

func money(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v).Round(2)
	return &d
}

func intp(v int) *int { return &v }

func strp(v string) *string { return &v }

// generate builds a deterministic catalog for the given seed.
func generate(sellers, productsPerSeller int, seed int64, now time.Time) catalog {
	rng := rand.New(rand.NewSource(seed))
	var out catalog

	for s := 0; s < sellers; s++ {
		sellerID := stableID("seller", s)
		minDays := 1 + rng.Intn(3)

		out.Defaults = append(out.Defaults, domain.ShippingDefaults{
			SellerID:               sellerID,
			FreeShippingEverywhere: s%7 == 6,
			ShippingRates: domain.ShippingRates{
				FeePerItem:           money(float64(15 + rng.Intn(20))),
				FeePerAdditionalItem: money(float64(2 + rng.Intn(6))),
				FeePerKg:             money(float64(5 + rng.Intn(10))),
				FixedFee:             money(float64(20 + rng.Intn(30))),
				DeliveryMinDays:      intp(minDays),
				DeliveryMaxDays:      intp(minDays + 2 + rng.Intn(4)),
				ServiceName:          strp(serviceNames[rng.Intn(len(serviceNames))]),
				ReturnPolicy:         strp(fmt.Sprintf("%d days free return", 14+rng.Intn(3)*7)),
			},
		})

		// Overrides are partial; unset rates fall back to the seller default.
		country := overrideCountries[s%len(overrideCountries)]
		out.Overrides = append(out.Overrides, domain.ShippingOverride{
			SellerID: sellerID,
			Country:  country,
			ShippingRates: domain.ShippingRates{
				FixedFee:        money(float64(60 + rng.Intn(40))),
				FeePerItem:      money(float64(40 + rng.Intn(20))),
				DeliveryMinDays: intp(5),
				DeliveryMaxDays: intp(10),
			},
		})

		out.Coupons = append(out.Coupons, domain.Coupon{
			ID:              stableID("coupon", s),
			Code:            fmt.Sprintf("SELLER%02d", s+1),
			DiscountPercent: decimal.NewFromInt(int64(5 + rng.Intn(26))),
			StartDate:       now.Add(-24 * time.Hour),
			EndDate:         now.Add(30 * 24 * time.Hour),
			SellerID:        sellerID,
		})

		for p := 0; p < productsPerSeller; p++ {
			productID := stableID("product", s, p)
			method := methods[rng.Intn(len(methods))]
			price := float64(100+rng.Intn(1900)) - 0.01
			discount := decimal.Zero
			if rng.Intn(4) == 0 {
				discount = decimal.NewFromInt(int64(10 + rng.Intn(5)*10))
			}

			for _, color := range pick(rng, colors, 1+rng.Intn(3)) {
				for _, size := range sizes {
					out.Sizes = append(out.Sizes, domain.VariantSize{
						ProductID:       productID,
						VariantID:       strings.ToLower(color),
						SizeID:          size,
						SellerID:        sellerID,
						Price:           *money(price),
						DiscountPercent: discount,
						Stock:           rng.Intn(40),
						Weight:          decimal.NewFromFloat(0.2 + float64(rng.Intn(30))/10).Round(3),
						ShippingMethod:  method,
					})
				}
			}

			if p%10 == 0 {
				out.Free = append(out.Free, freeShipping{ProductID: productID, Country: "TR"})
			}
		}
	}
	return out
}

// pick returns n distinct elements of from.
func pick(rng *rand.Rand, from []string, n int) []string {
	idx := rng.Perm(len(from))
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		out = append(out, from[i])
	}
	return out
}
