package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CatalogRepository implements repository.CatalogLookup using PostgreSQL.
// It also carries the upserts used to seed a development catalog.
type CatalogRepository struct {
	pool database.DBTX
}

var _ repository.CatalogLookup = (*CatalogRepository)(nil)

// NewCatalogRepository creates a new PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool database.DBTX) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

const rateColumns = `fee_per_item, fee_per_additional_item, fee_per_kg, fixed_fee,
			delivery_min_days, delivery_max_days, service_name, return_policy`

func rateDest(r *domain.ShippingRates) []any {
	return []any{
		&r.FeePerItem, &r.FeePerAdditionalItem, &r.FeePerKg, &r.FixedFee,
		&r.DeliveryMinDays, &r.DeliveryMaxDays, &r.ServiceName, &r.ReturnPolicy,
	}
}

func rateArgs(r domain.ShippingRates) []any {
	return []any{
		r.FeePerItem, r.FeePerAdditionalItem, r.FeePerKg, r.FixedFee,
		r.DeliveryMinDays, r.DeliveryMaxDays, r.ServiceName, r.ReturnPolicy,
	}
}

// GetVariantSize returns the live row for (product, variant, size).
func (r *CatalogRepository) GetVariantSize(ctx context.Context, productID, variantID, sizeID string) (*domain.VariantSize, error) {
	query := `
		SELECT product_id, variant_id, size_id, seller_id, price, discount_percent, stock, weight, shipping_method
		FROM variant_sizes
		WHERE product_id = $1 AND variant_id = $2 AND size_id = $3`

	var (
		v      domain.VariantSize
		method string
	)
	err := r.pool.QueryRow(ctx, query, productID, variantID, sizeID).Scan(
		&v.ProductID,
		&v.VariantID,
		&v.SizeID,
		&v.SellerID,
		&v.Price,
		&v.DiscountPercent,
		&v.Stock,
		&v.Weight,
		&method,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("variant size", productID+"/"+variantID+"/"+sizeID)
		}
		return nil, fmt.Errorf("get variant size: %w", err)
	}
	v.ShippingMethod = domain.ShippingMethod(method)

	return &v, nil
}

// GetSellerShippingConfig returns the seller's defaults, or nil when unset.
func (r *CatalogRepository) GetSellerShippingConfig(ctx context.Context, sellerID string) (*domain.ShippingDefaults, error) {
	query := `
		SELECT seller_id, free_shipping_everywhere, ` + rateColumns + `
		FROM seller_shipping_defaults
		WHERE seller_id = $1`

	var d domain.ShippingDefaults
	dest := append([]any{&d.SellerID, &d.FreeShippingEverywhere}, rateDest(&d.ShippingRates)...)
	if err := r.pool.QueryRow(ctx, query, sellerID).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get seller shipping config: %w", err)
	}

	return &d, nil
}

// GetShippingOverride returns the seller's settings for country, or nil.
func (r *CatalogRepository) GetShippingOverride(ctx context.Context, sellerID, country string) (*domain.ShippingOverride, error) {
	query := `
		SELECT seller_id, country, ` + rateColumns + `
		FROM seller_shipping_overrides
		WHERE seller_id = $1 AND country = $2`

	var o domain.ShippingOverride
	dest := append([]any{&o.SellerID, &o.Country}, rateDest(&o.ShippingRates)...)
	if err := r.pool.QueryRow(ctx, query, sellerID, strings.ToUpper(country)).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get shipping override: %w", err)
	}

	return &o, nil
}

// IsFreeShippingEligible reports whether the product ships free to country.
func (r *CatalogRepository) IsFreeShippingEligible(ctx context.Context, productID, country string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM free_shipping_products WHERE product_id = $1 AND country = $2)`

	var eligible bool
	if err := r.pool.QueryRow(ctx, query, productID, strings.ToUpper(country)).Scan(&eligible); err != nil {
		return false, fmt.Errorf("check free shipping eligibility: %w", err)
	}
	return eligible, nil
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// UpsertVariantSize creates or replaces a variant size row.
func (r *CatalogRepository) UpsertVariantSize(ctx context.Context, v domain.VariantSize) error {
	query := `
		INSERT INTO variant_sizes (product_id, variant_id, size_id, seller_id, price, discount_percent, stock, weight, shipping_method, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (product_id, variant_id, size_id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id,
			price = EXCLUDED.price,
			discount_percent = EXCLUDED.discount_percent,
			stock = EXCLUDED.stock,
			weight = EXCLUDED.weight,
			shipping_method = EXCLUDED.shipping_method,
			updated_at = NOW()`

	_, err := r.pool.Exec(ctx, query,
		v.ProductID,
		v.VariantID,
		v.SizeID,
		v.SellerID,
		v.Price,
		v.DiscountPercent,
		v.Stock,
		v.Weight,
		string(v.ShippingMethod),
	)
	if err != nil {
		return fmt.Errorf("upsert variant size: %w", err)
	}
	return nil
}

// UpsertShippingDefaults creates or replaces a seller's defaults.
func (r *CatalogRepository) UpsertShippingDefaults(ctx context.Context, d domain.ShippingDefaults) error {
	query := `
		INSERT INTO seller_shipping_defaults (seller_id, free_shipping_everywhere, ` + rateColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (seller_id) DO UPDATE SET
			free_shipping_everywhere = EXCLUDED.free_shipping_everywhere,
			fee_per_item = EXCLUDED.fee_per_item,
			fee_per_additional_item = EXCLUDED.fee_per_additional_item,
			fee_per_kg = EXCLUDED.fee_per_kg,
			fixed_fee = EXCLUDED.fixed_fee,
			delivery_min_days = EXCLUDED.delivery_min_days,
			delivery_max_days = EXCLUDED.delivery_max_days,
			service_name = EXCLUDED.service_name,
			return_policy = EXCLUDED.return_policy,
			updated_at = NOW()`

	args := append([]any{d.SellerID, d.FreeShippingEverywhere}, rateArgs(d.ShippingRates)...)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert shipping defaults: %w", err)
	}
	return nil
}

// UpsertShippingOverride creates or replaces a seller's country override.
func (r *CatalogRepository) UpsertShippingOverride(ctx context.Context, o domain.ShippingOverride) error {
	query := `
		INSERT INTO seller_shipping_overrides (seller_id, country, ` + rateColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (seller_id, country) DO UPDATE SET
			fee_per_item = EXCLUDED.fee_per_item,
			fee_per_additional_item = EXCLUDED.fee_per_additional_item,
			fee_per_kg = EXCLUDED.fee_per_kg,
			fixed_fee = EXCLUDED.fixed_fee,
			delivery_min_days = EXCLUDED.delivery_min_days,
			delivery_max_days = EXCLUDED.delivery_max_days,
			service_name = EXCLUDED.service_name,
			return_policy = EXCLUDED.return_policy,
			updated_at = NOW()`

	args := append([]any{o.SellerID, strings.ToUpper(o.Country)}, rateArgs(o.ShippingRates)...)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert shipping override: %w", err)
	}
	return nil
}

// SetFreeShipping marks the product as shipping free to country.
func (r *CatalogRepository) SetFreeShipping(ctx context.Context, productID, country string) error {
	query := `
		INSERT INTO free_shipping_products (product_id, country)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, productID, strings.ToUpper(country)); err != nil {
		return fmt.Errorf("set free shipping: %w", err)
	}
	return nil
}
