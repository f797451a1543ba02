package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CouponRepository implements repository.CouponStore using PostgreSQL.
type CouponRepository struct {
	pool database.DBTX
}

var _ repository.CouponStore = (*CouponRepository)(nil)

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool database.DBTX) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks a coupon up case-insensitively.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `
		SELECT id, code, discount_percent, start_date, end_date, seller_id
		FROM coupons
		WHERE UPPER(code) = $1`

	normalized := domain.NormalizeCouponCode(code)

	var c domain.Coupon
	err := r.pool.QueryRow(ctx, query, normalized).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountPercent,
		&c.StartDate,
		&c.EndDate,
		&c.SellerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", normalized)
		}
		return nil, fmt.Errorf("find coupon by code: %w", err)
	}

	return &c, nil
}

// Upsert creates or replaces a coupon, keyed by its code.
func (r *CouponRepository) Upsert(ctx context.Context, c domain.Coupon) error {
	query := `
		INSERT INTO coupons (id, code, discount_percent, start_date, end_date, seller_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			discount_percent = EXCLUDED.discount_percent,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			seller_id = EXCLUDED.seller_id`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		domain.NormalizeCouponCode(c.Code),
		c.DiscountPercent,
		c.StartDate,
		c.EndDate,
		c.SellerID,
	)
	if err != nil {
		return fmt.Errorf("upsert coupon: %w", err)
	}
	return nil
}
