package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func setupCatalogRepo(t *testing.T) (*CatalogRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewCatalogRepository(mock), mock
}

func rateColumnNames(lead ...string) []string {
	return append(lead, "fee_per_item", "fee_per_additional_item", "fee_per_kg", "fixed_fee",
		"delivery_min_days", "delivery_max_days", "service_name", "return_policy")
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// GetVariantSize
// ---------------------------------------------------------------------------

func TestCatalogRepository_GetVariantSize_Success(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"product_id", "variant_id", "size_id", "seller_id", "price",
		"discount_percent", "stock", "weight", "shipping_method"}).
		AddRow("p1", "v1", "m", "seller-a", decimal.NewFromInt(100), decimal.NewFromInt(15), 7,
			decimal.RequireFromString("1.25"), "PER_WEIGHT")

	mock.ExpectQuery("SELECT .+ FROM variant_sizes WHERE product_id").
		WithArgs("p1", "v1", "m").
		WillReturnRows(rows)

	v, err := repo.GetVariantSize(context.Background(), "p1", "v1", "m")
	require.NoError(t, err)
	assert.Equal(t, "seller-a", v.SellerID)
	assert.True(t, v.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, v.DiscountPercent.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 7, v.Stock)
	assert.Equal(t, domain.ShippingPerWeight, v.ShippingMethod)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_GetVariantSize_NotFound(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM variant_sizes WHERE product_id").
		WithArgs("p1", "v1", "xl").
		WillReturnError(pgx.ErrNoRows)

	v, err := repo.GetVariantSize(context.Background(), "p1", "v1", "xl")
	assert.Nil(t, v)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_GetVariantSize_QueryError(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM variant_sizes WHERE product_id").
		WithArgs("p1", "v1", "m").
		WillReturnError(errors.New("connection refused"))

	_, err := repo.GetVariantSize(context.Background(), "p1", "v1", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get variant size")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Shipping settings
// ---------------------------------------------------------------------------

func TestCatalogRepository_GetSellerShippingConfig_PartialRates(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	rows := pgxmock.NewRows(rateColumnNames("seller_id", "free_shipping_everywhere")).
		AddRow("seller-a", false, decPtr("3"), decPtr("1"), nil, nil, intPtr(2), intPtr(5), strPtr("Cargo"), nil)

	mock.ExpectQuery("SELECT .+ FROM seller_shipping_defaults WHERE seller_id").
		WithArgs("seller-a").
		WillReturnRows(rows)

	d, err := repo.GetSellerShippingConfig(context.Background(), "seller-a")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NotNil(t, d.FeePerItem)
	assert.True(t, d.FeePerItem.Equal(decimal.NewFromInt(3)))
	assert.Nil(t, d.FeePerKg)
	assert.Nil(t, d.FixedFee)
	assert.Equal(t, 5, *d.DeliveryMaxDays)
	assert.Equal(t, "Cargo", *d.ServiceName)
	assert.Nil(t, d.ReturnPolicy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_GetSellerShippingConfig_Unset(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM seller_shipping_defaults WHERE seller_id").
		WithArgs("seller-z").
		WillReturnError(pgx.ErrNoRows)

	d, err := repo.GetSellerShippingConfig(context.Background(), "seller-z")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_GetShippingOverride_UppercasesCountry(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	rows := pgxmock.NewRows(rateColumnNames("seller_id", "country")).
		AddRow("seller-a", "DE", nil, nil, nil, decPtr("12"), nil, nil, nil, nil)

	mock.ExpectQuery("SELECT .+ FROM seller_shipping_overrides WHERE seller_id").
		WithArgs("seller-a", "DE").
		WillReturnRows(rows)

	o, err := repo.GetShippingOverride(context.Background(), "seller-a", "de")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "DE", o.Country)
	assert.True(t, o.FixedFee.Equal(decimal.NewFromInt(12)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_IsFreeShippingEligible(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", "TR").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	eligible, err := repo.IsFreeShippingEligible(context.Background(), "p1", "tr")
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

func TestCatalogRepository_UpsertVariantSize(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	v := domain.VariantSize{
		ProductID:       "p1",
		VariantID:       "v1",
		SizeID:          "m",
		SellerID:        "seller-a",
		Price:           decimal.NewFromInt(10),
		DiscountPercent: decimal.Zero,
		Stock:           4,
		Weight:          decimal.NewFromInt(1),
		ShippingMethod:  domain.ShippingFixed,
	}

	mock.ExpectExec("INSERT INTO variant_sizes").
		WithArgs("p1", "v1", "m", "seller-a", v.Price, v.DiscountPercent, 4, v.Weight, "FIXED").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertVariantSize(context.Background(), v))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_UpsertShippingOverride_Error(t *testing.T) {
	repo, mock := setupCatalogRepo(t)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO seller_shipping_overrides").
		WillReturnError(errors.New("disk full"))

	err := repo.UpsertShippingOverride(context.Background(), domain.ShippingOverride{SellerID: "seller-a", Country: "de"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert shipping override")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Coupons
// ---------------------------------------------------------------------------

func TestCouponRepository_FindByCode_Normalizes(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCouponRepository(mock)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectQuery("SELECT .+ FROM coupons WHERE").
		WithArgs("SAVE10").
		WillReturnRows(pgxmock.NewRows([]string{"id", "code", "discount_percent", "start_date", "end_date", "seller_id"}).
			AddRow("cp-1", "SAVE10", decimal.NewFromInt(10), start, end, "seller-a"))

	c, err := repo.FindByCode(context.Background(), "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", c.ID)
	assert.Equal(t, "seller-a", c.SellerID)
	assert.True(t, c.DiscountPercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, end, c.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_FindByCode_NotFound(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCouponRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM coupons WHERE").
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	c, err := repo.FindByCode(context.Background(), "nope")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCouponRepository_Upsert_StoresNormalizedCode(t *testing.T) {
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewCouponRepository(mock)

	c := domain.Coupon{
		ID:              "cp-1",
		Code:            "spring",
		DiscountPercent: decimal.NewFromInt(20),
		StartDate:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		SellerID:        "seller-b",
	}

	mock.ExpectExec("INSERT INTO coupons").
		WithArgs("cp-1", "SPRING", c.DiscountPercent, c.StartDate, c.EndDate, "seller-b").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}
