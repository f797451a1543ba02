package cart

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/coupon"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/repository/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// --- Test Helpers ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

// losingRepo wraps a store and loses every optimistic-lock race.
type losingRepo struct {
	*memory.Store
	attempts int
}

func (l *losingRepo) SaveIfVersion(context.Context, *domain.Cart, int64) (bool, error) {
	l.attempts++
	return false, nil
}

var testLimits = Limits{
	TTL:                time.Hour,
	MaxQuantityPerItem: 5,
	MaxLinesPerCart:    2,
	DefaultCountry:     "tr",
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := scenarioCatalog()
	store.PutCoupon(domain.Coupon{
		ID: "c1", Code: "SAVE10", DiscountPercent: dec("10"), SellerID: "seller-a",
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(time.Hour),
	})
	pub := &recordingPublisher{}
	logger := newTestLogger()
	svc := NewService(
		store,
		store,
		NewReconciler(store, 4),
		coupon.NewEvaluator(store, nil),
		event.NewProducer(pub, logger),
		logger,
		testLimits,
	)
	return svc, store, pub
}

func addA(t *testing.T, svc *Service, qty int) *domain.Cart {
	t.Helper()
	c, err := svc.AddItem(context.Background(), "buyer-1", "", AddItemInput{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID, Quantity: qty,
	})
	require.NoError(t, err)
	return c
}

// --- Tests ---

func TestGetCart_EmptyIsNotSaved(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.GetCart(ctx, "buyer-1", "")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.True(t, c.GrandTotal.IsZero())
	assert.Equal(t, "TR", c.DestinationCountry)

	_, err = store.Get(ctx, "buyer-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetCart_RequiresBuyer(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.GetCart(context.Background(), "", "TR")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_CreatesValuedCart(t *testing.T) {
	svc, _, pub := newTestService(t)

	c := addA(t, svc, 2)
	assert.Equal(t, int64(1), c.Version)
	require.Len(t, c.Lines, 1)
	assert.True(t, dec("20").Equal(c.SubTotal))
	assert.True(t, dec("4").Equal(c.ShippingFeesTotal))
	assert.True(t, dec("24").Equal(c.GrandTotal))
	assert.Equal(t, []string{event.TopicCartUpdated}, pub.topics)
}

func TestAddItem_MergesAndCapsQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	addA(t, svc, 2)

	c := addA(t, svc, 3)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 5, c.Lines[0].Quantity)

	_, err := svc.AddItem(context.Background(), "buyer-1", "", AddItemInput{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID, Quantity: 1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_Validation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "buyer-1", "", AddItemInput{ProductID: "p", VariantID: "v", SizeID: "s", Quantity: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddItem(ctx, "buyer-1", "", AddItemInput{ProductID: "p", VariantID: "v", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddItem(ctx, "buyer-1", "", AddItemInput{ProductID: "nope", VariantID: "v", SizeID: "s", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	store.PutVariantSize(domain.VariantSize{
		ProductID: "prod-c", VariantID: "v", SizeID: "s", SellerID: "seller-c",
		Price: dec("1"), Stock: 1, Weight: dec("1"), ShippingMethod: domain.ShippingFixed,
	})
	addA(t, svc, 1)
	_, err = svc.AddItem(ctx, "buyer-1", "", AddItemInput{
		ProductID: keyB.ProductID, VariantID: keyB.VariantID, SizeID: keyB.SizeID, Quantity: 1,
	})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "buyer-1", "", AddItemInput{ProductID: "prod-c", VariantID: "v", SizeID: "s", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdateItemQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	addA(t, svc, 1)

	c, err := svc.UpdateItemQuantity(ctx, "buyer-1", "", keyA, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	// 3 + 1 + 1
	assert.True(t, dec("5").Equal(c.ShippingFeesTotal))

	_, err = svc.UpdateItemQuantity(ctx, "buyer-1", "", keyB, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.UpdateItemQuantity(ctx, "buyer-1", "", keyA, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	c, err = svc.RemoveItem(ctx, "buyer-1", "", keyA)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.True(t, c.GrandTotal.IsZero())
}

func TestGetCart_WritesBackCatalogChanges(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	addA(t, svc, 2)

	store.PutVariantSize(domain.VariantSize{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID,
		SellerID: "seller-a", Price: dec("12"), Stock: 10,
		Weight: dec("0.5"), ShippingMethod: domain.ShippingPerItem,
	})

	c, err := svc.GetCart(ctx, "buyer-1", "")
	require.NoError(t, err)
	assert.True(t, dec("24").Equal(c.SubTotal))
	assert.Equal(t, int64(2), c.Version)

	// Nothing changed since: no further write.
	c, err = svc.GetCart(ctx, "buyer-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version)
}

func TestGetCart_GivesUpAfterRepeatedConflicts(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	addA(t, svc, 2)

	repo := &losingRepo{Store: store}
	svc.repo = repo
	store.PutShippingDefaults(domain.ShippingDefaults{
		SellerID:      "seller-a",
		ShippingRates: domain.ShippingRates{FeePerItem: decp("6")},
	})

	_, err := svc.GetCart(ctx, "buyer-1", "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, maxWriteBackAttempts, repo.attempts)
}

func TestMutation_LostRaceIsConflict(t *testing.T) {
	svc, store, _ := newTestService(t)
	svc.repo = &losingRepo{Store: store}

	_, err := svc.AddItem(context.Background(), "buyer-1", "", AddItemInput{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID, Quantity: 1,
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestApplyAndRemoveCoupon(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	addA(t, svc, 2)
	_, err := svc.AddItem(ctx, "buyer-1", "", AddItemInput{
		ProductID: keyB.ProductID, VariantID: keyB.VariantID, SizeID: keyB.SizeID, Quantity: 1,
	})
	require.NoError(t, err)

	c, msg, err := svc.ApplyCoupon(ctx, "buyer-1", "", "save10")
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
	assert.True(t, dec("2.40").Equal(c.DiscountTotal))
	assert.True(t, dec("46.60").Equal(c.GrandTotal))

	_, _, err = svc.ApplyCoupon(ctx, "buyer-1", "", "SAVE10")
	assert.Equal(t, domain.CodeCouponAlreadyApplied, apperrors.Code(err))

	c, err = svc.RemoveCoupon(ctx, "buyer-1", "")
	require.NoError(t, err)
	assert.Nil(t, c.AppliedCoupon)
	assert.True(t, dec("49").Equal(c.GrandTotal))
}

func TestApplyCoupon_ErrorLeavesCartUnchanged(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	before := addA(t, svc, 1)

	_, _, err := svc.ApplyCoupon(ctx, "buyer-1", "", "BOGUS")
	assert.Equal(t, domain.CodeInvalidCoupon, apperrors.Code(err))

	after, err := store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Nil(t, after.AppliedCoupon)
}

func TestClearCart(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()
	addA(t, svc, 1)

	require.NoError(t, svc.ClearCart(ctx, "buyer-1", ClearReasonManual))
	_, err := store.Get(ctx, "buyer-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, event.TopicCartCleared, pub.topics[len(pub.topics)-1])
}

func TestCountryResolution(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, "DE", svc.country("de", domain.Cart{DestinationCountry: "FR"}))
	assert.Equal(t, "FR", svc.country("", domain.Cart{DestinationCountry: "FR"}))
	assert.Equal(t, "TR", svc.country("", domain.Cart{}))
}
