package checkout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/coupon"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/order"
	"github.com/utafrali/storefront/internal/payment"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// --- Test Helpers ---

var (
	keyA = domain.LineKey{ProductID: "prod-a", VariantID: "v", SizeID: "s"}
	keyB = domain.LineKey{ProductID: "prod-b", VariantID: "v", SizeID: "s"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

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

func (r *recordingPublisher) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// barrierOrders holds every Commit until n callers have arrived, so
// concurrent checkouts all pass reconciliation before any stock moves.
type barrierOrders struct {
	*memory.Store
	arrived sync.WaitGroup
}

func (b *barrierOrders) Commit(ctx context.Context, o *domain.Order) error {
	b.arrived.Done()
	b.arrived.Wait()
	return b.Store.Commit(ctx, o)
}

type fixture struct {
	store    *memory.Store
	carts    *cart.Service
	checkout *Service
	pub      *recordingPublisher
}

func newFixture(t *testing.T, stockA int, capturer payment.Capturer, orders repository.OrderRepository) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutVariantSize(domain.VariantSize{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID,
		SellerID: "seller-a", Price: dec("10"), Stock: stockA,
		Weight: dec("0.5"), ShippingMethod: domain.ShippingPerItem,
	})
	store.PutVariantSize(domain.VariantSize{
		ProductID: keyB.ProductID, VariantID: keyB.VariantID, SizeID: keyB.SizeID,
		SellerID: "seller-b", Price: dec("20"), Stock: 10,
		Weight: dec("1"), ShippingMethod: domain.ShippingFixed,
	})
	store.PutShippingDefaults(domain.ShippingDefaults{
		SellerID:      "seller-a",
		ShippingRates: domain.ShippingRates{FeePerItem: decp("3"), FeePerAdditionalItem: decp("1")},
	})
	store.PutShippingDefaults(domain.ShippingDefaults{
		SellerID:      "seller-b",
		ShippingRates: domain.ShippingRates{FixedFee: decp("5")},
	})

	if capturer == nil {
		capturer = payment.NewSimulator(decimal.Zero)
	}
	if orders == nil {
		orders = store
	}

	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	producer := event.NewProducer(pub, logger)
	reconciler := cart.NewReconciler(store, 4)

	carts := cart.NewService(store, store, reconciler, coupon.NewEvaluator(store, nil), producer, logger, cart.Limits{
		TTL:                time.Hour,
		MaxQuantityPerItem: 10,
		MaxLinesPerCart:    10,
		DefaultCountry:     "TR",
	})

	svc := NewService(Deps{
		Carts:          store,
		Reconciler:     reconciler,
		Clearer:        carts,
		Builder:        order.NewBuilder("EUR"),
		Orders:         orders,
		Capturer:       capturer,
		Guard:          store,
		Producer:       producer,
		Logger:         logger,
		DefaultCountry: "TR",
		Timeouts:       Timeouts{Commit: 5 * time.Second, Capture: 5 * time.Second},
	})

	return &fixture{store: store, carts: carts, checkout: svc, pub: pub}
}

func (f *fixture) add(t *testing.T, buyerID string, key domain.LineKey, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), buyerID, "", cart.AddItemInput{
		ProductID: key.ProductID, VariantID: key.VariantID, SizeID: key.SizeID, Quantity: qty,
	})
	require.NoError(t, err)
}

func input() PlaceOrderInput {
	return PlaceOrderInput{ShippingAddress: &domain.Address{
		FullName:    "Ada Lovelace",
		AddressLine: "1 Analytical St",
		City:        "Izmir",
		PostalCode:  "35000",
		Country:     "TR",
	}}
}

// --- Tests ---

func TestPlaceOrder_Scenario(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 2)
	f.add(t, "buyer-1", keyB, 1)

	o, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.NoError(t, err)

	assert.True(t, dec("49").Equal(o.GrandTotal))
	assert.Equal(t, "EUR", o.Currency)
	assert.Equal(t, domain.PaymentStatusCaptured, o.PaymentStatus)
	assert.Contains(t, o.PaymentReference, "sim_pay_")
	require.Len(t, o.Groups, 2)
	assert.Equal(t, "seller-a", o.Groups[0].SellerID)
	assert.True(t, dec("24").Equal(o.Groups[0].Total))
	assert.Equal(t, "seller-b", o.Groups[1].SellerID)
	assert.True(t, dec("25").Equal(o.Groups[1].Total))
	for _, g := range o.Groups {
		assert.Equal(t, domain.GroupStatusConfirmed, g.Status)
	}

	assert.Equal(t, 8, f.store.Stock(keyA))
	assert.Equal(t, 9, f.store.Stock(keyB))

	_, err = f.store.Get(ctx, "buyer-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "cart is cleared after the order")
	assert.Equal(t, 1, f.pub.count(event.TopicOrderPlaced))
	assert.Equal(t, 1, f.pub.count(event.TopicCartCleared))
}

func TestPlaceOrder_ReplaysSameKey(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 2)

	first, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.NoError(t, err)

	second, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 8, f.store.Stock(keyA), "stock moves once")
	assert.Equal(t, 1, f.pub.count(event.TopicOrderPlaced))
}

func TestPlaceOrder_KeyInProgress(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 1)

	_, reserved, err := f.store.Reserve(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, reserved)

	_, err = f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, 10, f.store.Stock(keyA))
}

func TestPlaceOrder_KeyOfAnotherBuyer(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 1)
	f.add(t, "buyer-2", keyA, 1)

	_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "shared", input())
	require.NoError(t, err)

	_, err = f.checkout.PlaceOrder(ctx, "buyer-2", "shared", input())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	t.Run("no buyer", func(t *testing.T) {
		f := newFixture(t, 10, nil, nil)
		_, err := f.checkout.PlaceOrder(context.Background(), "", "", input())
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("no cart releases key", func(t *testing.T) {
		f := newFixture(t, 10, nil, nil)
		ctx := context.Background()

		_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
		assert.Equal(t, domain.CodeEmptyCart, apperrors.Code(err))

		_, reserved, err := f.store.Reserve(ctx, "key-1")
		require.NoError(t, err)
		assert.True(t, reserved)
	})

	t.Run("out of stock lines only", func(t *testing.T) {
		f := newFixture(t, 10, nil, nil)
		ctx := context.Background()
		f.add(t, "buyer-1", keyA, 1)
		f.store.PutVariantSize(domain.VariantSize{
			ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID,
			SellerID: "seller-a", Price: dec("10"), Stock: 0,
			Weight: dec("0.5"), ShippingMethod: domain.ShippingPerItem,
		})
		_, err := f.carts.GetCart(ctx, "buyer-1", "")
		require.NoError(t, err)

		_, err = f.checkout.PlaceOrder(ctx, "buyer-1", "", input())
		assert.Equal(t, domain.CodeEmptyCart, apperrors.Code(err))
	})

	t.Run("missing address", func(t *testing.T) {
		f := newFixture(t, 10, nil, nil)
		f.add(t, "buyer-1", keyA, 1)

		_, err := f.checkout.PlaceOrder(context.Background(), "buyer-1", "", PlaceOrderInput{})
		assert.Equal(t, domain.CodeAddressRequired, apperrors.Code(err))
		assert.Equal(t, 10, f.store.Stock(keyA))
	})
}

func TestPlaceOrder_CartChangedSinceViewed(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 2)

	f.store.PutVariantSize(domain.VariantSize{
		ProductID: keyA.ProductID, VariantID: keyA.VariantID, SizeID: keyA.SizeID,
		SellerID: "seller-a", Price: dec("12"), Stock: 10,
		Weight: dec("0.5"), ShippingMethod: domain.ShippingPerItem,
	})

	_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.Error(t, err)
	assert.Equal(t, domain.CodeCartChanged, apperrors.Code(err))
	assert.Equal(t, 10, f.store.Stock(keyA))

	stored, err := f.store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.True(t, dec("28").Equal(stored.GrandTotal), "reconciled cart is written back")

	o, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.NoError(t, err)
	assert.True(t, dec("28").Equal(o.GrandTotal))
}

func TestPlaceOrder_PricesShippingForAddressCountry(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.store.PutShippingOverride(domain.ShippingOverride{
		SellerID:      "seller-a",
		Country:       "DE",
		ShippingRates: domain.ShippingRates{FeePerItem: decp("50")},
	})
	f.add(t, "buyer-1", keyA, 1)

	in := input()
	in.ShippingAddress.Country = "DE"

	_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", in)
	require.Error(t, err)
	assert.Equal(t, domain.CodeCartChanged, apperrors.Code(err))
	assert.Equal(t, 10, f.store.Stock(keyA))

	stored, err := f.store.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, "DE", stored.DestinationCountry)
	assert.True(t, dec("60").Equal(stored.GrandTotal), stored.GrandTotal.String())

	o, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", in)
	require.NoError(t, err)
	assert.True(t, dec("60").Equal(o.GrandTotal), o.GrandTotal.String())
	assert.Equal(t, 9, f.store.Stock(keyA))
}

func TestPlaceOrder_CountryMustMatchAddress(t *testing.T) {
	f := newFixture(t, 10, nil, nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 1)

	in := input()
	in.Country = "de"

	_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 10, f.store.Stock(keyA))

	_, reserved, err := f.store.Reserve(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, reserved, "a rejected request does not hold the key")

	in.Country = "tr"
	require.NoError(t, f.store.Release(ctx, "key-1"))
	o, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", in)
	require.NoError(t, err)
	assert.True(t, dec("13").Equal(o.GrandTotal))
}

func TestPlaceOrder_PaymentFailureCompensates(t *testing.T) {
	f := newFixture(t, 10, payment.NewSimulator(dec("10")), nil)
	ctx := context.Background()
	f.add(t, "buyer-1", keyA, 2)
	f.add(t, "buyer-1", keyB, 1)

	_, err := f.checkout.PlaceOrder(ctx, "buyer-1", "key-1", input())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPaymentFailed)

	assert.Equal(t, 10, f.store.Stock(keyA), "stock is restored")
	assert.Equal(t, 10, f.store.Stock(keyB))

	orders, total, err := f.store.ListByBuyer(ctx, "buyer-1", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.PaymentStatusFailed, orders[0].PaymentStatus)
	for _, g := range orders[0].Groups {
		assert.Equal(t, domain.GroupStatusCancelled, g.Status)
	}

	_, err = f.store.Get(ctx, "buyer-1")
	assert.NoError(t, err, "cart survives a failed payment")
	assert.Equal(t, 1, f.pub.count(event.TopicPaymentFailed))
	assert.Zero(t, f.pub.count(event.TopicOrderPlaced))

	_, reserved, err := f.store.Reserve(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, reserved, "key is released for a retry")
}

func TestPlaceOrder_LastUnitRace(t *testing.T) {
	store := &barrierOrders{}
	f := newFixture(t, 1, nil, nil)
	store.Store = f.store
	store.arrived.Add(2)

	// Rebuild the checkout service over the barrier.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.checkout = NewService(Deps{
		Carts:      f.store,
		Reconciler: cart.NewReconciler(f.store, 4),
		Clearer:    f.carts,
		Builder:    order.NewBuilder("EUR"),
		Orders:     store,
		Capturer:   payment.NewSimulator(decimal.Zero),
		Guard:      f.store,
		Producer:   event.NewProducer(f.pub, logger),
		Logger:     logger,
	})

	f.add(t, "buyer-1", keyA, 1)
	f.add(t, "buyer-2", keyA, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []string{"buyer-1", "buyer-2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.checkout.PlaceOrder(context.Background(), buyer, "", input())
		}()
	}
	wg.Wait()

	succeeded, conflicted := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.Code(err) == domain.CodeStockConflict:
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
	assert.Equal(t, 0, f.store.Stock(keyA))
}
