// Package memory is an in-process implementation of every repository, used
// for local runs and tests. One mutex guards all state, so Commit is
// trivially serializable.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

type overrideKey struct {
	sellerID string
	country  string
}

type freeKey struct {
	productID string
	country   string
}

type idempotencyEntry struct {
	orderID   string
	expiresAt time.Time
}

// Store holds catalog, coupons, carts, orders and checkout idempotency keys.
type Store struct {
	mu sync.Mutex

	variants     map[domain.LineKey]domain.VariantSize
	defaults     map[string]domain.ShippingDefaults
	overrides    map[overrideKey]domain.ShippingOverride
	freeShipping map[freeKey]struct{}
	coupons      map[string]domain.Coupon
	carts        map[string]domain.Cart
	orders       map[string]domain.Order
	orderIDs     []string
	groupOrder   map[string]string
	idempotency  map[string]idempotencyEntry
	idemTTL      time.Duration

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		variants:     make(map[domain.LineKey]domain.VariantSize),
		defaults:     make(map[string]domain.ShippingDefaults),
		overrides:    make(map[overrideKey]domain.ShippingOverride),
		freeShipping: make(map[freeKey]struct{}),
		coupons:      make(map[string]domain.Coupon),
		carts:        make(map[string]domain.Cart),
		orders:       make(map[string]domain.Order),
		groupOrder:   make(map[string]string),
		idempotency:  make(map[string]idempotencyEntry),
		idemTTL:      24 * time.Hour,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// PutVariantSize inserts or replaces a variant size.
func (s *Store) PutVariantSize(v domain.VariantSize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.Key()] = v
}

// PutShippingDefaults inserts or replaces a seller's shipping defaults.
func (s *Store) PutShippingDefaults(d domain.ShippingDefaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[d.SellerID] = d
}

// PutShippingOverride inserts or replaces a seller's country override.
func (s *Store) PutShippingOverride(o domain.ShippingOverride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey{o.SellerID, strings.ToUpper(o.Country)}] = o
}

// SetFreeShipping marks a product as shipping free to country.
func (s *Store) SetFreeShipping(productID, country string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeShipping[freeKey{productID, strings.ToUpper(country)}] = struct{}{}
}

// PutCoupon inserts or replaces a coupon.
func (s *Store) PutCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = domain.NormalizeCouponCode(c.Code)
	s.coupons[c.Code] = c
}

// Stock returns the live stock of a variant size, or -1 when unknown.
func (s *Store) Stock(key domain.LineKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[key]
	if !ok {
		return -1
	}
	return v.Stock
}

// ---------------------------------------------------------------------------
// CatalogLookup
// ---------------------------------------------------------------------------

func (s *Store) GetVariantSize(ctx context.Context, productID, variantID, sizeID string) (*domain.VariantSize, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.LineKey{ProductID: productID, VariantID: variantID, SizeID: sizeID}
	v, ok := s.variants[key]
	if !ok {
		return nil, apperrors.NotFound("variant size", key.String())
	}
	return &v, nil
}

func (s *Store) GetSellerShippingConfig(ctx context.Context, sellerID string) (*domain.ShippingDefaults, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.defaults[sellerID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) GetShippingOverride(ctx context.Context, sellerID, country string) (*domain.ShippingOverride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overrides[overrideKey{sellerID, strings.ToUpper(country)}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) IsFreeShippingEligible(ctx context.Context, productID, country string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.freeShipping[freeKey{productID, strings.ToUpper(country)}]
	return ok, nil
}

// ---------------------------------------------------------------------------
// CouponStore
// ---------------------------------------------------------------------------

func (s *Store) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return nil, apperrors.NotFound("coupon", code)
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// CartRepository
// ---------------------------------------------------------------------------

func (s *Store) Get(ctx context.Context, buyerID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[buyerID]
	if !ok || (!c.ExpiresAt.IsZero() && s.now().After(c.ExpiresAt)) {
		delete(s.carts, buyerID)
		return nil, apperrors.NotFound("cart", buyerID)
	}
	cp := c.Clone()
	return &cp, nil
}

func (s *Store) SaveIfVersion(ctx context.Context, cart *domain.Cart, expected int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if c, ok := s.carts[cart.BuyerID]; ok {
		current = c.Version
	}
	if current != expected {
		return false, nil
	}

	cart.Version = expected + 1
	s.carts[cart.BuyerID] = cart.Clone()
	return true, nil
}

func (s *Store) Delete(ctx context.Context, buyerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, buyerID)
	return nil
}

var (
	_ repository.CatalogLookup   = (*Store)(nil)
	_ repository.CouponStore     = (*Store)(nil)
	_ repository.CartRepository  = (*Store)(nil)
	_ repository.OrderRepository = (*Store)(nil)
)
