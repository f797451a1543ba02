package repository

import (
	"context"

	"github.com/utafrali/storefront/internal/domain"
)

// CatalogLookup is the read-only view of the catalog used to value carts.
type CatalogLookup interface {
	// GetVariantSize returns the live variant size, or an ErrNotFound error.
	GetVariantSize(ctx context.Context, productID, variantID, sizeID string) (*domain.VariantSize, error)

	// GetSellerShippingConfig returns the seller's store-wide shipping
	// settings, or nil when the seller never set any.
	GetSellerShippingConfig(ctx context.Context, sellerID string) (*domain.ShippingDefaults, error)

	// GetShippingOverride returns the seller's settings for country, or nil.
	GetShippingOverride(ctx context.Context, sellerID, country string) (*domain.ShippingOverride, error)

	// IsFreeShippingEligible reports whether the product ships free to country.
	IsFreeShippingEligible(ctx context.Context, productID, country string) (bool, error)
}

// CouponStore looks coupons up by code.
type CouponStore interface {
	// FindByCode returns the coupon with the normalized code, or an
	// ErrNotFound error.
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
}

// CartRepository persists one cart per buyer.
type CartRepository interface {
	// Get returns the buyer's cart, or an ErrNotFound error.
	Get(ctx context.Context, buyerID string) (*domain.Cart, error)

	// SaveIfVersion stores cart only if the stored version still equals
	// expected (0 meaning no cart is stored). On success cart.Version is
	// expected+1. It returns false when another writer got there first.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expected int64) (bool, error)

	// Delete removes the buyer's cart.
	Delete(ctx context.Context, buyerID string) error
}

// OrderRepository persists orders and is the single point where stock is
// decremented.
type OrderRepository interface {
	// Commit decrements stock for every line and stores the order, all or
	// nothing. It fails with STOCK_CONFLICT listing every line whose live
	// stock no longer covers its quantity.
	Commit(ctx context.Context, order *domain.Order) error

	// GetByID returns the order with its groups and lines.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// ListByBuyer returns a page of the buyer's orders, newest first, and
	// the total count.
	ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Order, int, error)

	// GetGroup returns one order group with its lines.
	GetGroup(ctx context.Context, groupID string) (*domain.OrderGroup, error)

	// ListGroupsBySeller returns a page of the seller's groups, newest
	// first, and the total count.
	ListGroupsBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.OrderGroup, int, error)

	// UpdateGroupStatus moves the group from one status to another. It
	// fails with CONFLICT when the stored status is no longer from, and
	// restocks the group's lines when to is CANCELLED.
	UpdateGroupStatus(ctx context.Context, groupID, from, to, trackingNumber string) error

	// ConfirmPayment marks the payment captured and moves every pending
	// group to CONFIRMED.
	ConfirmPayment(ctx context.Context, orderID, reference string) error

	// CancelOrder marks the payment failed, cancels every open group and
	// restocks their lines in one step.
	CancelOrder(ctx context.Context, orderID string) error
}
