package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/coupon"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// maxWriteBackAttempts bounds how often a reconciled cart is re-read and
// re-saved after losing an optimistic-lock race.
const maxWriteBackAttempts = 3

// Cart clear reasons carried by cart.cleared events.
const (
	ClearReasonManual      = "manual"
	ClearReasonOrderPlaced = "order_placed"
)

// Limits bounds cart contents and lifetime.
type Limits struct {
	TTL                time.Duration
	MaxQuantityPerItem int
	MaxLinesPerCart    int
	DefaultCountry     string
}

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	VariantID string `json:"variant_id" validate:"required,max=64"`
	SizeID    string `json:"size_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// Service implements the cart operations. Every mutation loads the cart,
// changes a copy, reconciles it and saves it only if no other writer saved
// in between.
type Service struct {
	repo       repository.CartRepository
	catalog    repository.CatalogLookup
	reconciler *Reconciler
	coupons    *coupon.Evaluator
	producer   *event.Producer
	logger     *slog.Logger
	limits     Limits
	now        func() time.Time
}

// NewService creates a new cart service.
func NewService(
	repo repository.CartRepository,
	catalog repository.CatalogLookup,
	reconciler *Reconciler,
	coupons *coupon.Evaluator,
	producer *event.Producer,
	logger *slog.Logger,
	limits Limits,
) *Service {
	return &Service{
		repo:       repo,
		catalog:    catalog,
		reconciler: reconciler,
		coupons:    coupons,
		producer:   producer,
		logger:     logger,
		limits:     limits,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetCart loads the buyer's cart, reconciles it for country and persists
// the result when anything changed. A buyer without a cart gets an empty,
// unsaved one.
func (s *Service) GetCart(ctx context.Context, buyerID, country string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, apperrors.InvalidInput("buyer id is required")
	}

	for attempt := 0; attempt < maxWriteBackAttempts; attempt++ {
		current, err := s.load(ctx, buyerID)
		if err != nil {
			return nil, err
		}

		out, changed, err := s.reconciler.ReconcileCart(ctx, current, s.country(country, current))
		if err != nil {
			return nil, fmt.Errorf("reconcile cart: %w", err)
		}
		if !changed || current.Version == 0 {
			return &out, nil
		}

		s.touch(&out)
		ok, err := s.repo.SaveIfVersion(ctx, &out, current.Version)
		if err != nil {
			return nil, fmt.Errorf("save reconciled cart: %w", err)
		}
		if ok {
			s.logger.DebugContext(ctx, "reconciled cart written back",
				slog.String("buyer_id", buyerID),
				slog.Int64("version", out.Version),
			)
			return &out, nil
		}
	}

	return nil, apperrors.Conflict("cart was modified concurrently, please retry")
}

// AddItem adds quantity units of a variant size, merging into an existing
// line for the same selection.
func (s *Service) AddItem(ctx context.Context, buyerID, country string, input AddItemInput) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, apperrors.InvalidInput("buyer id is required")
	}
	if input.ProductID == "" || input.VariantID == "" || input.SizeID == "" {
		return nil, apperrors.InvalidInput("product, variant and size ids are required")
	}
	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than 0")
	}
	if input.Quantity > s.limits.MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", s.limits.MaxQuantityPerItem))
	}

	v, err := s.catalog.GetVariantSize(ctx, input.ProductID, input.VariantID, input.SizeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup variant size: %w", err)
	}

	key := domain.LineKey{ProductID: input.ProductID, VariantID: input.VariantID, SizeID: input.SizeID}
	cart, err := s.mutate(ctx, buyerID, country, s.edit(func(c *domain.Cart) error {
		if i := c.FindLine(key); i >= 0 {
			qty := c.Lines[i].Quantity + input.Quantity
			if qty > s.limits.MaxQuantityPerItem {
				return apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", s.limits.MaxQuantityPerItem))
			}
			c.Lines[i].Quantity = qty
			return nil
		}

		if len(c.Lines) >= s.limits.MaxLinesPerCart {
			return apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", s.limits.MaxLinesPerCart))
		}
		c.Lines = append(c.Lines, domain.CartLineItem{
			ProductID: key.ProductID,
			VariantID: key.VariantID,
			SizeID:    key.SizeID,
			SellerID:  v.SellerID,
			Quantity:  input.Quantity,
		})
		return nil
	}))
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("buyer_id", buyerID),
		slog.String("line", key.String()),
		slog.Int("quantity", input.Quantity),
	)
	return cart, nil
}

// UpdateItemQuantity sets a line's requested quantity; 0 removes the line.
func (s *Service) UpdateItemQuantity(ctx context.Context, buyerID, country string, key domain.LineKey, quantity int) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, apperrors.InvalidInput("buyer id is required")
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}
	if quantity > s.limits.MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", s.limits.MaxQuantityPerItem))
	}

	cart, err := s.mutate(ctx, buyerID, country, s.edit(func(c *domain.Cart) error {
		i := c.FindLine(key)
		if i < 0 {
			return apperrors.NotFound("cart item", key.String())
		}
		if quantity == 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return nil
		}
		c.Lines[i].Quantity = quantity
		return nil
	}))
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("buyer_id", buyerID),
		slog.String("line", key.String()),
		slog.Int("quantity", quantity),
	)
	return cart, nil
}

// RemoveItem removes a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, buyerID, country string, key domain.LineKey) (*domain.Cart, error) {
	return s.UpdateItemQuantity(ctx, buyerID, country, key, 0)
}

// ClearCart deletes the buyer's cart.
func (s *Service) ClearCart(ctx context.Context, buyerID, reason string) error {
	if buyerID == "" {
		return apperrors.InvalidInput("buyer id is required")
	}
	if err := s.repo.Delete(ctx, buyerID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	if err := s.producer.PublishCartCleared(ctx, buyerID, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("buyer_id", buyerID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("buyer_id", buyerID),
		slog.String("reason", reason),
	)
	return nil
}

// ApplyCoupon reconciles the cart, applies the coupon to the fresh lines and
// saves the result. It returns the confirmation message.
func (s *Service) ApplyCoupon(ctx context.Context, buyerID, country, code string) (*domain.Cart, string, error) {
	if buyerID == "" {
		return nil, "", apperrors.InvalidInput("buyer id is required")
	}

	var msg string
	cart, err := s.mutate(ctx, buyerID, country, func(ctx context.Context, c domain.Cart, country string) (domain.Cart, error) {
		fresh, _, err := s.reconciler.ReconcileCart(ctx, c, country)
		if err != nil {
			return c, fmt.Errorf("reconcile cart: %w", err)
		}
		out, m, err := s.coupons.Apply(ctx, fresh, code)
		if err != nil {
			return c, err
		}
		msg = m
		return out, nil
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "coupon applied",
		slog.String("buyer_id", buyerID),
		slog.String("code", cart.AppliedCoupon.Code),
		slog.String("discount", cart.DiscountTotal.StringFixed(2)),
	)
	return cart, msg, nil
}

// RemoveCoupon detaches the cart's coupon.
func (s *Service) RemoveCoupon(ctx context.Context, buyerID, country string) (*domain.Cart, error) {
	if buyerID == "" {
		return nil, apperrors.InvalidInput("buyer id is required")
	}
	return s.mutate(ctx, buyerID, country, s.edit(func(c *domain.Cart) error {
		*c = s.coupons.Remove(*c)
		return nil
	}))
}

// transform produces the next cart from a copy of the stored one.
type transform func(ctx context.Context, c domain.Cart, country string) (domain.Cart, error)

// edit applies fn and then reconciles, so added lines get valued.
func (s *Service) edit(fn func(c *domain.Cart) error) transform {
	return func(ctx context.Context, c domain.Cart, country string) (domain.Cart, error) {
		if err := fn(&c); err != nil {
			return c, err
		}
		out, _, err := s.reconciler.ReconcileCart(ctx, c, country)
		if err != nil {
			return c, fmt.Errorf("reconcile cart: %w", err)
		}
		return out, nil
	}
}

func (s *Service) mutate(ctx context.Context, buyerID, country string, t transform) (*domain.Cart, error) {
	current, err := s.load(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	expected := current.Version

	next, err := t(ctx, current.Clone(), s.country(country, current))
	if err != nil {
		return nil, err
	}
	s.touch(&next)

	ok, err := s.repo.SaveIfVersion(ctx, &next, expected)
	if err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("cart was modified concurrently, please retry")
	}

	if err := s.producer.PublishCartUpdated(ctx, &next); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("buyer_id", buyerID),
			slog.String("error", err.Error()),
		)
	}
	return &next, nil
}

// load returns the stored cart or a new empty one with version 0.
func (s *Service) load(ctx context.Context, buyerID string) (domain.Cart, error) {
	c, err := s.repo.Get(ctx, buyerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			empty := domain.NewCart(uuid.New().String(), buyerID, s.now(), s.limits.TTL)
			empty.Recalculate()
			return empty, nil
		}
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}
	return *c, nil
}

func (s *Service) touch(c *domain.Cart) {
	now := s.now()
	c.UpdatedAt = now
	c.ExpiresAt = now.Add(s.limits.TTL)
}

// country picks the requested destination, then the cart's last one, then
// the configured default.
func (s *Service) country(requested string, c domain.Cart) string {
	switch {
	case requested != "":
		return strings.ToUpper(requested)
	case c.DestinationCountry != "":
		return c.DestinationCountry
	default:
		return strings.ToUpper(s.limits.DefaultCountry)
	}
}
