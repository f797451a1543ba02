// Package checkout turns a buyer's cart into a committed, paid order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/order"
	"github.com/utafrali/storefront/internal/payment"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/tracing"
)

const tracerName = "github.com/utafrali/storefront/internal/checkout"

// Checkout results recorded in storefront_checkouts_total.
const (
	resultPlaced        = "placed"
	resultReplayed      = "replayed"
	resultCartChanged   = "cart_changed"
	resultStockConflict = "stock_conflict"
	resultPaymentFailed = "payment_failed"
	resultRejected      = "rejected"
	resultError         = "error"
)

var checkouts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_checkouts_total",
		Help: "Checkout attempts by outcome.",
	},
	[]string{"result"},
)

// Guard deduplicates checkout submissions carrying the same idempotency key.
type Guard interface {
	Reserve(ctx context.Context, key string) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// CartClearer empties the buyer's cart once the order exists.
type CartClearer interface {
	ClearCart(ctx context.Context, buyerID, reason string) error
}

// PlaceOrderInput holds the buyer's checkout request.
type PlaceOrderInput struct {
	ShippingAddress *domain.Address `json:"shipping_address" validate:"required"`

	// Country, when set, must equal the shipping address country.
	Country string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
}

// Timeouts bounds the outbound steps of a checkout.
type Timeouts struct {
	Commit  time.Duration
	Capture time.Duration
}

// Service places orders: reconcile, split, commit stock, capture payment,
// and compensate when the capture fails.
type Service struct {
	carts          repository.CartRepository
	reconciler     *cart.Reconciler
	clearer        CartClearer
	builder        *order.Builder
	orders         repository.OrderRepository
	capturer       payment.Capturer
	guard          Guard
	producer       *event.Producer
	logger         *slog.Logger
	defaultCountry string
	timeouts       Timeouts
}

// Deps groups the collaborators of a checkout Service.
type Deps struct {
	Carts          repository.CartRepository
	Reconciler     *cart.Reconciler
	Clearer        CartClearer
	Builder        *order.Builder
	Orders         repository.OrderRepository
	Capturer       payment.Capturer
	Guard          Guard
	Producer       *event.Producer
	Logger         *slog.Logger
	DefaultCountry string
	Timeouts       Timeouts
}

// NewService creates a new checkout service.
func NewService(d Deps) *Service {
	return &Service{
		carts:          d.Carts,
		reconciler:     d.Reconciler,
		clearer:        d.Clearer,
		builder:        d.Builder,
		orders:         d.Orders,
		capturer:       d.Capturer,
		guard:          d.Guard,
		producer:       d.Producer,
		logger:         d.Logger,
		defaultCountry: strings.ToUpper(d.DefaultCountry),
		timeouts:       d.Timeouts,
	}
}

// PlaceOrder checks out the buyer's cart. A repeated idempotencyKey returns
// the order placed by the first submission instead of placing another.
func (s *Service) PlaceOrder(ctx context.Context, buyerID, idempotencyKey string, input PlaceOrderInput) (*domain.Order, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	o, result, err := s.placeOrder(ctx, buyerID, idempotencyKey, input)
	checkouts.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("checkout.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, buyerID, key string, input PlaceOrderInput) (_ *domain.Order, result string, err error) {
	if buyerID == "" {
		return nil, resultRejected, apperrors.InvalidInput("buyer id is required")
	}
	if a := input.ShippingAddress; a != nil && input.Country != "" && !strings.EqualFold(input.Country, a.Country) {
		return nil, resultRejected, apperrors.InvalidInput("country must match the shipping address country")
	}

	if key != "" {
		orderID, reserved, rerr := s.guard.Reserve(ctx, key)
		if rerr != nil {
			return nil, resultError, fmt.Errorf("reserve idempotency key: %w", rerr)
		}
		if !reserved {
			return s.replay(ctx, buyerID, orderID)
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := s.guard.Release(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.ErrorContext(ctx, "failed to release idempotency key",
					slog.String("buyer_id", buyerID),
					slog.String("error", relErr.Error()),
				)
			}
		}()
	}

	stored, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, resultRejected, domain.EmptyCart()
		}
		return nil, resultError, fmt.Errorf("get cart: %w", err)
	}

	country := s.country(input, stored)
	fresh, changed, err := s.reconciler.ReconcileCart(ctx, *stored, country)
	if err != nil {
		return nil, resultError, fmt.Errorf("reconcile cart: %w", err)
	}
	if changed {
		s.writeBack(ctx, &fresh, stored.Version)
		return nil, resultCartChanged, domain.CartChanged(&fresh)
	}

	o, err := s.builder.Build(buyerID, input.ShippingAddress, fresh)
	if err != nil {
		return nil, resultRejected, err
	}

	if err := s.commit(ctx, o); err != nil {
		if apperrors.Code(err) == domain.CodeStockConflict {
			s.logger.WarnContext(ctx, "checkout lost stock race",
				slog.String("buyer_id", buyerID),
				slog.String("order_id", o.ID),
			)
			return nil, resultStockConflict, err
		}
		return nil, resultError, fmt.Errorf("commit order: %w", err)
	}

	s.logger.InfoContext(ctx, "order committed",
		slog.String("order_id", o.ID),
		slog.String("buyer_id", buyerID),
		slog.Int("groups", len(o.Groups)),
		slog.String("grand_total", o.GrandTotal.StringFixed(2)),
	)

	settlement, err := s.capture(ctx, o)
	if err != nil {
		s.compensate(ctx, o, err)
		if errors.Is(err, apperrors.ErrPaymentFailed) || errors.Is(err, apperrors.ErrServiceUnavail) {
			return nil, resultPaymentFailed, err
		}
		return nil, resultPaymentFailed, apperrors.PaymentFailed("payment could not be captured")
	}

	// The buyer has been charged from here on; the key must keep pointing
	// at this order even if the bookkeeping below fails.
	if key != "" {
		if err := s.guard.Complete(ctx, key, o.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to record idempotency key",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.orders.ConfirmPayment(context.WithoutCancel(ctx), o.ID, settlement.Reference); err != nil {
		s.logger.ErrorContext(ctx, "payment captured but order confirmation failed",
			slog.String("order_id", o.ID),
			slog.String("payment_reference", settlement.Reference),
			slog.String("error", err.Error()),
		)
	}

	placed, err := s.orders.GetByID(ctx, o.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reload placed order",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		placed = o
	}

	if err := s.clearer.ClearCart(ctx, buyerID, cart.ClearReasonOrderPlaced); err != nil {
		s.logger.ErrorContext(ctx, "failed to clear cart after order",
			slog.String("buyer_id", buyerID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishOrderPlaced(ctx, placed); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.placed event",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", placed.ID),
		slog.String("buyer_id", buyerID),
		slog.String("payment_status", placed.PaymentStatus),
	)
	return placed, resultPlaced, nil
}

// replay answers a repeated submission.
func (s *Service) replay(ctx context.Context, buyerID, orderID string) (*domain.Order, string, error) {
	if orderID == "" {
		return nil, resultRejected, apperrors.Conflict("a checkout with this idempotency key is already in progress")
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, resultError, fmt.Errorf("get replayed order: %w", err)
	}
	if o.BuyerID != buyerID {
		return nil, resultRejected, apperrors.Conflict("idempotency key was already used")
	}
	s.logger.InfoContext(ctx, "checkout replayed",
		slog.String("order_id", o.ID),
		slog.String("buyer_id", buyerID),
	)
	return o, resultReplayed, nil
}

func (s *Service) commit(ctx context.Context, o *domain.Order) error {
	if s.timeouts.Commit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeouts.Commit)
		defer cancel()
	}
	return s.orders.Commit(ctx, o)
}

func (s *Service) capture(ctx context.Context, o *domain.Order) (*payment.Settlement, error) {
	if s.timeouts.Capture > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeouts.Capture)
		defer cancel()
	}
	return s.capturer.Capture(ctx, o.ID, o.GrandTotal, o.Currency)
}

// compensate cancels every group of an order whose payment failed and puts
// its stock back. It runs even when the request context is gone.
func (s *Service) compensate(ctx context.Context, o *domain.Order, cause error) {
	ctx = context.WithoutCancel(ctx)

	s.logger.WarnContext(ctx, "payment capture failed, cancelling order",
		slog.String("order_id", o.ID),
		slog.String("error", cause.Error()),
	)

	if err := s.orders.CancelOrder(ctx, o.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to cancel order after payment failure",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.producer.PublishPaymentFailed(ctx, o, cause.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment.failed event",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
}

// writeBack persists a cart that checkout found stale so the buyer sees the
// reconciled version. Losing the race is fine; the next read reconciles.
func (s *Service) writeBack(ctx context.Context, c *domain.Cart, expected int64) {
	if _, err := s.carts.SaveIfVersion(ctx, c, expected); err != nil {
		s.logger.WarnContext(ctx, "failed to write back reconciled cart",
			slog.String("buyer_id", c.BuyerID),
			slog.String("error", err.Error()),
		)
	}
}

// country is the destination shipping is priced for: the address country
// when an address is given, else the requested, cart or default country.
func (s *Service) country(input PlaceOrderInput, c *domain.Cart) string {
	switch {
	case input.ShippingAddress != nil && input.ShippingAddress.Country != "":
		return strings.ToUpper(input.ShippingAddress.Country)
	case input.Country != "":
		return strings.ToUpper(input.Country)
	case c.DestinationCountry != "":
		return c.DestinationCountry
	default:
		return s.defaultCountry
	}
}
