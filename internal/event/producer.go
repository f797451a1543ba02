package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Kafka topics for storefront domain events.
const (
	TopicCartUpdated             = "storefront.cart.updated"
	TopicCartCleared             = "storefront.cart.cleared"
	TopicOrderPlaced             = "storefront.order.placed"
	TopicOrderGroupStatusChanged = "storefront.order.group_status_changed"
	TopicPaymentFailed           = "storefront.payment.failed"
	TopicCatalogChanged          = "storefront.catalog.changed"
)

// Aggregate type constants.
const (
	AggregateTypeCart  = "cart"
	AggregateTypeOrder = "order"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	BuyerID    string          `json:"buyer_id"`
	CartID     string          `json:"cart_id"`
	LineCount  int             `json:"line_count"`
	CouponCode string          `json:"coupon_code,omitempty"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Version    int64           `json:"version"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	BuyerID string `json:"buyer_id"`
	Reason  string `json:"reason"`
}

// OrderPlacedData is the payload for an order.placed event.
type OrderPlacedData struct {
	OrderID    string           `json:"order_id"`
	BuyerID    string           `json:"buyer_id"`
	GrandTotal decimal.Decimal  `json:"grand_total"`
	Currency   string           `json:"currency"`
	Groups     []OrderGroupData `json:"groups"`
}

// OrderGroupData summarizes one seller's group.
type OrderGroupData struct {
	GroupID  string          `json:"group_id"`
	SellerID string          `json:"seller_id"`
	Total    decimal.Decimal `json:"total"`
	Lines    int             `json:"lines"`
}

// GroupStatusChangedData is the payload for an order.group_status_changed event.
type GroupStatusChangedData struct {
	OrderID        string `json:"order_id"`
	GroupID        string `json:"group_id"`
	SellerID       string `json:"seller_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

// PaymentFailedData is the payload for a payment.failed event.
type PaymentFailedData struct {
	OrderID string          `json:"order_id"`
	BuyerID string          `json:"buyer_id"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
}

// Publisher is the part of *pkgkafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes storefront domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	data := CartUpdatedData{
		BuyerID:    cart.BuyerID,
		CartID:     cart.ID,
		LineCount:  len(cart.Lines),
		GrandTotal: cart.GrandTotal,
		Version:    cart.Version,
	}
	if cart.AppliedCoupon != nil {
		data.CouponCode = cart.AppliedCoupon.Code
	}
	return p.publish(ctx, TopicCartUpdated, cart.BuyerID, AggregateTypeCart, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, buyerID, reason string) error {
	return p.publish(ctx, TopicCartCleared, buyerID, AggregateTypeCart, CartClearedData{BuyerID: buyerID, Reason: reason})
}

// PublishOrderPlaced publishes an order.placed event.
func (p *Producer) PublishOrderPlaced(ctx context.Context, o *domain.Order) error {
	groups := make([]OrderGroupData, len(o.Groups))
	for i, g := range o.Groups {
		groups[i] = OrderGroupData{GroupID: g.ID, SellerID: g.SellerID, Total: g.Total, Lines: len(g.Lines)}
	}
	data := OrderPlacedData{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		GrandTotal: o.GrandTotal,
		Currency:   o.Currency,
		Groups:     groups,
	}
	return p.publish(ctx, TopicOrderPlaced, o.ID, AggregateTypeOrder, data)
}

// PublishGroupStatusChanged publishes an order.group_status_changed event.
func (p *Producer) PublishGroupStatusChanged(ctx context.Context, g *domain.OrderGroup, from string) error {
	data := GroupStatusChangedData{
		OrderID:        g.OrderID,
		GroupID:        g.ID,
		SellerID:       g.SellerID,
		From:           from,
		To:             g.Status,
		TrackingNumber: g.TrackingNumber,
	}
	return p.publish(ctx, TopicOrderGroupStatusChanged, g.OrderID, AggregateTypeOrder, data)
}

// PublishPaymentFailed publishes a payment.failed event.
func (p *Producer) PublishPaymentFailed(ctx context.Context, o *domain.Order, reason string) error {
	data := PaymentFailedData{OrderID: o.ID, BuyerID: o.BuyerID, Amount: o.GrandTotal, Reason: reason}
	return p.publish(ctx, TopicPaymentFailed, o.ID, AggregateTypeOrder, data)
}
