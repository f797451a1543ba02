package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/pagination"
)

// TransitionInput is the body of a group status change.
type TransitionInput struct {
	Status         string `json:"status" validate:"required,oneof=CONFIRMED SHIPPED DELIVERED CANCELLED"`
	TrackingNumber string `json:"tracking_number" validate:"max=100"`
}

// Service exposes the order read side and the per-group state machine.
type Service struct {
	repo     repository.OrderRepository
	producer *event.Producer
	logger   *slog.Logger
}

// NewService creates a new order service.
func NewService(repo repository.OrderRepository, producer *event.Producer, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// GetOrder returns one of the buyer's orders. Orders of other buyers are
// reported as not found.
func (s *Service) GetOrder(ctx context.Context, buyerID, orderID string) (*domain.Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != buyerID {
		return nil, apperrors.NotFound("order", orderID)
	}
	return o, nil
}

// ListBuyerOrders returns a page of the buyer's orders, newest first.
func (s *Service) ListBuyerOrders(ctx context.Context, buyerID string, p pagination.Params) (pagination.Result[domain.Order], error) {
	orders, total, err := s.repo.ListByBuyer(ctx, buyerID, p.Offset(), p.PerPage)
	if err != nil {
		return pagination.Result[domain.Order]{}, fmt.Errorf("list buyer orders: %w", err)
	}
	return pagination.NewResult(orders, total, p), nil
}

// ListSellerGroups returns a page of the seller's order groups, newest first.
func (s *Service) ListSellerGroups(ctx context.Context, sellerID string, p pagination.Params) (pagination.Result[domain.OrderGroup], error) {
	groups, total, err := s.repo.ListGroupsBySeller(ctx, sellerID, p.Offset(), p.PerPage)
	if err != nil {
		return pagination.Result[domain.OrderGroup]{}, fmt.Errorf("list seller groups: %w", err)
	}
	return pagination.NewResult(groups, total, p), nil
}

// TransitionGroup moves one of the seller's groups to target. Sibling groups
// of the same order are never touched. Moving to CONFIRMED requires the
// order's payment to be captured; cancelling restocks the group's lines.
func (s *Service) TransitionGroup(ctx context.Context, sellerID, groupID string, input TransitionInput) (*domain.OrderGroup, error) {
	if !domain.IsValidGroupStatus(input.Status) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown status %q", input.Status))
	}

	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.SellerID != sellerID {
		return nil, apperrors.Forbidden("order group belongs to another seller")
	}
	if !g.CanTransitionTo(input.Status) {
		return nil, domain.InvalidTransition(g.Status, input.Status)
	}

	if input.Status == domain.GroupStatusConfirmed {
		o, err := s.repo.GetByID(ctx, g.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load order: %w", err)
		}
		if o.PaymentStatus != domain.PaymentStatusCaptured {
			return nil, domain.InvalidTransition(g.Status, input.Status).WithDetails(map[string]string{
				"payment_status": o.PaymentStatus,
			})
		}
	}

	from := g.Status
	if err := s.repo.UpdateGroupStatus(ctx, groupID, from, input.Status, input.TrackingNumber); err != nil {
		return nil, fmt.Errorf("update group status: %w", err)
	}

	updated, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("reload group: %w", err)
	}

	if err := s.producer.PublishGroupStatusChanged(ctx, updated, from); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.group_status_changed event",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order group status changed",
		slog.String("group_id", groupID),
		slog.String("seller_id", sellerID),
		slog.String("from", from),
		slog.String("to", updated.Status),
	)
	return updated, nil
}
