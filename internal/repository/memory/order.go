package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func cloneOrder(o domain.Order) domain.Order {
	groups := make([]domain.OrderGroup, len(o.Groups))
	for i, g := range o.Groups {
		groups[i] = cloneGroup(g)
	}
	o.Groups = groups
	return o
}

func cloneGroup(g domain.OrderGroup) domain.OrderGroup {
	g.Lines = append([]domain.OrderLine(nil), g.Lines...)
	return g
}

// Commit checks every line against live stock, then decrements stock and
// stores the order. Nothing changes when any line conflicts.
func (s *Store) Commit(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return apperrors.AlreadyExists("order", "id", order.ID)
	}

	demand := order.Demand()

	var conflicts []domain.StockConflict
	for _, d := range demand {
		available := 0
		if v, ok := s.variants[d.Key]; ok {
			available = v.Stock
		}
		if available < d.Quantity {
			conflicts = append(conflicts, domain.StockConflict{
				ProductID: d.Key.ProductID,
				VariantID: d.Key.VariantID,
				SizeID:    d.Key.SizeID,
				Requested: d.Quantity,
				Available: available,
			})
		}
	}
	if len(conflicts) > 0 {
		return domain.StockConflictError(conflicts)
	}

	for _, d := range demand {
		v := s.variants[d.Key]
		v.Stock -= d.Quantity
		s.variants[d.Key] = v
	}

	s.orders[order.ID] = cloneOrder(*order)
	s.orderIDs = append(s.orderIDs, order.ID)
	for _, g := range order.Groups {
		s.groupOrder[g.ID] = order.ID
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (s *Store) ListByBuyer(ctx context.Context, buyerID string, offset, limit int) ([]domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []domain.Order
	for i := len(s.orderIDs) - 1; i >= 0; i-- {
		if o := s.orders[s.orderIDs[i]]; o.BuyerID == buyerID {
			all = append(all, cloneOrder(o))
		}
	}
	return page(all, offset, limit), len(all), nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*domain.OrderGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, _, err := s.findGroup(groupID)
	if err != nil {
		return nil, err
	}
	cp := cloneGroup(*g)
	return &cp, nil
}

func (s *Store) ListGroupsBySeller(ctx context.Context, sellerID string, offset, limit int) ([]domain.OrderGroup, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []domain.OrderGroup
	for i := len(s.orderIDs) - 1; i >= 0; i-- {
		for _, g := range s.orders[s.orderIDs[i]].Groups {
			if g.SellerID == sellerID {
				all = append(all, cloneGroup(g))
			}
		}
	}
	return page(all, offset, limit), len(all), nil
}

func (s *Store) UpdateGroupStatus(ctx context.Context, groupID, from, to, trackingNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, o, err := s.findGroup(groupID)
	if err != nil {
		return err
	}
	if g.Status != from {
		return apperrors.Conflict(fmt.Sprintf("group %s is %s, not %s", groupID, g.Status, from))
	}

	s.setGroupStatus(g, to)
	if trackingNumber != "" {
		g.TrackingNumber = trackingNumber
	}
	s.orders[o.ID] = *o
	return nil
}

func (s *Store) ConfirmPayment(ctx context.Context, orderID, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return apperrors.NotFound("order", orderID)
	}
	o.PaymentStatus = domain.PaymentStatusCaptured
	o.PaymentReference = reference
	for i := range o.Groups {
		if o.Groups[i].Status == domain.GroupStatusPending {
			s.setGroupStatus(&o.Groups[i], domain.GroupStatusConfirmed)
		}
	}
	s.orders[orderID] = o
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return apperrors.NotFound("order", orderID)
	}
	o.PaymentStatus = domain.PaymentStatusFailed
	for i := range o.Groups {
		if o.Groups[i].CanTransitionTo(domain.GroupStatusCancelled) {
			s.setGroupStatus(&o.Groups[i], domain.GroupStatusCancelled)
		}
	}
	s.orders[orderID] = o
	return nil
}

// setGroupStatus updates g in place and restocks its lines on cancel.
// Callers hold s.mu.
func (s *Store) setGroupStatus(g *domain.OrderGroup, to string) {
	g.Status = to
	g.UpdatedAt = s.now()
	if to != domain.GroupStatusCancelled {
		return
	}
	for _, l := range g.Lines {
		if v, ok := s.variants[l.Key()]; ok {
			v.Stock += l.Quantity
			s.variants[l.Key()] = v
		}
	}
}

// findGroup returns a pointer into a copy of the owning order; callers
// write the order back. Callers hold s.mu.
func (s *Store) findGroup(groupID string) (*domain.OrderGroup, *domain.Order, error) {
	orderID, ok := s.groupOrder[groupID]
	if !ok {
		return nil, nil, apperrors.NotFound("order group", groupID)
	}
	o := cloneOrder(s.orders[orderID])
	g := o.Group(groupID)
	if g == nil {
		return nil, nil, apperrors.NotFound("order group", groupID)
	}
	return g, &o, nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// ---------------------------------------------------------------------------
// Checkout idempotency
// ---------------------------------------------------------------------------

// Reserve claims key for a new checkout. When the key was already used it
// returns the order id recorded for it ("" while still in progress).
func (s *Store) Reserve(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.idempotency[key]; ok && now.Before(e.expiresAt) {
		return e.orderID, false, nil
	}
	s.idempotency[key] = idempotencyEntry{expiresAt: now.Add(s.idemTTL)}
	return "", true, nil
}

// Complete records the order placed under key.
func (s *Store) Complete(ctx context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotency[key] = idempotencyEntry{orderID: orderID, expiresAt: s.now().Add(s.idemTTL)}
	return nil
}

// Release frees key after a failed checkout so the buyer can retry.
func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}

// SetClock replaces the store's clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

