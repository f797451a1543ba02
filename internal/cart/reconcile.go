// Package cart values carts against the live catalog and serializes cart
// mutations.
package cart

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/storefront/internal/coupon"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/shipping"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/tracing"
)

const tracerName = "github.com/utafrali/storefront/internal/cart"

// DefaultConcurrency bounds catalog lookups per reconcile when none is set.
const DefaultConcurrency = 8

// Reconciler rebuilds cart lines from the catalog's current truth. It never
// writes to the catalog.
type Reconciler struct {
	catalog     repository.CatalogLookup
	concurrency int
}

// NewReconciler creates a reconciler that runs at most concurrency catalog
// lookups at once.
func NewReconciler(catalog repository.CatalogLookup, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{catalog: catalog, concurrency: concurrency}
}

type lineResult struct {
	line  domain.CartLineItem
	found bool
}

// Reconcile returns lines re-valued for destination country, in input
// order, and whether anything that feeds a total changed. Lines whose
// variant size no longer exists are dropped. The only errors are lookup
// failures, in which case nothing is returned.
func (r *Reconciler) Reconcile(ctx context.Context, lines []domain.CartLineItem, country string) ([]domain.CartLineItem, bool, error) {
	fresh, _, changed, err := r.reconcile(ctx, lines, country)
	return fresh, changed, err
}

// ReconcileCart reconciles a copy of c for country, re-derives its coupon
// and totals, and reports whether the result differs from c.
func (r *Reconciler) ReconcileCart(ctx context.Context, c domain.Cart, country string) (domain.Cart, bool, error) {
	fresh, dropped, changed, err := r.reconcile(ctx, c.Lines, country)
	if err != nil {
		return c, false, err
	}

	out := c.Clone()
	out.Lines = fresh
	out.Notices = dropped
	out.DestinationCountry = country
	if coupon.Revalidate(&out) {
		changed = true
	}
	if country != c.DestinationCountry ||
		!out.GrandTotal.Equal(c.GrandTotal) ||
		!out.DiscountTotal.Equal(c.DiscountTotal) {
		changed = true
	}
	return out, changed, nil
}

func (r *Reconciler) reconcile(ctx context.Context, lines []domain.CartLineItem, country string) ([]domain.CartLineItem, []domain.Notice, bool, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "cart.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.Int("cart.lines", len(lines)),
		attribute.String("cart.country", country),
	)

	results := make([]lineResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, l := range lines {
		g.Go(func() error {
			res, err := r.valueLine(gctx, l, country)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, false, err
	}

	fresh := make([]domain.CartLineItem, 0, len(lines))
	var dropped []domain.Notice
	changed := false
	for i, res := range results {
		if !res.found {
			key := lines[i].Key()
			dropped = append(dropped, domain.Notice{
				Code:    domain.CodeLineNotFound,
				Message: "this item is no longer available and was removed from your cart",
				Line:    &key,
			})
			changed = true
			continue
		}
		if !res.line.SameValuation(lines[i]) {
			changed = true
		}
		fresh = append(fresh, res.line)
	}

	span.SetAttributes(attribute.Bool("cart.changed", changed))
	return fresh, dropped, changed, nil
}

// valueLine builds a line from scratch out of the catalog; only the
// identity and requested quantity of persisted are kept.
func (r *Reconciler) valueLine(ctx context.Context, persisted domain.CartLineItem, country string) (lineResult, error) {
	v, err := r.catalog.GetVariantSize(ctx, persisted.ProductID, persisted.VariantID, persisted.SizeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return lineResult{}, nil
		}
		return lineResult{}, fmt.Errorf("lookup variant size %s: %w", persisted.Key(), err)
	}

	defaults, err := r.catalog.GetSellerShippingConfig(ctx, v.SellerID)
	if err != nil {
		return lineResult{}, fmt.Errorf("lookup shipping config for seller %s: %w", v.SellerID, err)
	}

	var (
		override *domain.ShippingOverride
		free     bool
	)
	if country != "" {
		override, err = r.catalog.GetShippingOverride(ctx, v.SellerID, country)
		if err != nil {
			return lineResult{}, fmt.Errorf("lookup shipping override for seller %s: %w", v.SellerID, err)
		}
		free, err = r.catalog.IsFreeShippingEligible(ctx, v.ProductID, country)
		if err != nil {
			return lineResult{}, fmt.Errorf("lookup free shipping for product %s: %w", v.ProductID, err)
		}
	}

	stock := max(v.Stock, 0)
	purchasable := min(persisted.Quantity, stock)

	quote := shipping.Quote(shipping.Config{
		Defaults:     defaults,
		Override:     override,
		FreeEligible: free,
	}, v.ShippingMethod, country, purchasable, v.Weight)

	line := domain.CartLineItem{
		ProductID:                         persisted.ProductID,
		VariantID:                         persisted.VariantID,
		SizeID:                            persisted.SizeID,
		SellerID:                          v.SellerID,
		Quantity:                          persisted.Quantity,
		PurchasableQuantity:               purchasable,
		BasePrice:                         v.Price,
		DiscountPercent:                   v.DiscountPercent,
		UnitPrice:                         domain.DiscountedPrice(v.Price, v.DiscountPercent),
		StockAtQuoteTime:                  stock,
		Weight:                            v.Weight,
		ShippingMethod:                    v.ShippingMethod,
		ShippingFee:                       quote.Fee,
		ExtraShippingFeePerAdditionalUnit: quote.ExtraFee,
		IsFreeShipping:                    quote.IsFree,
		DeliveryTimeMinDays:               quote.DeliveryMin,
		DeliveryTimeMaxDays:               quote.DeliveryMax,
		ShippingServiceName:               quote.ServiceName,
		ReturnPolicy:                      quote.ReturnPolicy,
		Valid:                             stock > 0,
	}

	switch {
	case stock == 0:
		line.Notices = []domain.Notice{{
			Code:    domain.CodeInsufficientStock,
			Message: "this item is out of stock",
		}}
	case stock < persisted.Quantity:
		line.Notices = []domain.Notice{{
			Code:    domain.CodeInsufficientStock,
			Message: fmt.Sprintf("only %d left in stock; quantity limited to %d", stock, stock),
		}}
	}

	return lineResult{line: line, found: true}, nil
}
