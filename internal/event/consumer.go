package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// Catalog change kinds carried by catalog.changed events.
const (
	CatalogChangeSellerShipping = "seller_shipping"
	CatalogChangeProduct        = "product"
)

// CatalogChangedData is the payload of a catalog.changed event.
type CatalogChangedData struct {
	Kind      string `json:"kind"`
	SellerID  string `json:"seller_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// CacheInvalidator drops cached catalog entries.
type CacheInvalidator interface {
	InvalidateSeller(ctx context.Context, sellerID string) error
	InvalidateProduct(ctx context.Context, productID string) error
}

// CatalogChangedHandler evicts the cache entries a catalog.changed event
// makes stale. Unknown kinds are logged and skipped.
func CatalogChangedHandler(cache CacheInvalidator, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		var data CatalogChangedData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode catalog.changed data: %w", err)
		}

		switch data.Kind {
		case CatalogChangeSellerShipping:
			if data.SellerID == "" {
				logger.WarnContext(ctx, "catalog.changed without seller_id", slog.String("event_id", event.EventID))
				return nil
			}
			if err := cache.InvalidateSeller(ctx, data.SellerID); err != nil {
				return fmt.Errorf("invalidate seller %s: %w", data.SellerID, err)
			}
		case CatalogChangeProduct:
			if data.ProductID == "" {
				logger.WarnContext(ctx, "catalog.changed without product_id", slog.String("event_id", event.EventID))
				return nil
			}
			if err := cache.InvalidateProduct(ctx, data.ProductID); err != nil {
				return fmt.Errorf("invalidate product %s: %w", data.ProductID, err)
			}
		default:
			logger.WarnContext(ctx, "unknown catalog change kind",
				slog.String("kind", data.Kind),
				slog.String("event_id", event.EventID),
			)
			return nil
		}

		logger.InfoContext(ctx, "catalog cache invalidated",
			slog.String("kind", data.Kind),
			slog.String("seller_id", data.SellerID),
			slog.String("product_id", data.ProductID),
		)
		return nil
	}
}
