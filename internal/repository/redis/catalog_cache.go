package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
)

const (
	shippingKeyPrefix = "catalog:shipping:"
	overrideKeyPrefix = "catalog:override:"
	freeKeyPrefix     = "catalog:free:"
)

var cacheRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storefront_catalog_cache_requests_total",
		Help: "Catalog cache lookups by kind and result.",
	},
	[]string{"kind", "result"},
)

// CatalogCache is a read-through cache in front of a CatalogLookup. Seller
// shipping settings and free-shipping eligibility are cached; variant sizes
// always go to the backing store because they carry live stock.
type CatalogCache struct {
	next   repository.CatalogLookup
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCatalogCache wraps next with a Redis cache whose entries live for ttl.
func NewCatalogCache(next repository.CatalogLookup, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CatalogCache {
	return &CatalogCache{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *CatalogCache) GetVariantSize(ctx context.Context, productID, variantID, sizeID string) (*domain.VariantSize, error) {
	return c.next.GetVariantSize(ctx, productID, variantID, sizeID)
}

func (c *CatalogCache) GetSellerShippingConfig(ctx context.Context, sellerID string) (*domain.ShippingDefaults, error) {
	return readThrough(ctx, c, "shipping", shippingKeyPrefix+sellerID, func() (*domain.ShippingDefaults, error) {
		return c.next.GetSellerShippingConfig(ctx, sellerID)
	})
}

func (c *CatalogCache) GetShippingOverride(ctx context.Context, sellerID, country string) (*domain.ShippingOverride, error) {
	key := overrideKeyPrefix + sellerID + ":" + strings.ToUpper(country)
	return readThrough(ctx, c, "override", key, func() (*domain.ShippingOverride, error) {
		return c.next.GetShippingOverride(ctx, sellerID, country)
	})
}

func (c *CatalogCache) IsFreeShippingEligible(ctx context.Context, productID, country string) (bool, error) {
	key := freeKeyPrefix + productID + ":" + strings.ToUpper(country)
	v, err := readThrough(ctx, c, "free_shipping", key, func() (*bool, error) {
		ok, err := c.next.IsFreeShippingEligible(ctx, productID, country)
		return &ok, err
	})
	if err != nil || v == nil {
		return false, err
	}
	return *v, nil
}

// InvalidateSeller drops every cached shipping entry of sellerID.
func (c *CatalogCache) InvalidateSeller(ctx context.Context, sellerID string) error {
	if err := c.client.Del(ctx, shippingKeyPrefix+sellerID).Err(); err != nil {
		return fmt.Errorf("redis del shipping config: %w", err)
	}
	return c.deletePattern(ctx, overrideKeyPrefix+sellerID+":*")
}

// InvalidateProduct drops every cached free-shipping entry of productID.
func (c *CatalogCache) InvalidateProduct(ctx context.Context, productID string) error {
	return c.deletePattern(ctx, freeKeyPrefix+productID+":*")
}

func (c *CatalogCache) deletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", pattern, err)
	}
	return nil
}

// readThrough returns the cached value at key or loads and caches it. A nil
// value is cached too, so absent settings do not hit the store every time.
// Cache failures degrade to the backing store.
func readThrough[T any](ctx context.Context, c *CatalogCache, kind, key string, load func() (*T, error)) (*T, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v *T
		if err := json.Unmarshal(data, &v); err == nil {
			cacheRequests.WithLabelValues(kind, "hit").Inc()
			return v, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "catalog cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	cacheRequests.WithLabelValues(kind, "miss").Inc()

	v, err := load()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(v)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "catalog cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return v, nil
}

var _ repository.CatalogLookup = (*CatalogCache)(nil)
