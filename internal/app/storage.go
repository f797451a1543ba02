package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/internal/repository/memory"
	"github.com/utafrali/storefront/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// storage is the set of repositories the services run on.
type storage struct {
	catalog repository.CatalogLookup
	coupons repository.CouponStore
	carts   repository.CartRepository
	orders  repository.OrderRepository
	guard   checkout.Guard

	// cache is nil for the memory driver.
	cache *redisrepo.CatalogCache
}

// persistentStorage backs carts, idempotency keys and the catalog cache
// with Redis, and catalog, coupons and orders with PostgreSQL.
func persistentStorage(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) storage {
	cache := redisrepo.NewCatalogCache(
		postgres.NewCatalogRepository(pool),
		rdb,
		time.Duration(cfg.CatalogCacheTTLSecs)*time.Second,
		logger,
	)
	return storage{
		catalog: cache,
		coupons: postgres.NewCouponRepository(pool),
		carts:   redisrepo.NewCartRepository(rdb, cfg.CartTTL()),
		orders:  postgres.NewOrderRepository(pool),
		guard:   redisrepo.NewCheckoutGuard(rdb, time.Duration(cfg.IdempotencyKeyTTLMins)*time.Minute),
		cache:   cache,
	}
}

// memoryStorage keeps everything in one process-local store.
func memoryStorage(store *memory.Store) storage {
	return storage{
		catalog: store,
		coupons: store,
		carts:   store,
		orders:  store,
		guard:   store,
	}
}

// logPublisher stands in for Kafka when running on the memory driver.
type logPublisher struct {
	logger *slog.Logger
}

var _ event.Publisher = logPublisher{}

func (p logPublisher) Publish(ctx context.Context, topic string, e *pkgkafka.Event) error {
	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_id", e.EventID),
		slog.String("event_type", e.EventType),
	)
	return nil
}
