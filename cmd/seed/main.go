// Command seed populates the storefront database with a deterministic
// multi-seller catalog: variant sizes, shipping defaults and overrides,
// free-shipping products and one coupon per seller. Re-running it upserts
// the same rows.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/repository/postgres"
	"github.com/utafrali/storefront/migrations"
	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/logger"
)

type seedConfig struct {
	Sellers           int   `env:"SEED_SELLERS" envDefault:"10"`
	ProductsPerSeller int   `env:"SEED_PRODUCTS_PER_SELLER" envDefault:"50"`
	RandomSeed        int64 `env:"SEED_RANDOM_SEED" envDefault:"42"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	var sc seedConfig
	if err := pkgconfig.Load(&sc); err != nil {
		slog.Error("failed to load seed config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New("storefront-seed", cfg.LogLevel)
	if err := run(context.Background(), cfg, sc, log); err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sc seedConfig, log *slog.Logger) error {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	start := time.Now()
	data := generate(sc.Sellers, sc.ProductsPerSeller, sc.RandomSeed, start.UTC())

	catalogRepo := postgres.NewCatalogRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	for _, d := range data.Defaults {
		if err := catalogRepo.UpsertShippingDefaults(ctx, d); err != nil {
			return fmt.Errorf("seed shipping defaults for %s: %w", d.SellerID, err)
		}
	}
	for _, o := range data.Overrides {
		if err := catalogRepo.UpsertShippingOverride(ctx, o); err != nil {
			return fmt.Errorf("seed shipping override for %s/%s: %w", o.SellerID, o.Country, err)
		}
	}
	for i, v := range data.Sizes {
		if err := catalogRepo.UpsertVariantSize(ctx, v); err != nil {
			return fmt.Errorf("seed variant size %s/%s/%s: %w", v.ProductID, v.VariantID, v.SizeID, err)
		}
		if (i+1)%500 == 0 {
			log.Info("variant sizes seeded", slog.Int("done", i+1), slog.Int("total", len(data.Sizes)))
		}
	}
	for _, f := range data.Free {
		if err := catalogRepo.SetFreeShipping(ctx, f.ProductID, f.Country); err != nil {
			return fmt.Errorf("seed free shipping for %s: %w", f.ProductID, err)
		}
	}
	for _, c := range data.Coupons {
		if err := couponRepo.Upsert(ctx, c); err != nil {
			return fmt.Errorf("seed coupon %s: %w", c.Code, err)
		}
	}

	log.Info("seed complete",
		slog.Int("sellers", len(data.Defaults)),
		slog.Int("variant_sizes", len(data.Sizes)),
		slog.Int("coupons", len(data.Coupons)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
