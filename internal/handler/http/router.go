package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/order"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// Services groups the application services exposed over HTTP.
type Services struct {
	Cart     *cart.Service
	Checkout *checkout.Service
	Orders   *order.Service
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	svc Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing)
	r.Use(middleware.Identity)
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, pprofCIDRs, logger)

	cartHandler := NewCartHandler(svc.Cart, logger)
	checkoutHandler := NewCheckoutHandler(svc.Checkout, logger)
	orderHandler := NewOrderHandler(svc.Orders, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireBuyer)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)

				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{productId}/{variantId}/{sizeId}", cartHandler.UpdateItemQuantity)
				r.Delete("/items/{productId}/{variantId}/{sizeId}", cartHandler.RemoveItem)

				r.Post("/coupon", cartHandler.ApplyCoupon)
				r.Delete("/coupon", cartHandler.RemoveCoupon)
			})

			r.Post("/checkout", checkoutHandler.PlaceOrder)

			r.Get("/orders", orderHandler.ListOrders)
			r.Get("/orders/{id}", orderHandler.GetOrder)
		})

		r.Route("/seller/groups", func(r chi.Router) {
			r.Use(middleware.RequireSeller)

			r.Get("/", orderHandler.ListSellerGroups)
			r.Patch("/{id}/status", orderHandler.TransitionGroup)
		})
	})

	return r
}
