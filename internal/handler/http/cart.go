package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *cart.Service
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc *cart.Service, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// UpdateQuantityRequest is the JSON request body for setting a line's
// quantity. Zero removes the line.
type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

// ApplyCouponRequest is the JSON request body for applying a coupon.
type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// CartResponse is a cart plus the outcome message of a coupon operation.
type CartResponse struct {
	*domain.Cart
	Message string `json:"message,omitempty"`
}

type countryQuery struct {
	Country string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
}

// destination reads the optional ?country= query parameter.
func destination(w http.ResponseWriter, r *http.Request) (string, bool) {
	q := countryQuery{Country: strings.ToUpper(r.URL.Query().Get("country"))}
	if err := validator.Validate(q); err != nil {
		httputil.WriteValidationError(w, r, err)
		return "", false
	}
	return q.Country, true
}

func lineKey(r *http.Request) domain.LineKey {
	return domain.LineKey{
		ProductID: chi.URLParam(r, "productId"),
		VariantID: chi.URLParam(r, "variantId"),
		SizeID:    chi.URLParam(r, "sizeId"),
	}
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCart(r.Context(), logger.UserIDFromContext(r.Context()), country)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	var req cart.AddItemInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	c, err := h.service.AddItem(r.Context(), logger.UserIDFromContext(r.Context()), country, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{productId}/{variantId}/{sizeId}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	c, err := h.service.UpdateItemQuantity(r.Context(), logger.UserIDFromContext(r.Context()), country, lineKey(r), *req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}/{variantId}/{sizeId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	c, err := h.service.RemoveItem(r.Context(), logger.UserIDFromContext(r.Context()), country, lineKey(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCart(r.Context(), logger.UserIDFromContext(r.Context()), cart.ClearReasonManual); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ApplyCoupon handles POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	var req ApplyCouponRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	c, msg, err := h.service.ApplyCoupon(r.Context(), logger.UserIDFromContext(r.Context()), country, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, CartResponse{Cart: c, Message: msg})
}

// RemoveCoupon handles DELETE /api/v1/cart/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	country, ok := destination(w, r)
	if !ok {
		return
	}

	c, err := h.service.RemoveCoupon(r.Context(), logger.UserIDFromContext(r.Context()), country)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, c)
}
