package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// IdempotencyKeyHeader lets a client retry a checkout without placing a
// second order.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	service *checkout.Service
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc *checkout.Service, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// PlaceOrder handles POST /api/v1/checkout
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{Error: &httputil.ErrorResponse{
			Code:      "INVALID_INPUT",
			Message:   IdempotencyKeyHeader + " header is too long",
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		}})
		return
	}

	var req checkout.PlaceOrderInput
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	o, err := h.service.PlaceOrder(r.Context(), logger.UserIDFromContext(r.Context()), key, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, o)
}
