package domain

import (
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Notice and error codes.
const (
	CodeLineNotFound         = "LINE_NOT_FOUND"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeCouponRemoved        = "COUPON_REMOVED"
	CodeInvalidCoupon        = "INVALID_COUPON"
	CodeCouponExpired        = "COUPON_EXPIRED"
	CodeCouponAlreadyApplied = "COUPON_ALREADY_APPLIED"
	CodeNoEligibleItems      = "NO_ELIGIBLE_ITEMS"
	CodeEmptyCart            = "EMPTY_CART"
	CodeAddressRequired      = "ADDRESS_REQUIRED"
	CodeStockConflict        = "STOCK_CONFLICT"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeCartChanged          = "CART_CHANGED"
)

// StockConflict describes one line whose live stock no longer covers the
// ordered quantity.
type StockConflict struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	SizeID    string `json:"size_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func InvalidCoupon(code string) *apperrors.AppError {
	return apperrors.Unprocessable(CodeInvalidCoupon, fmt.Sprintf("coupon %q does not exist", code))
}

func CouponExpired(code string) *apperrors.AppError {
	return apperrors.Unprocessable(CodeCouponExpired, fmt.Sprintf("coupon %q is not active", code))
}

func CouponAlreadyApplied(code string) *apperrors.AppError {
	return apperrors.New(CodeCouponAlreadyApplied,
		fmt.Sprintf("coupon %q is already applied", code), http.StatusConflict, apperrors.ErrConflict)
}

func NoEligibleItems(code string) *apperrors.AppError {
	return apperrors.Unprocessable(CodeNoEligibleItems,
		fmt.Sprintf("cart has no items eligible for coupon %q", code))
}

func EmptyCart() *apperrors.AppError {
	return apperrors.Unprocessable(CodeEmptyCart, "cart has no purchasable items")
}

func AddressRequired() *apperrors.AppError {
	return apperrors.New(CodeAddressRequired, "a complete shipping address is required",
		http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// StockConflictError lists every line that could not be fulfilled.
func StockConflictError(conflicts []StockConflict) *apperrors.AppError {
	return apperrors.New(CodeStockConflict, "stock changed for one or more items",
		http.StatusConflict, apperrors.ErrConflict).WithDetails(conflicts)
}

func InvalidTransition(from, to string) *apperrors.AppError {
	return apperrors.New(CodeInvalidTransition,
		fmt.Sprintf("cannot transition group from %s to %s", from, to), http.StatusConflict, apperrors.ErrConflict)
}

// CartChanged reports that checkout found the cart's totals out of date.
// The reconciled cart travels in the details so the buyer can review it.
func CartChanged(cart *Cart) *apperrors.AppError {
	return apperrors.New(CodeCartChanged, "cart changed since it was last viewed, please review it",
		http.StatusConflict, apperrors.ErrConflict).WithDetails(cart)
}
