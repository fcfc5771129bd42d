// Package handler exposes the checkout and billing flows over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mesafoods/checkout/internal/domain/billing"
	"github.com/mesafoods/checkout/internal/domain/checkout"
	"github.com/mesafoods/checkout/internal/domain/coupon"
	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
)

// CheckoutService is the part of the checkout service the HTTP layer uses.
type CheckoutService interface {
	StartCheckout(ctx context.Context, draft *order.Draft) (*checkout.StartResult, error)
	CompleteCheckout(ctx context.Context, sessionID string) (*checkout.CompleteResult, error)
}

// BillingService is the part of the billing service the HTTP layer uses.
type BillingService interface {
	StartSubscription(ctx context.Context, draft *billing.Draft) (*billing.StartResult, error)
	CompleteSubscription(ctx context.Context, sessionID string) (*billing.CompleteResult, error)
}

// Handler holds the domain services behind the HTTP surface.
type Handler struct {
	checkout CheckoutService
	billing  BillingService
}

func New(checkoutSvc CheckoutService, billingSvc BillingService) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		billing:  billingSvc,
	}
}

// Register mounts all routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout/start", h.StartCheckout)
	r.Post("/checkout/complete", h.CompleteCheckout)
	r.Post("/billing/subscribe/start", h.StartSubscription)
	r.Post("/billing/subscribe/complete", h.CompleteSubscription)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// writeDomainError maps service errors onto HTTP statuses. Payment outcome
// errors (not confirmed, failed) are handled by the complete handlers and do
// not pass through here.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *order.TotalMismatchError
	var badQty *order.InvalidQuantityError

	switch {
	case errors.As(err, &mismatch):
		writeError(w, http.StatusUnprocessableEntity, "total_mismatch", mismatch.Error())
	case errors.As(err, &badQty):
		writeError(w, http.StatusBadRequest, "invalid_quantity", badQty.Error())
	case errors.Is(err, order.ErrEmptyItems):
		writeError(w, http.StatusBadRequest, "empty_items", err.Error())
	case errors.Is(err, payment.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, coupon.ErrInvalidCoupon), errors.Is(err, coupon.ErrCouponExpired):
		writeError(w, http.StatusUnprocessableEntity, "invalid_coupon", err.Error())
	case errors.Is(err, billing.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "plan_not_found", err.Error())
	case errors.Is(err, billing.ErrUnknownPeriod):
		writeError(w, http.StatusBadRequest, "unknown_period", err.Error())
	case errors.Is(err, payment.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, payment.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable", "payment provider unavailable")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
