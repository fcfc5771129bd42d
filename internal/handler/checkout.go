package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
)

type lineItemDTO struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type startCheckoutRequest struct {
	CompanyID   string          `json:"company_id"`
	AddressID   string          `json:"address_id"`
	UserID      string          `json:"user_id"`
	Items       []lineItemDTO   `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	CouponID    string          `json:"coupon_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

type startResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

type completeRequest struct {
	SessionID string `json:"session_id"`
}

type completeCheckoutResponse struct {
	Success        bool   `json:"success"`
	OrderID        string `json:"order_id,omitempty"`
	AlreadyExisted bool   `json:"already_existed,omitempty"`
	Error          string `json:"error,omitempty"`
}

// StartCheckout validates the client draft and opens a hosted payment
// session for it. Nothing is persisted here.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.CompanyID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "company_id and user_id are required")
		return
	}

	items := make([]order.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}

	res, err := h.checkout.StartCheckout(r.Context(), &order.Draft{
		CompanyID:   req.CompanyID,
		AddressID:   req.AddressID,
		UserID:      req.UserID,
		LineItems:   items,
		Subtotal:    req.Subtotal,
		DeliveryFee: req.DeliveryFee,
		Discount:    req.Discount,
		Total:       req.Total,
		CouponID:    req.CouponID,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SessionID:   res.SessionID,
		RedirectURL: res.RedirectURL,
	})
}

// CompleteCheckout reconciles a returned payment session into an order.
// A session that is not paid is not an HTTP failure: the client gets a
// regular response telling it the payment did not go through.
func (h *Handler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	res, err := h.checkout.CompleteCheckout(r.Context(), req.SessionID)
	switch {
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		writeJSON(w, http.StatusOK, completeCheckoutResponse{Success: false, Error: "payment_not_confirmed"})
		return
	case errors.Is(err, payment.ErrPaymentFailed):
		writeJSON(w, http.StatusOK, completeCheckoutResponse{Success: false, Error: "payment_failed"})
		return
	case err != nil:
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, completeCheckoutResponse{
		Success:        true,
		OrderID:        res.OrderID,
		AlreadyExisted: res.AlreadyExisted,
	})
}
