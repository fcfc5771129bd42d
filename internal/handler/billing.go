package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mesafoods/checkout/internal/domain/billing"
	"github.com/mesafoods/checkout/internal/domain/payment"
)

type startSubscriptionRequest struct {
	PlanID    string `json:"plan_id"`
	Period    string `json:"period"`
	TrialDays int    `json:"trial_days,omitempty"`
	UserID    string `json:"user_id"`
	CompanyID string `json:"company_id"`
}

type completeSubscriptionResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	AlreadyExisted bool   `json:"already_existed,omitempty"`
	Error          string `json:"error,omitempty"`
}

// StartSubscription opens a payment session for a plan. The price comes
// from the plan record, never from the request.
func (h *Handler) StartSubscription(w http.ResponseWriter, r *http.Request) {
	var req startSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.PlanID == "" || req.UserID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "plan_id, user_id and company_id are required")
		return
	}
	if req.TrialDays < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "trial_days must not be negative")
		return
	}

	res, err := h.billing.StartSubscription(r.Context(), &billing.Draft{
		PlanID:    req.PlanID,
		Period:    billing.Period(req.Period),
		TrialDays: req.TrialDays,
		UserID:    req.UserID,
		CompanyID: req.CompanyID,
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

// CompleteSubscription reconciles a returned payment session into an
// active subscription.
func (h *Handler) CompleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	res, err := h.billing.CompleteSubscription(r.Context(), req.SessionID)
	switch {
	case errors.Is(err, payment.ErrPaymentNotConfirmed):
		writeJSON(w, http.StatusOK, completeSubscriptionResponse{Success: false, Error: "payment_not_confirmed"})
		return
	case errors.Is(err, payment.ErrPaymentFailed):
		writeJSON(w, http.StatusOK, completeSubscriptionResponse{Success: false, Error: "payment_failed"})
		return
	case err != nil:
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, completeSubscriptionResponse{
		Success:        true,
		SubscriptionID: res.SubscriptionID,
		AlreadyExisted: res.AlreadyExisted,
	})
}
