package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesafoods/checkout/internal/domain/billing"
	"github.com/mesafoods/checkout/internal/domain/checkout"
	"github.com/mesafoods/checkout/internal/domain/coupon"
	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
)

type stubCheckout struct {
	startResult    *checkout.StartResult
	startErr       error
	completeResult *checkout.CompleteResult
	completeErr    error

	gotDraft   *order.Draft
	gotSession string
}

func (s *stubCheckout) StartCheckout(_ context.Context, draft *order.Draft) (*checkout.StartResult, error) {
	s.gotDraft = draft
	return s.startResult, s.startErr
}

func (s *stubCheckout) CompleteCheckout(_ context.Context, sessionID string) (*checkout.CompleteResult, error) {
	s.gotSession = sessionID
	return s.completeResult, s.completeErr
}

type stubBilling struct {
	startResult    *billing.StartResult
	startErr       error
	completeResult *billing.CompleteResult
	completeErr    error

	gotDraft *billing.Draft
}

func (s *stubBilling) StartSubscription(_ context.Context, draft *billing.Draft) (*billing.StartResult, error) {
	s.gotDraft = draft
	return s.startResult, s.startErr
}

func (s *stubBilling) CompleteSubscription(_ context.Context, _ string) (*billing.CompleteResult, error) {
	return s.completeResult, s.completeErr
}

func serve(t *testing.T, co CheckoutService, bi BillingService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(co, bi).Register(r)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validStartBody = `{
	"company_id": "comp-1",
	"address_id": "addr-1",
	"user_id": "user-1",
	"items": [
		{"product_id": "p1", "name": "Margherita", "quantity": 2, "unit_price": 25, "subtotal": 50}
	],
	"subtotal": 50,
	"delivery_fee": 5,
	"discount": 0,
	"total": 55
}`

func TestStartCheckout(t *testing.T) {
	co := &stubCheckout{startResult: &checkout.StartResult{
		SessionID:   "sess-1",
		RedirectURL: "https://pay.example.com/sess-1",
	}}

	rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/start", validStartBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "https://pay.example.com/sess-1", resp.RedirectURL)

	require.NotNil(t, co.gotDraft)
	assert.Equal(t, "comp-1", co.gotDraft.CompanyID)
	require.Len(t, co.gotDraft.LineItems, 1)
	assert.True(t, decimal.NewFromInt(55).Equal(co.gotDraft.Total))
}

func TestStartCheckout_InvalidJSON(t *testing.T) {
	rec := serve(t, &stubCheckout{}, &stubBilling{}, http.MethodPost, "/checkout/start", `{"company_id": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCheckout_MissingFields(t *testing.T) {
	rec := serve(t, &stubCheckout{}, &stubBilling{}, http.MethodPost, "/checkout/start", `{"items": []}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestStartCheckout_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "total mismatch",
			err:        &order.TotalMismatchError{Claimed: decimal.NewFromInt(60), Computed: decimal.NewFromInt(55)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "total_mismatch",
		},
		{
			name:       "empty items",
			err:        order.ErrEmptyItems,
			wantStatus: http.StatusBadRequest,
			wantCode:   "empty_items",
		},
		{
			name:       "invalid quantity",
			err:        &order.InvalidQuantityError{ProductID: "p1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_quantity",
		},
		{
			name:       "invalid coupon",
			err:        coupon.ErrInvalidCoupon,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_coupon",
		},
		{
			name:       "expired coupon",
			err:        coupon.ErrCouponExpired,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_coupon",
		},
		{
			name:       "provider down",
			err:        errors.Wrap(payment.ErrProviderUnavailable, "create session"),
			wantStatus: http.StatusBadGateway,
			wantCode:   "provider_unavailable",
		},
		{
			name:       "unexpected",
			err:        errors.New("pool closed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := &stubCheckout{startErr: tt.err}
			rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/start", validStartBody)

			require.Equal(t, tt.wantStatus, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

func TestCompleteCheckout(t *testing.T) {
	co := &stubCheckout{completeResult: &checkout.CompleteResult{OrderID: "order-1"}}

	rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/complete", `{"session_id": "sess-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp completeCheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.False(t, resp.AlreadyExisted)
	assert.Equal(t, "sess-1", co.gotSession)
}

func TestCompleteCheckout_AlreadyExisted(t *testing.T) {
	co := &stubCheckout{completeResult: &checkout.CompleteResult{OrderID: "order-1", AlreadyExisted: true}}

	rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/complete", `{"session_id": "sess-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp completeCheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.AlreadyExisted)
}

func TestCompleteCheckout_PaymentOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError string
	}{
		{"not confirmed", payment.ErrPaymentNotConfirmed, "payment_not_confirmed"},
		{"canceled", payment.ErrPaymentFailed, "payment_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := &stubCheckout{completeErr: tt.err}
			rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/complete", `{"session_id": "sess-1"}`)

			// An unpaid session is a business outcome, not a transport error.
			require.Equal(t, http.StatusOK, rec.Code)
			var resp completeCheckoutResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestCompleteCheckout_SessionNotFound(t *testing.T) {
	co := &stubCheckout{completeErr: payment.ErrSessionNotFound}
	rec := serve(t, co, &stubBilling{}, http.MethodPost, "/checkout/complete", `{"session_id": "sess-missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteCheckout_MissingSessionID(t *testing.T) {
	rec := serve(t, &stubCheckout{}, &stubBilling{}, http.MethodPost, "/checkout/complete", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSubscription(t *testing.T) {
	bi := &stubBilling{startResult: &billing.StartResult{
		SessionID:   "sess-sub-1",
		RedirectURL: "https://pay.example.com/sess-sub-1",
	}}

	body := `{"plan_id": "plan-pro", "period": "monthly", "trial_days": 14, "user_id": "user-1", "company_id": "comp-1"}`
	rec := serve(t, &stubCheckout{}, bi, http.MethodPost, "/billing/subscribe/start", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-sub-1", resp.SessionID)

	require.NotNil(t, bi.gotDraft)
	assert.Equal(t, billing.PeriodMonthly, bi.gotDraft.Period)
	assert.Equal(t, 14, bi.gotDraft.TrialDays)
}

func TestStartSubscription_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing plan", `{"period": "monthly", "user_id": "user-1", "company_id": "comp-1"}`},
		{"negative trial", `{"plan_id": "plan-pro", "period": "monthly", "trial_days": -1, "user_id": "user-1", "company_id": "comp-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &stubCheckout{}, &stubBilling{}, http.MethodPost, "/billing/subscribe/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartSubscription_ErrorMapping(t *testing.T) {
	body := `{"plan_id": "plan-x", "period": "weekly", "user_id": "user-1", "company_id": "comp-1"}`

	t.Run("plan not found", func(t *testing.T) {
		bi := &stubBilling{startErr: billing.ErrPlanNotFound}
		rec := serve(t, &stubCheckout{}, bi, http.MethodPost, "/billing/subscribe/start", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown period", func(t *testing.T) {
		bi := &stubBilling{startErr: billing.ErrUnknownPeriod}
		rec := serve(t, &stubCheckout{}, bi, http.MethodPost, "/billing/subscribe/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCompleteSubscription(t *testing.T) {
	bi := &stubBilling{completeResult: &billing.CompleteResult{SubscriptionID: "sub-1"}}

	rec := serve(t, &stubCheckout{}, bi, http.MethodPost, "/billing/subscribe/complete", `{"session_id": "sess-sub-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp completeSubscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "sub-1", resp.SubscriptionID)
}

func TestCompleteSubscription_RepricedPlan(t *testing.T) {
	bi := &stubBilling{completeErr: &order.TotalMismatchError{
		Claimed:  decimal.RequireFromString("29.90"),
		Computed: decimal.RequireFromString("34.90"),
	}}

	rec := serve(t, &stubCheckout{}, bi, http.MethodPost, "/billing/subscribe/complete", `{"session_id": "sess-sub-1"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "total_mismatch", resp.Error)
}
