// Package checkout orchestrates the delivery-order reconciliation flow:
// draft validation, hosted payment session creation, and exactly-once order
// materialization after the customer returns from the provider.
package checkout

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesafoods/checkout/internal/domain/coupon"
	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
	"github.com/mesafoods/checkout/pkg/events"
)

// OrdersTable is the event bus table name for order change events.
const OrdersTable = "orders"

// paymentMethod recorded on materialized orders. All payments run through
// the hosted checkout page.
const paymentMethod = "online"

// StartResult is the outcome of StartCheckout.
type StartResult struct {
	SessionID   string
	RedirectURL string
}

// CompleteResult is the outcome of CompleteCheckout. AlreadyExisted reports
// that a previous invocation materialized the order; both invocations refer
// to the same order ID.
type CompleteResult struct {
	OrderID        string
	AlreadyExisted bool
}

// Service drives a checkout attempt through the state machine
//
//	DRAFTED -> SESSION_CREATED -> [PAID -> MATERIALIZED] | [EXPIRED|CANCELED]
//
// No state is persisted before the PAID transition; the draft rides on the
// payment session as metadata.
type Service struct {
	gateway payment.Gateway
	orders  order.Repository
	ledger  coupon.Ledger
	coupons coupon.Validator
	bus     *events.Bus
	urls    payment.ReturnURLs

	// complete collapses concurrent CompleteCheckout calls for one session
	// into a single flight. The database uniqueness constraint on
	// payment_session_id remains the real idempotency guarantee; this only
	// avoids pointless duplicate provider fetches from one process.
	complete singleflight.Group
}

// NewService wires a checkout Service.
func NewService(
	gateway payment.Gateway,
	orders order.Repository,
	ledger coupon.Ledger,
	coupons coupon.Validator,
	bus *events.Bus,
	urls payment.ReturnURLs,
) *Service {
	return &Service{
		gateway: gateway,
		orders:  orders,
		ledger:  ledger,
		coupons: coupons,
		bus:     bus,
		urls:    urls,
	}
}

// StartCheckout validates the draft and opens a hosted payment session for
// it. Nothing is persisted locally: a failed or abandoned session leaves no
// partial state behind.
func (s *Service) StartCheckout(ctx context.Context, draft *order.Draft) (*StartResult, error) {
	if err := draft.CheckItems(); err != nil {
		return nil, err
	}

	if draft.CouponID != "" {
		if _, err := s.coupons.Validate(ctx, draft.CouponID); err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
	}

	// Pre-check against the draft as submitted. The authoritative check
	// happens again after payment, against the session metadata.
	if _, err := order.ValidateTotal(draft.LineItems, draft.DeliveryFee, draft.Discount, draft.Total); err != nil {
		return nil, err
	}

	md, err := payment.EncodeDraft(draft)
	if err != nil {
		return nil, errors.Wrap(err, "encode draft metadata")
	}

	created, err := s.gateway.CreateSession(ctx, payment.CreateSessionRequest{
		Description:      fmt.Sprintf("Order of %d items", len(draft.LineItems)),
		Total:            draft.Total,
		AmountMinorUnits: payment.MinorUnits(draft.Total),
		Metadata:         md,
		URLs:             s.urls,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment session")
	}

	zctx.From(ctx).Info("Checkout session created",
		zap.String("session_id", created.ID),
		zap.String("user_id", draft.UserID),
	)

	return &StartResult{
		SessionID:   created.ID,
		RedirectURL: created.RedirectURL,
	}, nil
}

// CompleteCheckout reconciles a payment session with the local order state.
// It re-fetches the authoritative session status from the provider on every
// call, then materializes the order exactly once. Calling it again for the
// same session (refresh, provider retry racing the redirect) returns the
// already-materialized order.
func (s *Service) CompleteCheckout(ctx context.Context, sessionID string) (*CompleteResult, error) {
	v, err, _ := s.complete.Do(sessionID, func() (any, error) {
		return s.completeOnce(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompleteResult), nil
}

func (s *Service) completeOnce(ctx context.Context, sessionID string) (*CompleteResult, error) {
	sess, err := s.gateway.FetchSession(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch payment session")
	}

	if err := sess.ConfirmPaid(); err != nil {
		return nil, err
	}

	draft, err := payment.DecodeDraft(sess.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "decode session metadata")
	}

	// Trust boundary: the client had the session ID in hand between
	// creation and return, so the total is recomputed from the metadata the
	// provider stored, never from fresh client input.
	if _, err := order.ValidateTotal(draft.LineItems, draft.DeliveryFee, draft.Discount, draft.Total); err != nil {
		return nil, err
	}

	o := &order.Order{
		ID:               uuid.New().String(),
		CompanyID:        draft.CompanyID,
		Status:           order.StatusPaid,
		Subtotal:         draft.Subtotal,
		DeliveryFee:      draft.DeliveryFee,
		Discount:         draft.Discount,
		Total:            draft.Total,
		PaymentMethod:    paymentMethod,
		CouponID:         draft.CouponID,
		UserID:           draft.UserID,
		PaymentSessionID: sessionID,
		Items:            draft.LineItems,
	}

	stored, created, err := s.orders.Materialize(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "materialize order")
	}

	lg := zctx.From(ctx).With(
		zap.String("session_id", sessionID),
		zap.String("order_id", stored.ID),
	)

	if created {
		lg.Info("Order materialized", zap.Int("items", len(stored.Items)))
		s.bus.Publish(events.Event{
			Table:  OrdersTable,
			Action: events.ActionInsert,
			Record: stored,
		})
		return &CompleteResult{OrderID: stored.ID}, nil
	}

	// Duplicate invocation: the order exists. Re-attempt the ledger entry in
	// case a prior materialization predates the in-transaction redemption;
	// a duplicate is the expected outcome and is only logged.
	if draft.CouponID != "" {
		err := s.ledger.Redeem(ctx, draft.CouponID, draft.UserID, stored.ID, draft.Discount)
		switch {
		case errors.Is(err, coupon.ErrAlreadyRedeemed):
			lg.Debug("Coupon already redeemed", zap.String("coupon_id", draft.CouponID))
		case err != nil:
			lg.Error("Coupon redemption failed", zap.String("coupon_id", draft.CouponID), zap.Error(err))
		}
	}

	lg.Info("Order already materialized, returning existing")
	return &CompleteResult{OrderID: stored.ID, AlreadyExisted: true}, nil
}
