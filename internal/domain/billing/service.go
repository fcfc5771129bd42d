package billing

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesafoods/checkout/internal/domain/order"
	"github.com/mesafoods/checkout/internal/domain/payment"
	"github.com/mesafoods/checkout/pkg/events"
)

// SubscriptionsTable is the event bus table name for subscription events.
const SubscriptionsTable = "subscriptions"

// StartResult is the outcome of StartSubscription.
type StartResult struct {
	SessionID   string
	RedirectURL string
}

// CompleteResult is the outcome of CompleteSubscription.
type CompleteResult struct {
	SubscriptionID string
	AlreadyExisted bool
}

// Service reconciles subscription payments the same way the delivery
// checkout does: no local state before payment, exactly-once materialization
// after.
type Service struct {
	gateway payment.Gateway
	plans   PlanRepository
	subs    Repository
	bus     *events.Bus
	urls    payment.ReturnURLs

	complete singleflight.Group
}

// NewService wires a billing Service.
func NewService(
	gateway payment.Gateway,
	plans PlanRepository,
	subs Repository,
	bus *events.Bus,
	urls payment.ReturnURLs,
) *Service {
	return &Service{
		gateway: gateway,
		plans:   plans,
		subs:    subs,
		bus:     bus,
		urls:    urls,
	}
}

// StartSubscription prices the draft from the plans table and opens a
// payment session for it. The plan price is authoritative: the client never
// submits an amount. Trials still carry the full plan price; trial handling
// is the provider's, recorded in the session metadata.
func (s *Service) StartSubscription(ctx context.Context, draft *Draft) (*StartResult, error) {
	plan, err := s.plans.GetByID(ctx, draft.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotFound
	}

	total, err := plan.Price(draft.Period)
	if err != nil {
		return nil, err
	}
	if draft.TrialDays < 0 {
		return nil, errors.New("trial days must not be negative")
	}

	created, err := s.gateway.CreateSession(ctx, payment.CreateSessionRequest{
		Description:      fmt.Sprintf("Subscription %s (%s)", plan.Name, draft.Period),
		Total:            total,
		AmountMinorUnits: payment.MinorUnits(total),
		Metadata:         EncodeDraft(draft, total),
		URLs:             s.urls,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment session")
	}

	zctx.From(ctx).Info("Subscription session created",
		zap.String("session_id", created.ID),
		zap.String("plan_id", draft.PlanID),
		zap.String("period", string(draft.Period)),
	)

	return &StartResult{
		SessionID:   created.ID,
		RedirectURL: created.RedirectURL,
	}, nil
}

// CompleteSubscription reconciles a paid session into a subscription record.
// The plan price is re-derived from storage and compared against the priced
// total carried in the session metadata; a drift means the plan changed
// mid-checkout and the attempt is rejected.
func (s *Service) CompleteSubscription(ctx context.Context, sessionID string) (*CompleteResult, error) {
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

	draft, total, err := DecodeDraft(sess.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "decode session metadata")
	}

	plan, err := s.plans.GetByID(ctx, draft.PlanID)
	if err != nil {
		return nil, errors.Wrap(err, "reprice plan")
	}
	current, err := plan.Price(draft.Period)
	if err != nil {
		return nil, err
	}
	if !current.Equal(total) {
		return nil, &order.TotalMismatchError{Claimed: total, Computed: current}
	}

	sub := &Subscription{
		ID:               uuid.New().String(),
		PlanID:           draft.PlanID,
		Period:           draft.Period,
		TrialDays:        draft.TrialDays,
		UserID:           draft.UserID,
		CompanyID:        draft.CompanyID,
		Status:           StatusActive,
		Total:            total,
		PaymentSessionID: sessionID,
	}

	stored, created, err := s.subs.Materialize(ctx, sub)
	if err != nil {
		return nil, errors.Wrap(err, "materialize subscription")
	}

	lg := zctx.From(ctx).With(
		zap.String("session_id", sessionID),
		zap.String("subscription_id", stored.ID),
	)
	if created {
		lg.Info("Subscription materialized", zap.String("plan_id", stored.PlanID))
		s.bus.Publish(events.Event{
			Table:  SubscriptionsTable,
			Action: events.ActionInsert,
			Record: stored,
		})
	} else {
		lg.Info("Subscription already materialized, returning existing")
	}

	return &CompleteResult{
		SubscriptionID: stored.ID,
		AlreadyExisted: !created,
	}, nil
}
