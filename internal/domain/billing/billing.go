// Package billing implements subscription checkout as a second instance of
// the payment reconciliation pattern: a plan draft rides on a hosted payment
// session as metadata and the subscription record is materialized exactly
// once after the payment settles.
package billing

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Period is a subscription billing interval.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

var (
	// ErrPlanNotFound is returned when the requested plan does not exist or
	// is not open for subscription.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrUnknownPeriod is returned for billing periods other than monthly
	// or yearly.
	ErrUnknownPeriod = errors.New("unknown billing period")
)

// Plan is a subscription product with a price per billing period.
type Plan struct {
	ID           string
	Name         string
	MonthlyPrice decimal.Decimal
	YearlyPrice  decimal.Decimal
	Active       bool
}

// Price returns the plan price for the given period.
func (p *Plan) Price(period Period) (decimal.Decimal, error) {
	switch period {
	case PeriodMonthly:
		return p.MonthlyPrice, nil
	case PeriodYearly:
		return p.YearlyPrice, nil
	default:
		return decimal.Zero, ErrUnknownPeriod
	}
}

// Draft is a client-proposed subscription awaiting payment. The price is
// always derived from the plan on the server; the client only picks the
// plan and period.
type Draft struct {
	PlanID    string
	Period    Period
	TrialDays int
	UserID    string
	CompanyID string
}

// Subscription is the durable record materialized once per paid session.
type Subscription struct {
	ID               string
	PlanID           string
	Period           Period
	TrialDays        int
	UserID           string
	CompanyID        string
	Status           string
	Total            decimal.Decimal
	PaymentSessionID string
	CreatedAt        time.Time
}

// StatusActive is the only status this flow writes; later lifecycle
// transitions belong to the back office.
const StatusActive = "active"

// PlanRepository provides plan lookups for pricing.
type PlanRepository interface {
	GetByID(ctx context.Context, id string) (*Plan, error)
}

// Repository persists subscriptions, idempotent on PaymentSessionID.
type Repository interface {
	Materialize(ctx context.Context, sub *Subscription) (stored *Subscription, created bool, err error)
	GetBySessionID(ctx context.Context, sessionID string) (*Subscription, error)
}

// Session metadata keys for the subscription draft. All values are strings;
// the flat draft shape needs no nested serialization.
const (
	metaPlanID    = "plan_id"
	metaPeriod    = "period"
	metaTrialDays = "trial_days"
	metaUserID    = "user_id"
	metaCompanyID = "company_id"
	metaTotal     = "total"
)

// EncodeDraft serializes a priced subscription draft into session metadata.
func EncodeDraft(d *Draft, total decimal.Decimal) map[string]string {
	return map[string]string{
		metaPlanID:    d.PlanID,
		metaPeriod:    string(d.Period),
		metaTrialDays: strconv.Itoa(d.TrialDays),
		metaUserID:    d.UserID,
		metaCompanyID: d.CompanyID,
		metaTotal:     total.String(),
	}
}

// DecodeDraft reconstructs the draft and its priced total from metadata.
func DecodeDraft(md map[string]string) (*Draft, decimal.Decimal, error) {
	d := &Draft{
		PlanID:    md[metaPlanID],
		Period:    Period(md[metaPeriod]),
		UserID:    md[metaUserID],
		CompanyID: md[metaCompanyID],
	}
	if d.PlanID == "" {
		return nil, decimal.Zero, errors.Errorf("metadata missing %q", metaPlanID)
	}

	if raw, ok := md[metaTrialDays]; ok {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return nil, decimal.Zero, errors.Wrapf(err, "parse %q", metaTrialDays)
		}
		d.TrialDays = days
	}

	raw, ok := md[metaTotal]
	if !ok {
		return nil, decimal.Zero, errors.Errorf("metadata missing %q", metaTotal)
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, decimal.Zero, errors.Wrapf(err, "parse %q", metaTotal)
	}

	return d, total, nil
}
