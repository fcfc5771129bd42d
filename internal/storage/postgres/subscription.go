package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesafoods/checkout/internal/domain/billing"
)

const selectPlanSQL = `SELECT id, name, monthly_price, yearly_price, active
	FROM plans WHERE id = $1`

const upsertPlanSQL = `INSERT INTO plans (
		id, name, monthly_price, yearly_price, active
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		name          = EXCLUDED.name,
		monthly_price = EXCLUDED.monthly_price,
		yearly_price  = EXCLUDED.yearly_price,
		active        = EXCLUDED.active`

const insertSubscriptionSQL = `INSERT INTO subscriptions (
		id, plan_id, period, trial_days, user_id, company_id, status, total,
		payment_session_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (payment_session_id) DO NOTHING`

const selectSubscriptionBySessionSQL = `SELECT
		id, plan_id, period, trial_days, user_id, company_id, status, total,
		payment_session_id, created_at
	FROM subscriptions WHERE payment_session_id = $1`

var _ billing.PlanRepository = (*PlanRepository)(nil)

// PlanRepository implements billing.PlanRepository backed by PostgreSQL.
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository returns a PlanRepository that uses the given pool.
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// GetByID looks up a plan. Returns billing.ErrPlanNotFound when it does
// not exist.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*billing.Plan, error) {
	var p billing.Plan
	err := r.pool.QueryRow(ctx, selectPlanSQL, id).Scan(
		&p.ID, &p.Name, &p.MonthlyPrice, &p.YearlyPrice, &p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, errors.Wrapf(err, "select plan %q", id)
	}
	return &p, nil
}

// Upsert inserts a plan or refreshes an existing one. Used by the seed
// tool.
func (r *PlanRepository) Upsert(ctx context.Context, p *billing.Plan) error {
	_, err := r.pool.Exec(ctx, upsertPlanSQL,
		p.ID, p.Name, p.MonthlyPrice, p.YearlyPrice, p.Active,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert plan %q", p.ID)
	}
	return nil
}

var _ billing.Repository = (*SubscriptionRepository)(nil)

// SubscriptionRepository implements billing.Repository backed by PostgreSQL.
// It uses the same fetch-or-create pattern on payment_session_id as the
// order repository.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository returns a SubscriptionRepository that uses the
// given pool.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

// Materialize persists the subscription exactly once per payment session.
func (r *SubscriptionRepository) Materialize(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, bool, error) {
	createdAt := time.Now().UTC()

	ct, err := r.pool.Exec(ctx, insertSubscriptionSQL,
		sub.ID, sub.PlanID, sub.Period, sub.TrialDays, sub.UserID, sub.CompanyID,
		sub.Status, sub.Total, sub.PaymentSessionID, createdAt,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "insert subscription for session %q", sub.PaymentSessionID)
	}

	if ct.RowsAffected() == 0 {
		existing, err := r.GetBySessionID(ctx, sub.PaymentSessionID)
		if err != nil {
			return nil, false, errors.Wrapf(err, "fetch existing subscription for session %q", sub.PaymentSessionID)
		}
		return existing, false, nil
	}

	sub.CreatedAt = createdAt
	return sub, true, nil
}

// GetBySessionID loads a subscription by payment session.
func (r *SubscriptionRepository) GetBySessionID(ctx context.Context, sessionID string) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := r.pool.QueryRow(ctx, selectSubscriptionBySessionSQL, sessionID).Scan(
		&sub.ID, &sub.PlanID, &sub.Period, &sub.TrialDays, &sub.UserID, &sub.CompanyID,
		&sub.Status, &sub.Total, &sub.PaymentSessionID, &sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Errorf("subscription for session %q not found", sessionID)
		}
		return nil, errors.Wrapf(err, "select subscription for session %q", sessionID)
	}
	return &sub, nil
}
