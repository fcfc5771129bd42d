package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mesafoods/checkout/internal/domain/coupon"
)

const selectCouponSQL = `SELECT id, code, discount, active, valid_from, valid_until
	FROM coupons WHERE id = $1`

const upsertCouponSQL = `INSERT INTO coupons (
		id, code, discount, active, valid_from, valid_until
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (code) DO UPDATE SET
		discount    = EXCLUDED.discount,
		active      = EXCLUDED.active,
		valid_from  = EXCLUDED.valid_from,
		valid_until = EXCLUDED.valid_until`

const redeemSQL = `INSERT INTO coupon_redemptions (
		id, coupon_id, user_id, order_id, discount_amount
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (coupon_id, order_id) DO NOTHING`

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Ledger     = (*CouponRepository)(nil)
)

// CouponRepository implements coupon lookups and the redemption ledger
// backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByID looks up a coupon. Returns coupon.ErrInvalidCoupon when it does
// not exist.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := r.pool.QueryRow(ctx, selectCouponSQL, id).Scan(
		&c.ID, &c.Code, &c.Discount, &c.Active, &c.ValidFrom, &c.ValidUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "select coupon %q", id)
	}
	return &c, nil
}

// Upsert inserts a coupon or refreshes an existing one by code. Used by the
// bulk ingest and seed tools.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		id, c.Code, c.Discount, c.Active, c.ValidFrom, c.ValidUntil,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

// Redeem records one redemption for (couponID, orderID). The unique
// constraint makes repeat attempts from duplicate materialize calls land on
// coupon.ErrAlreadyRedeemed instead of double-counting usage.
func (r *CouponRepository) Redeem(ctx context.Context, couponID, userID, orderID string, amount decimal.Decimal) error {
	ct, err := r.pool.Exec(ctx, redeemSQL,
		uuid.New().String(), couponID, userID, orderID, amount,
	)
	if err != nil {
		return errors.Wrapf(err, "insert redemption for coupon %q order %q", couponID, orderID)
	}
	if ct.RowsAffected() == 0 {
		return coupon.ErrAlreadyRedeemed
	}
	return nil
}
