package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesafoods/checkout/internal/domain/order"
)

const insertOrderSQL = `INSERT INTO orders (
		id, company_id, status, subtotal, delivery_fee, discount, total,
		payment_method, coupon_id, user_id, payment_session_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
	ON CONFLICT (payment_session_id) DO NOTHING`

const insertLineItemSQL = `INSERT INTO order_line_items (
		id, order_id, product_id, name, quantity, unit_price, subtotal
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

const insertRedemptionSQL = `INSERT INTO coupon_redemptions (
		id, coupon_id, user_id, order_id, discount_amount
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (coupon_id, order_id) DO NOTHING`

const selectOrderBySessionSQL = `SELECT
		id, company_id, status, subtotal, delivery_fee, discount, total,
		payment_method, COALESCE(coupon_id, ''), user_id, payment_session_id, created_at
	FROM orders WHERE payment_session_id = $1`

const selectLineItemsSQL = `SELECT product_id, name, quantity, unit_price, subtotal
	FROM order_line_items WHERE order_id = $1 ORDER BY id`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Materialize persists the order, its line items, and (when a coupon is
// attached) the redemption ledger entry in one transaction.
//
// Idempotency rides on the unique constraint over payment_session_id: the
// insert uses ON CONFLICT DO NOTHING, and a conflicting insert that races a
// concurrent transaction blocks until the winner commits. A zero row count
// therefore means the winner's row is already visible, and the loser reads
// and returns it instead of erroring.
func (r *OrderRepository) Materialize(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	createdAt := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.CompanyID, o.Status, o.Subtotal, o.DeliveryFee, o.Discount, o.Total,
		o.PaymentMethod, o.CouponID, o.UserID, o.PaymentSessionID, createdAt,
	)
	if err != nil {
		return nil, false, errors.Wrapf(err, "insert order for session %q", o.PaymentSessionID)
	}

	if ct.RowsAffected() == 0 {
		// Lost the race or a repeat call: hand back the winner's order.
		existing, err := r.GetBySessionID(ctx, o.PaymentSessionID)
		if err != nil {
			return nil, false, errors.Wrapf(err, "fetch existing order for session %q", o.PaymentSessionID)
		}
		return existing, false, nil
	}

	// Line items go in the same transaction: an order without its items is
	// a bug, never a tolerable intermediate state.
	batch := &pgx.Batch{}
	for _, item := range o.Items {
		batch.Queue(insertLineItemSQL,
			uuid.New().String(), o.ID, item.ProductID, item.Name,
			item.Quantity, item.UnitPrice, item.Subtotal,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, false, errors.Wrapf(err, "insert %d line items for order %q", len(o.Items), o.ID)
	}

	if o.CouponID != "" {
		_, err := tx.Exec(ctx, insertRedemptionSQL,
			uuid.New().String(), o.CouponID, o.UserID, o.ID, o.Discount,
		)
		if err != nil {
			return nil, false, errors.Wrapf(err, "insert redemption for coupon %q", o.CouponID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit materialization")
	}

	o.CreatedAt = createdAt
	return o, true, nil
}

// GetBySessionID loads an order and its line items by payment session.
// Returns order.ErrNotFound when no order exists for the session.
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, selectOrderBySessionSQL, sessionID).Scan(
		&o.ID, &o.CompanyID, &o.Status, &o.Subtotal, &o.DeliveryFee, &o.Discount,
		&o.Total, &o.PaymentMethod, &o.CouponID, &o.UserID, &o.PaymentSessionID,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "select order for session %q", sessionID)
	}

	rows, err := r.pool.Query(ctx, selectLineItemsSQL, o.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "select line items for order %q", o.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var item order.LineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, errors.Wrap(err, "scan line item")
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate line items")
	}

	return &o, nil
}
