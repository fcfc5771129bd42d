package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a persisted order. Orders are only
// created after payment settles, so there is no persisted "pending" state.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusFulfilled Status = "fulfilled"
	StatusCanceled  Status = "canceled"
)

var (
	// ErrEmptyItems is returned for drafts without line items.
	ErrEmptyItems = fmt.Errorf("line items required")
	// ErrNotFound is returned when no order exists for the given key.
	ErrNotFound = fmt.Errorf("order not found")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// LineItem is a single priced position of a draft or a persisted order.
// Prices are snapshots taken at checkout time; persisted line items are
// immutable.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Draft is a client-proposed order awaiting payment confirmation. It is
// never persisted: it travels to the payment provider as session metadata
// and is re-derived from that metadata after the customer returns.
type Draft struct {
	CompanyID   string
	AddressID   string
	UserID      string
	LineItems   []LineItem
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	CouponID    string
	Notes       string
}

// CheckItems validates the structural part of a draft: at least one line
// item, all quantities positive. Pricing is checked separately by
// ValidateTotal.
func (d *Draft) CheckItems() error {
	if len(d.LineItems) == 0 {
		return ErrEmptyItems
	}
	for _, item := range d.LineItems {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	return nil
}

// Order is the durable record materialized exactly once per paid payment
// session.
type Order struct {
	ID               string
	CompanyID        string
	Status           Status
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal
	PaymentMethod    string
	CouponID         string
	UserID           string
	PaymentSessionID string
	Items            []LineItem
	CreatedAt        time.Time
}

// Repository persists orders together with their line items.
//
// Materialize inserts the order, its line items, and (when the order carries
// a coupon) the redemption ledger entry as one atomic unit. It is idempotent
// on PaymentSessionID: a second call for the same session returns the
// winner's order with created=false and writes nothing.
type Repository interface {
	Materialize(ctx context.Context, o *Order) (stored *Order, created bool, err error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
}
