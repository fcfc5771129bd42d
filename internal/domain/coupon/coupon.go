// Package coupon holds the discount redemption ledger and coupon validity
// checks used during checkout.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a coupon does not exist or is
	// disabled.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrCouponExpired is returned when a coupon is outside its valid time
	// window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrAlreadyRedeemed is returned when a redemption already exists for
	// the same (coupon, order) pair. It guards duplicate materialize calls
	// from double-counting discount usage and is not fatal to checkout.
	ErrAlreadyRedeemed = errors.New("coupon already redeemed for this order")
)

// Coupon is a discount code as stored in the back office.
type Coupon struct {
	ID         string
	Code       string
	Discount   decimal.Decimal
	Active     bool
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// Redemption is one ledger entry recording that a coupon was applied to an
// order. Entries are independent of both the coupon and the order: deleting
// either does not erase the usage record.
type Redemption struct {
	ID             string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount decimal.Decimal
	CreatedAt      time.Time
}

// Ledger records coupon redemptions, at most once per (couponID, orderID).
type Ledger interface {
	// Redeem inserts a redemption entry. Returns ErrAlreadyRedeemed when an
	// entry for (couponID, orderID) already exists.
	Redeem(ctx context.Context, couponID, userID, orderID string, amount decimal.Decimal) error
}

// Repository provides coupon lookups for validity checks.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Coupon, error)
}

// Validator answers whether a coupon may be applied at checkout time.
type Validator interface {
	Validate(ctx context.Context, couponID string) (*Coupon, error)
}

// RepoValidator implements Validator against a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon and checks that it is active and inside its
// validity window.
func (v *RepoValidator) Validate(ctx context.Context, couponID string) (*Coupon, error) {
	c, err := v.repo.GetByID(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrInvalidCoupon
	}

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCouponExpired
	}

	return c, nil
}
