package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// totalTolerance is the maximum accepted difference between the claimed and
// the recomputed total. It absorbs client-side float rounding without
// letting a tampered total through.
var totalTolerance = decimal.RequireFromString("0.01")

// TotalMismatchError indicates the client-submitted total disagrees with
// the server-computed one beyond tolerance. Non-retryable: the cart must
// be refreshed.
type TotalMismatchError struct {
	Claimed  decimal.Decimal
	Computed decimal.Decimal
}

func (e *TotalMismatchError) Error() string {
	return fmt.Sprintf("claimed total %s does not match computed total %s",
		e.Claimed.StringFixed(2), e.Computed.StringFixed(2))
}

// ValidateTotal recomputes an order total from its line items and compares
// it against the claimed total:
//
//	computed = round2(Σ quantity·unitPrice) + deliveryFee − discount
//
// The claimed total is accepted when |computed − claimed| <= 0.01. On
// mismatch the returned error is a *TotalMismatchError carrying both values.
// The computed total is returned in either case so callers can surface it.
//
// It runs twice per checkout: against the draft as submitted, and again
// after payment against the session metadata. The second run is the trust
// boundary, since the client is untrusted between session creation and
// return.
func ValidateTotal(items []LineItem, deliveryFee, discount, claimed decimal.Decimal) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		sum = sum.Add(item.UnitPrice.Mul(qty))
	}

	computed := sum.Round(2).Add(deliveryFee).Sub(discount)

	if computed.Sub(claimed).Abs().GreaterThan(totalTolerance) {
		return computed, &TotalMismatchError{Claimed: claimed, Computed: computed}
	}
	return computed, nil
}
