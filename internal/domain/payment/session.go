// Package payment defines the gateway contract to the hosted-checkout
// payment provider and the metadata codec used to carry order drafts
// through it.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a provider checkout session.
type SessionStatus string

const (
	StatusCreated  SessionStatus = "created"
	StatusPaid     SessionStatus = "paid"
	StatusExpired  SessionStatus = "expired"
	StatusCanceled SessionStatus = "canceled"
)

var (
	// ErrInvalidAmount is returned when the minor-unit amount handed to the
	// provider does not match the draft total.
	ErrInvalidAmount = errors.New("amount does not match draft total")
	// ErrSessionNotFound is returned when the provider has no record of the
	// session.
	ErrSessionNotFound = errors.New("payment session not found")
	// ErrProviderUnavailable is returned on transient network or provider
	// faults. Callers may retry with backoff.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrPaymentNotConfirmed is returned when a completion flow runs before
	// the payment settles. Non-fatal: the caller may poll and retry.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	// ErrPaymentFailed is returned for sessions the provider reports as
	// canceled or expired. Terminal for the checkout attempt.
	ErrPaymentFailed = errors.New("payment failed")
)

// CreatedSession is the result of opening a checkout session: the provider
// session ID and the hosted payment page the customer is redirected to.
type CreatedSession struct {
	ID          string
	RedirectURL string
}

// Session is the provider's authoritative view of a checkout session.
// It is read-only to this system after creation.
type Session struct {
	ID               string
	Status           SessionStatus
	Paid             bool
	AmountMinorUnits int64
	Metadata         map[string]string
}

// ConfirmPaid classifies an unpaid session: ErrPaymentFailed for terminal
// provider states, ErrPaymentNotConfirmed while the payment may still
// settle. Returns nil for paid sessions.
func (s *Session) ConfirmPaid() error {
	if s.Paid {
		return nil
	}
	switch s.Status {
	case StatusCanceled, StatusExpired:
		return ErrPaymentFailed
	default:
		return ErrPaymentNotConfirmed
	}
}

// ReturnURLs are the redirect targets the provider sends the customer to
// after a payment attempt.
type ReturnURLs struct {
	Success string
	Cancel  string
}

// CreateSessionRequest describes the single-line-item hosted checkout
// session to open. The provider accepts one priced position plus opaque
// string metadata; structured drafts are serialized into Metadata.
type CreateSessionRequest struct {
	// Description is the line item label shown on the hosted payment page.
	Description string
	// Total is the authoritative decimal amount the session is priced from.
	Total decimal.Decimal
	// AmountMinorUnits must equal MinorUnits(Total); ErrInvalidAmount
	// otherwise.
	AmountMinorUnits int64
	Metadata         map[string]string
	URLs             ReturnURLs
}

// Check verifies the internal consistency of the request.
func (r *CreateSessionRequest) Check() error {
	if MinorUnits(r.Total) != r.AmountMinorUnits {
		return ErrInvalidAmount
	}
	return nil
}

// Gateway wraps the third-party payment provider.
//
// CreateSession opens a hosted checkout session. No local state is written.
//
// FetchSession returns the authoritative session status. Implementations
// must not cache: every call reaches the provider, so a forged or stale
// client state can never pass for a paid one.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error)
	FetchSession(ctx context.Context, sessionID string) (*Session, error)
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a decimal currency amount to minor units (cents),
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
