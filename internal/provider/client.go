// Package provider implements payment.Gateway against the hosted-checkout
// HTTP API of the payment provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mesafoods/checkout/internal/domain/payment"
)

const (
	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
	retryBaseDelay = 250 * time.Millisecond
)

// Config holds the provider connection settings.
type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
	// Timeout bounds a single HTTP attempt. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to the payment provider's checkout session API.
// Transient faults (network errors, 5xx) are retried up to three attempts
// with backoff and surface as payment.ErrProviderUnavailable, never as a
// hang or an opaque transport error.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	currency string
}

var _ payment.Gateway = (*Client)(nil)

// New creates a provider Client. Outbound requests are traced via otelhttp.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		currency: cfg.Currency,
	}
}

type createSessionBody struct {
	AmountMinorUnits int64             `json:"amount_minor_units"`
	Currency         string            `json:"currency"`
	Description      string            `json:"description"`
	Metadata         map[string]string `json:"metadata"`
	SuccessURL       string            `json:"success_url"`
	CancelURL        string            `json:"cancel_url"`
}

type sessionResponse struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	Status           string            `json:"status"`
	PaymentStatus    string            `json:"payment_status"`
	AmountMinorUnits int64             `json:"amount_minor_units"`
	Metadata         map[string]string `json:"metadata"`
}

// CreateSession opens a hosted checkout session priced in minor units.
func (c *Client) CreateSession(ctx context.Context, req payment.CreateSessionRequest) (*payment.CreatedSession, error) {
	if err := req.Check(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(createSessionBody{
		AmountMinorUnits: req.AmountMinorUnits,
		Currency:         c.currency,
		Description:      req.Description,
		Metadata:         req.Metadata,
		SuccessURL:       req.URLs.Success,
		CancelURL:        req.URLs.Cancel,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal session request")
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", body, &resp); err != nil {
		return nil, err
	}

	return &payment.CreatedSession{
		ID:          resp.ID,
		RedirectURL: resp.URL,
	}, nil
}

// FetchSession retrieves the authoritative session state from the provider.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+sessionID, nil, &resp); err != nil {
		return nil, err
	}
	return mapSession(&resp), nil
}

func mapSession(resp *sessionResponse) *payment.Session {
	// no_payment_required counts as paid: a zero-amount or externally
	// settled session still completes the checkout.
	paid := resp.PaymentStatus == "paid" || resp.PaymentStatus == "no_payment_required"

	status := payment.StatusCreated
	switch {
	case paid:
		status = payment.StatusPaid
	case resp.Status == "expired":
		status = payment.StatusExpired
	case resp.Status == "canceled":
		status = payment.StatusCanceled
	}

	return &payment.Session{
		ID:               resp.ID,
		Status:           status,
		Paid:             paid,
		AmountMinorUnits: resp.AmountMinorUnits,
		Metadata:         resp.Metadata,
	}
}

// do performs one provider call with bounded retries on transient faults.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	lg := zctx.From(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay << (attempt - 2)
			lg.Warn("Provider request retry",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(payment.ErrProviderUnavailable, ctx.Err().Error())
			}
		}

		retryable, err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}

	return errors.Wrapf(payment.ErrProviderUnavailable, "%d attempts: %v", maxAttempts, lastErr)
}

// attempt runs a single HTTP exchange. The bool result reports whether the
// failure is transient and worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, errors.Wrap(err, "provider request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, payment.ErrSessionNotFound
	case resp.StatusCode >= 500:
		return true, errors.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, errors.Errorf("provider rejected request: %d %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, errors.Wrap(err, "decode provider response")
	}
	return false, nil
}
