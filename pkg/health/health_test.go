package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeThresholds(t *testing.T) {
	var fail atomic.Bool
	p := newProbe("flaky", time.Second, func(_ context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()

	// Needs three consecutive failures before going unhealthy.
	fail.Store(true)
	p.tick(ctx)
	p.tick(ctx)
	assert.True(t, p.healthy.Load())
	p.tick(ctx)
	assert.False(t, p.healthy.Load())

	// One success is enough to recover.
	fail.Store(false)
	p.tick(ctx)
	assert.True(t, p.healthy.Load())

	// A single failure after recovery does not flip it back.
	fail.Store(true)
	p.tick(ctx)
	assert.True(t, p.healthy.Load())
}

func TestProbeFailureResetOnSuccess(t *testing.T) {
	calls := 0
	p := newProbe("alternating", time.Second, func(_ context.Context) error {
		calls++
		if calls%2 == 0 {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	for range 10 {
		p.tick(ctx)
	}
	// Failures never accumulate to the threshold when interleaved with
	// successes.
	assert.True(t, p.healthy.Load())
}

func TestIsReady(t *testing.T) {
	h := New()
	assert.False(t, h.IsReady(), "fresh instance must not be ready")

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.AddReadinessCheck("db", time.Second, func(_ context.Context) error {
		return errors.New("connection refused")
	})
	// Probes start healthy until the loop observes enough failures.
	assert.True(t, h.IsReady())

	h.readiness[0].healthy.Store(false)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	h.readiness[0].healthy.Store(true)
	assert.False(t, h.IsReady(), "manual gate overrides probe state")
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.AddLivenessCheck("noop", time.Second, func(_ context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeStatus(t, rec).Status)

	probeErr := errors.New("goroutine count 5000 exceeds threshold 1000")
	h.liveness[0].healthy.Store(false)
	h.liveness[0].lastErr.Store(&probeErr)

	rec = httptest.NewRecorder()
	h.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeStatus(t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Checks["noop"], "goroutine count")
}

func TestReadyEndpoint_GateClosed(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeStatus(t, rec).Checks, "_readiness")

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRunsProbes(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddReadinessCheck("counter", time.Second, func(_ context.Context) error {
		calls.Add(1)
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(_ context.Context) error { return f.err }

func TestDatabaseCheck(t *testing.T) {
	require.NoError(t, DatabaseCheck(fakePinger{})(context.Background()))

	err := DatabaseCheck(fakePinger{err: errors.New("connection refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping database")
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}
