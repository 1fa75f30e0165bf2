package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced only by recorded sleeps.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestLimiter(c *fakeClock, random float64) *Limiter {
	return New(
		WithClock(c.Now),
		WithSleep(c.Sleep),
		WithRandom(func() float64 { return random }),
	)
}

func TestWaitIfNeeded_FirstRequestNoDelay(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)

	require.NoError(t, l.WaitIfNeeded(context.Background(), "openrouter"))
	assert.Empty(t, c.Sleeps())

	st, ok := l.Snapshot("openrouter")
	require.True(t, ok)
	assert.Equal(t, c.Now(), st.LastRequest)
}

func TestWaitIfNeeded_EnforcesMinSpacing(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	ctx := context.Background()

	require.NoError(t, l.WaitIfNeeded(ctx, "openrouter"))
	c.Advance(30 * time.Millisecond)
	require.NoError(t, l.WaitIfNeeded(ctx, "openrouter"))

	assert.Equal(t, []time.Duration{70 * time.Millisecond}, c.Sleeps())
}

func TestWaitIfNeeded_ConcurrentCallersQueue(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	ctx := context.Background()

	// Three immediate callers: 0, 100ms, 200ms.
	for i := 0; i < 3; i++ {
		require.NoError(t, l.WaitIfNeeded(ctx, "openrouter"))
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, c.Sleeps())
}

func TestWaitIfNeeded_ProvidersIndependent(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	ctx := context.Background()

	require.NoError(t, l.WaitIfNeeded(ctx, "a"))
	require.NoError(t, l.WaitIfNeeded(ctx, "b"))
	assert.Empty(t, c.Sleeps())
}

func TestWaitIfNeeded_LowQuota(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0.5)
	ctx := context.Background()

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "5")
	h.Set("X-RateLimit-Limit", "100")
	l.UpdateFromHeaders("openrouter", h)

	require.NoError(t, l.WaitIfNeeded(ctx, "openrouter"))
	require.Len(t, c.Sleeps(), 1)
	assert.Equal(t, 1250*time.Millisecond, c.Sleeps()[0])

	// The low-quota path does not record a request time.
	st, _ := l.Snapshot("openrouter")
	assert.True(t, st.LastRequest.IsZero())
}

func TestWaitIfNeeded_QuotaAtThresholdUsesSpacing(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "10")
	h.Set("X-RateLimit-Limit", "100")
	l.UpdateFromHeaders("openrouter", h)

	require.NoError(t, l.WaitIfNeeded(context.Background(), "openrouter"))
	assert.Empty(t, c.Sleeps())
}

func TestWaitIfNeeded_ContextCancelled(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.WaitIfNeeded(ctx, "openrouter"))
	cancel()
	assert.ErrorIs(t, l.WaitIfNeeded(ctx, "openrouter"), context.Canceled)
}

func TestUpdateFromHeaders(t *testing.T) {
	tests := []struct {
		name          string
		headers       map[string]string
		wantRemaining *int
		wantLimit     *int
		wantReset     *float64
	}{
		{
			name:          "x-ratelimit form",
			headers:       map[string]string{"x-ratelimit-remaining": "42", "x-ratelimit-limit": "100", "x-ratelimit-reset": "1700000000.5"},
			wantRemaining: intPtr(42),
			wantLimit:     intPtr(100),
			wantReset:     floatPtr(1700000000.5),
		},
		{
			name:          "ratelimit form",
			headers:       map[string]string{"ratelimit-remaining": "7", "ratelimit-limit": "20"},
			wantRemaining: intPtr(7),
			wantLimit:     intPtr(20),
		},
		{
			name:      "unparsable remaining becomes unknown",
			headers:   map[string]string{"x-ratelimit-remaining": "lots", "x-ratelimit-limit": "100"},
			wantLimit: intPtr(100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			l.UpdateFromHeaders("p", h)

			st, ok := l.Snapshot("p")
			require.True(t, ok)
			assert.Equal(t, tt.wantRemaining, st.Remaining)
			assert.Equal(t, tt.wantLimit, st.Limit)
			assert.Equal(t, tt.wantReset, st.Reset)
		})
	}
}

func TestUpdateFromHeaders_NoneLeavesStateUntouched(t *testing.T) {
	l := New()
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Limit", "9")
	l.UpdateFromHeaders("p", h)

	l.UpdateFromHeaders("p", http.Header{"Content-Type": {"application/json"}})

	st, _ := l.Snapshot("p")
	assert.Equal(t, intPtr(3), st.Remaining)
	assert.Equal(t, intPtr(9), st.Limit)
}

func TestUpdateFromHeaders_PartialReplacesAll(t *testing.T) {
	l := New()
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Limit", "9")
	l.UpdateFromHeaders("p", h)

	h2 := http.Header{}
	h2.Set("X-RateLimit-Reset", "12")
	l.UpdateFromHeaders("p", h2)

	st, _ := l.Snapshot("p")
	assert.Nil(t, st.Remaining)
	assert.Nil(t, st.Limit)
	assert.Equal(t, floatPtr(12), st.Reset)
}

func TestBackoffDelay(t *testing.T) {
	l := New(WithRandom(func() float64 { return 0.999999 }))

	for n := 0; n < 5; n++ {
		d, ok := l.BackoffDelay(n, 5)
		require.True(t, ok)
		base := BaseDelay(n)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+base/2)
	}

	_, ok := l.BackoffDelay(5, 5)
	assert.False(t, ok)
}

func TestBaseDelay(t *testing.T) {
	assert.Equal(t, time.Second, BaseDelay(0))
	assert.Equal(t, 2*time.Second, BaseDelay(1))
	assert.Equal(t, 16*time.Second, BaseDelay(4))
}

func TestHandleRateLimitError(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	ctx := context.Background()

	assert.True(t, l.HandleRateLimitError(ctx, "p", 0, 2))
	assert.True(t, l.HandleRateLimitError(ctx, "p", 1, 2))
	assert.False(t, l.HandleRateLimitError(ctx, "p", 2, 2))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
}

func TestRetryPolicy(t *testing.T) {
	l := New(WithMaxRetries(3), WithRandom(func() float64 { return 0 }))
	p := l.RetryPolicy("p")

	assert.Equal(t, time.Second, p.NextBackOff())
	assert.Equal(t, 2*time.Second, p.NextBackOff())
	assert.Equal(t, 4*time.Second, p.NextBackOff())
	assert.Equal(t, backoff.Stop, p.NextBackOff())

	p.Reset()
	assert.Equal(t, time.Second, p.NextBackOff())
}

func TestSnapshots(t *testing.T) {
	c := newFakeClock()
	l := newTestLimiter(c, 0)
	require.NoError(t, l.WaitIfNeeded(context.Background(), "a"))
	require.NoError(t, l.WaitIfNeeded(context.Background(), "b"))

	snaps := l.Snapshots()
	assert.Len(t, snaps, 2)
	assert.Contains(t, snaps, "a")
	assert.Contains(t, snaps, "b")

	_, ok := l.Snapshot("missing")
	assert.False(t, ok)
}

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
