// Package ratelimit paces calls to a shared, externally rate-limited
// completion API. State is tracked per provider: the last admitted request
// time and the most recent quota advertised by the provider's response
// headers.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Defaults mirror the pacing policy of the hosted API.
const (
	DefaultMinSpacing     = 100 * time.Millisecond
	DefaultLowQuotaRatio  = 0.1
	DefaultLowQuotaDelay  = time.Second
	DefaultLowQuotaJitter = 500 * time.Millisecond
	DefaultMaxRetries     = 5
)

// State is a snapshot of what the limiter knows about one provider.
// Pointer fields are nil when the provider never advertised the value.
type State struct {
	LastRequest time.Time `json:"last_request"`
	Remaining   *int      `json:"requests_remaining,omitempty"`
	Limit       *int      `json:"requests_limit,omitempty"`
	Reset       *float64  `json:"reset_time,omitempty"`
	UpdatedAt   time.Time `json:"last_updated,omitempty"`
}

// providerState is guarded by its own mutex so that providers never contend
// with each other.
type providerState struct {
	mu    sync.Mutex
	state State
}

// SleepFunc suspends the caller for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter is a process-wide admission gate keyed by provider name. The zero
// value is not usable; construct with New.
type Limiter struct {
	mu        sync.Mutex
	providers map[string]*providerState

	minSpacing     time.Duration
	lowQuotaRatio  float64
	lowQuotaDelay  time.Duration
	lowQuotaJitter time.Duration
	maxRetries     int

	now    func() time.Time
	sleep  SleepFunc
	random func() float64
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMinSpacing sets the floor between two admitted requests to the same provider.
func WithMinSpacing(d time.Duration) Option {
	return func(l *Limiter) { l.minSpacing = d }
}

// WithMaxRetries sets the retry budget used by RetryPolicy.
func WithMaxRetries(n int) Option {
	return func(l *Limiter) { l.maxRetries = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware timer sleep.
func WithSleep(fn SleepFunc) Option {
	return func(l *Limiter) { l.sleep = fn }
}

// WithRandom replaces the uniform [0,1) source used for jitter.
func WithRandom(fn func() float64) Option {
	return func(l *Limiter) { l.random = fn }
}

// WithLogger sets the logger. A nil logger falls back to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter with the default pacing policy.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		providers:      make(map[string]*providerState),
		minSpacing:     DefaultMinSpacing,
		lowQuotaRatio:  DefaultLowQuotaRatio,
		lowQuotaDelay:  DefaultLowQuotaDelay,
		lowQuotaJitter: DefaultLowQuotaJitter,
		maxRetries:     DefaultMaxRetries,
		now:            time.Now,
		sleep:          sleepContext,
		random:         rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// provider returns the state slot for name, creating it on first use.
func (l *Limiter) provider(name string) *providerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.providers[name]
	if !ok {
		ps = &providerState{}
		l.providers[name] = ps
	}
	return ps
}

// WaitIfNeeded delays the caller before a request to provider. When the last
// advertised quota is below 10% of the advertised limit it sleeps for one
// second plus up to half a second of jitter. Otherwise it enforces the
// minimum spacing since the previous admitted request. The only error is
// ctx's error when the context ends during the sleep.
func (l *Limiter) WaitIfNeeded(ctx context.Context, provider string) error {
	ps := l.provider(provider)

	ps.mu.Lock()
	st := ps.state
	if st.Remaining != nil && st.Limit != nil &&
		float64(*st.Remaining) < float64(*st.Limit)*l.lowQuotaRatio {
		ps.mu.Unlock()

		delay := l.lowQuotaDelay + time.Duration(l.random()*float64(l.lowQuotaJitter))
		l.logger.Warn("rate limit low",
			"provider", provider,
			"remaining", *st.Remaining,
			"limit", *st.Limit,
			"delay", delay)
		return l.sleep(ctx, delay)
	}

	now := l.now()
	var wait time.Duration
	if !st.LastRequest.IsZero() {
		if elapsed := now.Sub(st.LastRequest); elapsed < l.minSpacing {
			wait = l.minSpacing - elapsed
		}
	}
	// Reserve the slot before sleeping so concurrent callers queue behind it.
	ps.state.LastRequest = now.Add(wait)
	ps.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}

// Header names checked by UpdateFromHeaders, in lookup order. http.Header
// lookups are case-insensitive.
var (
	remainingHeaders = []string{"X-RateLimit-Remaining", "RateLimit-Remaining"}
	limitHeaders     = []string{"X-RateLimit-Limit", "RateLimit-Limit"}
	resetHeaders     = []string{"X-RateLimit-Reset", "RateLimit-Reset"}
)

// UpdateFromHeaders records the quota advertised in a provider response.
// When none of the remaining/limit/reset headers are present the previous
// quota is kept. When any is present the whole quota is replaced, so a value
// absent from this response becomes unknown.
func (l *Limiter) UpdateFromHeaders(provider string, headers http.Header) {
	remaining, hasRemaining := firstHeader(headers, remainingHeaders)
	limit, hasLimit := firstHeader(headers, limitHeaders)
	reset, hasReset := firstHeader(headers, resetHeaders)
	if !hasRemaining && !hasLimit && !hasReset {
		return
	}

	ps := l.provider(provider)
	ps.mu.Lock()
	ps.state.Remaining = parseInt(remaining)
	ps.state.Limit = parseInt(limit)
	ps.state.Reset = parseFloat(reset)
	ps.state.UpdatedAt = l.now()
	ps.mu.Unlock()

	if hasRemaining {
		l.logger.Debug("rate limit update", "provider", provider, "remaining", remaining, "limit", limit)
	}
}

// Snapshot returns a copy of the state known for provider.
func (l *Limiter) Snapshot(provider string) (State, bool) {
	l.mu.Lock()
	ps, ok := l.providers[provider]
	l.mu.Unlock()
	if !ok {
		return State{}, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return copyState(ps.state), true
}

// Snapshots returns the state of every provider seen so far.
func (l *Limiter) Snapshots() map[string]State {
	l.mu.Lock()
	names := make([]string, 0, len(l.providers))
	for name := range l.providers {
		names = append(names, name)
	}
	l.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, name := range names {
		if st, ok := l.Snapshot(name); ok {
			out[name] = st
		}
	}
	return out
}

// BaseDelay is the un-jittered exponential backoff for a retry attempt:
// 2^retryCount seconds.
func BaseDelay(retryCount int) time.Duration {
	return time.Duration(math.Pow(2, float64(retryCount)) * float64(time.Second))
}

// BackoffDelay returns the wait before retry attempt retryCount (0-indexed)
// after an explicit rate-limit failure: BaseDelay plus uniform jitter in
// [0, BaseDelay/2). It reports false once retryCount reaches maxRetries.
func (l *Limiter) BackoffDelay(retryCount, maxRetries int) (time.Duration, bool) {
	if retryCount >= maxRetries {
		return 0, false
	}
	base := BaseDelay(retryCount)
	jitter := time.Duration(l.random() * float64(base) / 2)
	return base + jitter, true
}

// HandleRateLimitError sleeps for the backoff delay of retryCount and
// reports whether the caller should retry. It returns false without
// sleeping once retryCount >= maxRetries, and false if ctx ends first.
func (l *Limiter) HandleRateLimitError(ctx context.Context, provider string, retryCount, maxRetries int) bool {
	delay, ok := l.BackoffDelay(retryCount, maxRetries)
	if !ok {
		l.logger.Error("max retries exceeded", "provider", provider, "max_retries", maxRetries)
		return false
	}
	l.logger.Warn("rate limit hit",
		"provider", provider,
		"retry", retryCount+1,
		"max_retries", maxRetries,
		"delay", delay)
	return l.sleep(ctx, delay) == nil
}

func firstHeader(h http.Header, names []string) (string, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func copyState(src State) State {
	dst := src
	if src.Remaining != nil {
		v := *src.Remaining
		dst.Remaining = &v
	}
	if src.Limit != nil {
		v := *src.Limit
		dst.Limit = &v
	}
	if src.Reset != nil {
		v := *src.Reset
		dst.Reset = &v
	}
	return dst
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
