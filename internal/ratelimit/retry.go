package ratelimit

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy adapts the limiter's exponential-with-jitter schedule to
// backoff.BackOff so callers can drive retries with backoff.Retry.
type retryPolicy struct {
	l          *Limiter
	provider   string
	maxRetries int
	n          int
}

var _ backoff.BackOff = (*retryPolicy)(nil)

// RetryPolicy returns a fresh backoff schedule for rate-limit failures
// against provider. The schedule yields BackoffDelay(n) for n in
// [0, maxRetries) and then backoff.Stop.
func (l *Limiter) RetryPolicy(provider string) backoff.BackOff {
	return &retryPolicy{l: l, provider: provider, maxRetries: l.maxRetries}
}

func (p *retryPolicy) NextBackOff() time.Duration {
	d, ok := p.l.BackoffDelay(p.n, p.maxRetries)
	if !ok {
		p.l.logger.Error("max retries exceeded", "provider", p.provider, "max_retries", p.maxRetries)
		return backoff.Stop
	}
	p.l.logger.Warn("rate limit hit",
		"provider", p.provider,
		"retry", p.n+1,
		"max_retries", p.maxRetries,
		"delay", d)
	p.n++
	return d
}

func (p *retryPolicy) Reset() { p.n = 0 }
