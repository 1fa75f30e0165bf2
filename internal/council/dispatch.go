package council

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redwing-381/mirmer.ai/internal/completion"
	"golang.org/x/sync/errgroup"
)

// Waiter is the admission gate consulted once before each batch.
type Waiter interface {
	WaitIfNeeded(ctx context.Context, provider string) error
}

// ModelTimer records per-model call latency.
type ModelTimer interface {
	LogModelResponse(model string, d time.Duration)
}

// Dispatcher sends one message list to many models in parallel. A failing
// model never cancels its siblings; it is reported as an absent result.
type Dispatcher struct {
	completer   completion.Completer
	waiter      Waiter
	timer       ModelTimer
	provider    string
	maxParallel int
	logger      *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWaiter sets the rate-limit gate consulted before each batch.
func WithWaiter(w Waiter, provider string) DispatcherOption {
	return func(d *Dispatcher) {
		d.waiter = w
		d.provider = provider
	}
}

// WithModelTimer records each call's latency, successful or not.
func WithModelTimer(t ModelTimer) DispatcherOption {
	return func(d *Dispatcher) { d.timer = t }
}

// WithMaxParallel bounds in-flight calls per batch. Zero means no bound.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxParallel = n }
}

// WithDispatchLogger sets the logger.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher that calls models through c.
func NewDispatcher(c completion.Completer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{completer: c}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Dispatch calls every model with messages and returns one Result per model.
// Failed calls have empty Content. The only error is ErrNoModels.
// Iterate the returned map in caller order, never map order.
func (d *Dispatcher) Dispatch(ctx context.Context, models []completion.ModelID, messages []completion.Message) (map[completion.ModelID]completion.Result, error) {
	if len(models) == 0 {
		return nil, ErrNoModels
	}

	if d.waiter != nil {
		if err := d.waiter.WaitIfNeeded(ctx, d.provider); err != nil {
			d.logger.Warn("rate limit wait interrupted", "provider", d.provider, "error", err)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[completion.ModelID]completion.Result, len(models))
	)

	// A plain group: one model's failure must not cancel the others.
	var g errgroup.Group
	if d.maxParallel > 0 {
		g.SetLimit(d.maxParallel)
	}

	for _, model := range models {
		g.Go(func() error {
			start := time.Now()
			text, err := d.completer.Complete(ctx, model, messages)
			elapsed := time.Since(start)

			if d.timer != nil {
				d.timer.LogModelResponse(string(model), elapsed)
			}

			res := completion.Result{Model: model}
			if err != nil {
				d.logger.Warn("model call failed", "model", string(model), "duration", elapsed, "error", err)
			} else {
				res.Content = text
				d.logger.Debug("model responded", "model", string(model), "duration", elapsed, "chars", len(text))
			}

			mu.Lock()
			results[model] = res
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // goroutines never return errors
	return results, nil
}
