package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryOptions bounds how often a conflicting unit is re-run.
type RetryOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration

	// OnRetry is called before each re-run (metrics, logging). Optional.
	OnRetry func(attempt int, err error)
}

func (o RetryOptions) withDefaults() RetryOptions {
	out := o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BaseBackoff <= 0 {
		out.BaseBackoff = 10 * time.Millisecond
	}
	return out
}

// WithRetry wraps s so Atomic units failing with ErrConflict are re-run up to
// MaxAttempts times. Every attempt is a fresh transaction; a failed attempt
// leaves nothing behind. On exhaustion the last ErrConflict is returned.
func WithRetry(s Store, opts RetryOptions) Store {
	return &retrying{inner: s, opts: opts.withDefaults()}
}

type retrying struct {
	inner Store
	opts  RetryOptions
}

func (r *retrying) Atomic(ctx context.Context, fn UnitFunc) error {
	var err error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		err = r.inner.Atomic(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == r.opts.MaxAttempts {
			break
		}
		if r.opts.OnRetry != nil {
			r.opts.OnRetry(attempt, err)
		}
		// jittered linear backoff
		d := r.opts.BaseBackoff*time.Duration(attempt) + time.Duration(rand.Int64N(int64(r.opts.BaseBackoff)))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (r *retrying) View(ctx context.Context, fn UnitFunc) error {
	return r.inner.View(ctx, fn)
}

func (r *retrying) Snapshot(ctx context.Context, fn UnitFunc) error {
	return r.inner.Snapshot(ctx, fn)
}
