// Package retry re-runs an outbound call on failure, sleeping through a fixed
// sequence of delays consumed from the end (8, 4 then 2 units by default).
package retry

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// DefaultSequence is the delay budget in units.
var DefaultSequence = []int{2, 4, 8}

// DefaultUnit is the length of one unit in the sequence.
const DefaultUnit = time.Second

type options struct {
	sequence []int
	unit     time.Duration
	notify   func(err error, wait time.Duration)
}

// Option configures Do and DoValue.
type Option func(*options)

// WithSequence replaces the delay budget. An empty sequence disables retries.
func WithSequence(steps ...int) Option {
	return func(o *options) {
		o.sequence = slices.Clone(steps)
	}
}

// WithUnit sets the length of one sequence unit.
func WithUnit(unit time.Duration) Option {
	return func(o *options) {
		o.unit = unit
	}
}

// WithNotify is called before each sleep with the failure and the delay.
func WithNotify(fn func(err error, wait time.Duration)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// popLast is a backoff.BackOff that hands out the sequence from the end and
// stops once it is empty.
type popLast struct {
	sequence []int
	unit     time.Duration
	left     []int
}

func (b *popLast) NextBackOff() time.Duration {
	if len(b.left) == 0 {
		return backoff.Stop
	}
	next := b.left[len(b.left)-1]
	b.left = b.left[:len(b.left)-1]
	return time.Duration(next) * b.unit
}

func (b *popLast) Reset() {
	b.left = slices.Clone(b.sequence)
}

// Do calls fn until it succeeds or the sequence is exhausted. The last error is
// returned unchanged. Cancelling ctx stops the wait and returns the context error.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		sequence: DefaultSequence,
		unit:     DefaultUnit,
		notify: func(err error, wait time.Duration) {
			log.Debug().Err(err).Dur("wait", wait).Msg("retrying call")
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &popLast{sequence: o.sequence, unit: o.unit}
	b.Reset()

	return backoff.Retry(ctx, func() (T, error) {
		return fn(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithNotify(o.notify),
		backoff.WithMaxElapsedTime(time.Duration(math.MaxInt64)),
	)
}
