package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-session/retry"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) notify(_ error, wait time.Duration) {
	r.waits = append(r.waits, wait)
}

func TestDo_SucceedsAfterTwoRetries(t *testing.T) {
	rec := &recorder{}
	calls := 0
	err := retry.Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return errors.New("transient")
		}
		return nil
	}, retry.WithUnit(time.Millisecond), retry.WithNotify(rec.notify))

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{8 * time.Millisecond, 4 * time.Millisecond}, rec.waits)
}

func TestDo_ExhaustsAndReturnsLastError(t *testing.T) {
	errBoom := errors.New("boom")
	rec := &recorder{}
	calls := 0
	err := retry.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	}, retry.WithUnit(time.Millisecond), retry.WithNotify(rec.notify))

	require.ErrorIs(t, err, errBoom)
	require.Same(t, errBoom, err)
	require.Equal(t, 4, calls)
	require.Equal(t, []time.Duration{8 * time.Millisecond, 4 * time.Millisecond, 2 * time.Millisecond}, rec.waits)
}

func TestDo_NoRetryOnSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, retry.WithUnit(time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_EmptySequence(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	}, retry.WithSequence())
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("x")
	}, retry.WithUnit(time.Hour))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := retry.DoValue(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("x")
		}
		return "ok", nil
	}, retry.WithSequence(1), retry.WithUnit(time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, calls)
}
