package parallel_test

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/sentimentjester/jester/internal/parallel"
	"github.com/stretchr/testify/require"
)

func TestEach(t *testing.T) {
	t.Parallel()

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	type given struct {
		limit int
		ctx   func(t *testing.T) context.Context
	}
	type then struct {
		elapsed  time.Duration
		finished int64
		ctxErr   bool
	}
	tCtx := func(t *testing.T) context.Context {
		t.Helper()
		return t.Context()
	}
	tmout := func(t *testing.T) context.Context {
		t.Helper()
		ctx, cancel := context.WithTimeout(t.Context(), 1500*time.Millisecond)
		t.Cleanup(cancel)
		return ctx
	}

	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{"limit 1", given{1, tCtx}, then{18 * time.Second, 4, false}},
		{"limit 10", given{10, tCtx}, then{10 * time.Second, 4, false}},
		{"limit 0 means 1", given{0, tCtx}, then{18 * time.Second, 4, false}},
		{"limit 1, cancel 1.5s", given{1, tmout}, then{1500 * time.Millisecond, 1, true}},
		{"limit 10, cancel 1.5s", given{10, tmout}, then{1500 * time.Millisecond, 1, true}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				var finished atomic.Int64
				f := func(ctx context.Context, d time.Duration) error {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(d):
						finished.Add(1)
						return nil
					}
				}

				start := time.Now()
				err := parallel.Each(tt.given.ctx(t), tt.given.limit, all(input), f)
				require.Equal(t, tt.then.elapsed, time.Since(start))
				require.Equal(t, tt.then.finished, finished.Load())
				if tt.then.ctxErr {
					require.ErrorIs(t, err, context.DeadlineExceeded)
				} else {
					require.NoError(t, err)
				}
			})
		})
	}
}

func TestEach_Errors(t *testing.T) {
	t.Parallel()
	errOdd := errors.New("odd")
	errSeq := errors.New("broken entry")

	seq := func(yield func(int, error) bool) {
		for i := range 6 {
			if i == 3 {
				if !yield(0, errSeq) {
					return
				}
				continue
			}
			if !yield(i, nil) {
				return
			}
		}
	}

	var seen atomic.Int64
	err := parallel.Each(t.Context(), 2, seq, func(_ context.Context, i int) error {
		seen.Add(1)
		if i%2 == 1 {
			return errOdd
		}
		return nil
	})
	require.ErrorIs(t, err, errOdd)
	require.ErrorIs(t, err, errSeq)
	require.Equal(t, int64(5), seen.Load())
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
