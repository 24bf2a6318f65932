package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLimiter_Check(t *testing.T) {
	t.Run("allows up to the limit and rejects the excess request", func(t *testing.T) {
		mock := clock.NewMock()
		l := NewLimiter(NewInmemCounterStore(), zaptest.NewLogger(t)).WithClock(mock)

		for i := 0; i < 3; i++ {
			d, err := l.Check(context.Background(), "k", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed, "request %d should be allowed", i+1)
			assert.Equal(t, int64(2-i), d.Remaining)
			mock.Add(time.Second)
		}

		d, err := l.Check(context.Background(), "k", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, int64(0), d.Remaining)
		assert.Equal(t, int64(4), d.Count)
	})

	t.Run("window slides, old entries age out", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemCounterStore()
		l := NewLimiter(store, zaptest.NewLogger(t)).WithClock(mock)

		for i := 0; i < 2; i++ {
			d, err := l.Check(context.Background(), "k", 2, time.Minute)
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}

		d, err := l.Check(context.Background(), "k", 2, time.Minute)
		require.NoError(t, err)
		require.False(t, d.Allowed)

		// Once the earliest entries fall out of the trailing window the
		// same key admits requests again.
		mock.Add(time.Minute + time.Second)
		d, err = l.Check(context.Background(), "k", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, store.Len("k"))
	})

	t.Run("retry-after is bounded by the window", func(t *testing.T) {
		mock := clock.NewMock()
		l := NewLimiter(NewInmemCounterStore(), zaptest.NewLogger(t)).WithClock(mock)

		_, err := l.Check(context.Background(), "k", 1, time.Minute)
		require.NoError(t, err)

		mock.Add(40 * time.Second)
		d, err := l.Check(context.Background(), "k", 1, time.Minute)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		assert.Equal(t, 20*time.Second, d.RetryAfter)
		assert.LessOrEqual(t, d.RetryAfter, time.Minute)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		mock := clock.NewMock()
		l := NewLimiter(NewInmemCounterStore(), zaptest.NewLogger(t)).WithClock(mock)

		d, err := l.Check(context.Background(), "a", 1, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = l.Check(context.Background(), "b", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("fails open when the store is unreachable", func(t *testing.T) {
		l := NewLimiter(failingCounterStore{}, zaptest.NewLogger(t))

		d, err := l.Check(context.Background(), "k", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(5), d.Remaining)
	})
}

type failingCounterStore struct{}

func (failingCounterStore) Slide(context.Context, string, time.Time, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}
