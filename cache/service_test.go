package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gatehouse-io/gatehouse"
)

func TestService_AdvisorySemantics(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := NewService(NewInmemStore(), nil, zaptest.NewLogger(t))

		_, ok := s.Get(context.Background(), "k")
		require.False(t, ok)

		s.Set(context.Background(), "k", []byte("v"), time.Minute)
		value, ok := s.Get(context.Background(), "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), value)

		s.Remove(context.Background(), "k")
		_, ok = s.Get(context.Background(), "k")
		assert.False(t, ok)
	})

	t.Run("store read failure is a miss, not an error", func(t *testing.T) {
		s := NewService(&failingStore{}, nil, zaptest.NewLogger(t))

		_, ok := s.Get(context.Background(), "k")
		assert.False(t, ok)
	})

	t.Run("store write failure is swallowed", func(t *testing.T) {
		s := NewService(&failingStore{}, nil, zaptest.NewLogger(t))

		// Must not panic or surface the error.
		s.Set(context.Background(), "k", []byte("v"), time.Minute)
		s.Remove(context.Background(), "k")
		s.RemoveByPattern(context.Background(), "action:*")
	})

	t.Run("non-positive ttl falls back to the default", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemStore().WithClock(mock)
		s := NewService(store, nil, zaptest.NewLogger(t))

		s.Set(context.Background(), "k", []byte("v"), 0)

		mock.Add(gatehouse.DefaultCacheTTL - time.Second)
		_, ok := s.Get(context.Background(), "k")
		require.True(t, ok)

		mock.Add(2 * time.Second)
		_, ok = s.Get(context.Background(), "k")
		assert.False(t, ok)
	})

	t.Run("pattern removal clears a key family", func(t *testing.T) {
		s := NewService(NewInmemStore(), nil, zaptest.NewLogger(t))

		s.Set(context.Background(), "action:Rules:List", []byte("a"), time.Minute)
		s.Set(context.Background(), "action:Rules:Get:r:id=1", []byte("b"), time.Minute)
		s.Set(context.Background(), "action:Users:List", []byte("c"), time.Minute)

		s.RemoveByPattern(context.Background(), "action:Rules:*")

		_, ok := s.Get(context.Background(), "action:Rules:List")
		assert.False(t, ok)
		_, ok = s.Get(context.Background(), "action:Rules:Get:r:id=1")
		assert.False(t, ok)
		_, ok = s.Get(context.Background(), "action:Users:List")
		assert.True(t, ok)
	})

	t.Run("GetOrSet invokes the factory once per miss", func(t *testing.T) {
		s := NewService(NewInmemStore(), nil, zaptest.NewLogger(t))

		calls := 0
		factory := func(context.Context) ([]byte, error) {
			calls++
			return []byte("fresh"), nil
		}

		value, err := s.GetOrSet(context.Background(), "k", time.Minute, factory)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), value)

		value, err = s.GetOrSet(context.Background(), "k", time.Minute, factory)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), value)
		assert.Equal(t, 1, calls)
	})

	t.Run("GetOrSet propagates factory errors", func(t *testing.T) {
		s := NewService(NewInmemStore(), nil, zaptest.NewLogger(t))

		wantErr := errors.New("upstream down")
		_, err := s.GetOrSet(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) {
			return nil, wantErr
		})
		assert.ErrorIs(t, err, wantErr)
	})

	t.Run("Increment counts and expires", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemStore().WithClock(mock)
		s := NewService(store, nil, zaptest.NewLogger(t))

		assert.Equal(t, int64(1), s.Increment(context.Background(), "n", 1, time.Minute))
		assert.Equal(t, int64(3), s.Increment(context.Background(), "n", 2, time.Minute))

		mock.Add(2 * time.Minute)
		assert.Equal(t, int64(1), s.Increment(context.Background(), "n", 1, time.Minute))
	})
}

func TestInmemStore(t *testing.T) {
	t.Run("entries expire at their ttl", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemStore().WithClock(mock)

		require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Minute))

		ok, err := store.Exists(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, ok)

		mock.Add(2 * time.Minute)
		_, ok, err = store.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired entries are dropped on read", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemStore().WithClock(mock)

		require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Minute))
		require.Equal(t, 1, store.Len())

		mock.Add(2 * time.Minute)
		_, ok, err := store.Get(context.Background(), "k")
		require.NoError(t, err)
		require.False(t, ok)
		assert.Equal(t, 0, store.Len(), "a dead entry must not stay resident after a read")
	})

	t.Run("writes sweep expired entries of other keys", func(t *testing.T) {
		mock := clock.NewMock()
		store := NewInmemStore().WithClock(mock)

		require.NoError(t, store.Set(context.Background(), "old-1", []byte("v"), time.Second))
		require.NoError(t, store.Set(context.Background(), "old-2", []byte("v"), time.Second))
		require.Equal(t, 2, store.Len())

		// Long past both the entry TTLs and the sweep interval, a write to
		// an unrelated key clears the corpses.
		mock.Add(5 * time.Minute)
		require.NoError(t, store.Set(context.Background(), "fresh", []byte("v"), time.Minute))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("bad glob pattern errors", func(t *testing.T) {
		store := NewInmemStore()
		_, err := store.DeleteByPattern(context.Background(), "[")
		assert.Error(t, err)
	})

	t.Run("DeleteByPattern reports removed count", func(t *testing.T) {
		store := NewInmemStore()
		require.NoError(t, store.Set(context.Background(), "perm:grant:a", []byte("1"), 0))
		require.NoError(t, store.Set(context.Background(), "perm:grant:b", []byte("2"), 0))
		require.NoError(t, store.Set(context.Background(), "idem:x", []byte("3"), 0))

		n, err := store.DeleteByPattern(context.Background(), "perm:grant:*")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

// failingStore errors on every operation.
type failingStore struct{}

var _ gatehouse.CacheStore = (*failingStore)(nil)

var errStoreDown = errors.New("store unavailable")

func (*failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (*failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errStoreDown
}

func (*failingStore) Delete(context.Context, string) error { return errStoreDown }

func (*failingStore) DeleteByPattern(context.Context, string) (int64, error) {
	return 0, errStoreDown
}

func (*failingStore) Exists(context.Context, string) (bool, error) { return false, errStoreDown }

func (*failingStore) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errStoreDown
}
