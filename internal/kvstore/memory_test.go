package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Strings(t *testing.T) {
	t.Run("set and get round-trip", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		require.NoError(t, store.Set(ctx, "k", "v", 0))

		got, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("missing key is a miss not an error", func(t *testing.T) {
		store := NewMemory()

		_, ok, err := store.Get(context.Background(), "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired key is a miss", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		now := time.Now()
		store.SetClock(func() time.Time { return now })
		require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

		// Advance past the TTL.
		store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

		_, ok, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong type is rejected", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		_, err := store.IncrBy(ctx, "n", 1)
		require.NoError(t, err)

		_, _, err = store.Get(ctx, "n")
		assert.ErrorIs(t, err, ErrWrongType)
	})
}

func TestMemory_Counters(t *testing.T) {
	t.Run("integer increments accumulate", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, err := store.IncrBy(ctx, "count", 1)
			require.NoError(t, err)
		}

		n, err := store.GetInt(ctx, "count")
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("missing counter reads zero", func(t *testing.T) {
		store := NewMemory()

		n, err := store.GetInt(context.Background(), "absent")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("float increments accumulate", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		_, err := store.IncrByFloat(ctx, "sum", 100.50)
		require.NoError(t, err)
		total, err := store.IncrByFloat(ctx, "sum", 49.50)
		require.NoError(t, err)
		assert.InDelta(t, 150.0, total, 0.001)
	})

	t.Run("expire applies to counters", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		now := time.Now()
		store.SetClock(func() time.Time { return now })

		_, err := store.IncrBy(ctx, "count", 3)
		require.NoError(t, err)
		require.NoError(t, store.Expire(ctx, "count", time.Minute))

		store.SetClock(func() time.Time { return now.Add(90 * time.Second) })

		n, err := store.GetInt(ctx, "count")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemory_Sets(t *testing.T) {
	t.Run("duplicate members are not counted twice", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		added, err := store.SAdd(ctx, "devices", "a", "b")
		require.NoError(t, err)
		assert.Equal(t, int64(2), added)

		added, err = store.SAdd(ctx, "devices", "a")
		require.NoError(t, err)
		assert.Zero(t, added)

		card, err := store.SCard(ctx, "devices")
		require.NoError(t, err)
		assert.Equal(t, int64(2), card)
	})

	t.Run("members are returned sorted", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		_, err := store.SAdd(ctx, "s", "c", "a", "b")
		require.NoError(t, err)

		members, err := store.SMembers(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, members)
	})

	t.Run("removing the last member drops the key", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		_, err := store.SAdd(ctx, "s", "only")
		require.NoError(t, err)
		_, err = store.SRem(ctx, "s", "only")
		require.NoError(t, err)

		keys, err := store.Keys(ctx, "s")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestMemory_SortedSets(t *testing.T) {
	t.Run("rev range orders by descending score", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		require.NoError(t, store.ZAdd(ctx, "prio", "low", 10))
		require.NoError(t, store.ZAdd(ctx, "prio", "high", 100))
		require.NoError(t, store.ZAdd(ctx, "prio", "mid", 50))

		members, err := store.ZRevRange(ctx, "prio", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"high", "mid", "low"}, members)
	})

	t.Run("re-adding a member updates its score", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		require.NoError(t, store.ZAdd(ctx, "prio", "r", 10))
		require.NoError(t, store.ZAdd(ctx, "prio", "r", 99))

		card, err := store.ZCard(ctx, "prio")
		require.NoError(t, err)
		assert.Equal(t, int64(1), card)
	})
}

func TestMemory_Lists(t *testing.T) {
	t.Run("lpush puts newest first", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		_, err := store.LPush(ctx, "recent", "first")
		require.NoError(t, err)
		_, err = store.LPush(ctx, "recent", "second")
		require.NoError(t, err)

		items, err := store.LRange(ctx, "recent", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"second", "first"}, items)
	})

	t.Run("ltrim bounds the list", func(t *testing.T) {
		store := NewMemory()
		ctx := context.Background()

		for _, v := range []string{"a", "b", "c", "d"} {
			_, err := store.LPush(ctx, "recent", v)
			require.NoError(t, err)
		}
		require.NoError(t, store.LTrim(ctx, "recent", 0, 1))

		items, err := store.LRange(ctx, "recent", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "c"}, items)
	})
}

func TestMemory_Delete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "b", "2", 0))

	removed, err := store.Delete(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}
