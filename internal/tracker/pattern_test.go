package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coralbay/tripwire/internal/kvstore"
)

func TestPattern_PushAndRecent(t *testing.T) {
	t.Run("records inside the window are returned newest first", func(t *testing.T) {
		pat := NewPattern(kvstore.NewMemory(), zap.NewNop())
		ctx := context.Background()
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, pat.Push(ctx, "acct-1", WindowHour, &Record{
			ID: "tx-old", Amount: 100, Timestamp: now.Add(-50 * time.Minute),
		}))
		require.NoError(t, pat.Push(ctx, "acct-1", WindowHour, &Record{
			ID: "tx-new", Amount: 200, Timestamp: now.Add(-5 * time.Minute),
		}))

		records, err := pat.Recent(ctx, "acct-1", WindowHour, now)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "tx-new", records[0].ID)
		assert.Equal(t, "tx-old", records[1].ID)
	})

	t.Run("records older than the window are filtered at read time", func(t *testing.T) {
		// The list itself survives on its TTL; filtering is by the
		// embedded timestamp.
		pat := NewPattern(kvstore.NewMemory(), zap.NewNop())
		ctx := context.Background()
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, pat.Push(ctx, "acct-1", WindowHour, &Record{
			ID: "tx-stale", Timestamp: now.Add(-90 * time.Minute),
		}))
		require.NoError(t, pat.Push(ctx, "acct-1", WindowHour, &Record{
			ID: "tx-live", Timestamp: now.Add(-10 * time.Minute),
		}))

		records, err := pat.Recent(ctx, "acct-1", WindowHour, now)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "tx-live", records[0].ID)
	})

	t.Run("empty account reads empty", func(t *testing.T) {
		pat := NewPattern(kvstore.NewMemory(), zap.NewNop())

		records, err := pat.Recent(context.Background(), "nobody", WindowDay, time.Now())
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("list is bounded", func(t *testing.T) {
		pat := NewPattern(kvstore.NewMemory(), zap.NewNop())
		pat.maxRecords = 3
		ctx := context.Background()
		now := time.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, pat.Push(ctx, "acct-1", WindowHour, &Record{
				ID: "tx", Timestamp: now,
			}))
		}

		records, err := pat.Recent(ctx, "acct-1", WindowHour, now)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

func TestAnalyzeRecipients(t *testing.T) {
	t.Run("all identical", func(t *testing.T) {
		stats := AnalyzeRecipients([]*Record{
			{ToAccount: "acct-9"},
			{ToAccount: "acct-9"},
		})
		assert.Equal(t, 1, stats.UniqueCount)
		assert.True(t, stats.AllIdentical)
	})

	t.Run("mixed recipients", func(t *testing.T) {
		stats := AnalyzeRecipients([]*Record{
			{ToAccount: "acct-9"},
			{ToAccount: "acct-8"},
		})
		assert.Equal(t, 2, stats.UniqueCount)
		assert.False(t, stats.AllIdentical)
	})

	t.Run("empty set is not identical", func(t *testing.T) {
		stats := AnalyzeRecipients(nil)
		assert.Zero(t, stats.UniqueCount)
		assert.False(t, stats.AllIdentical)
	})
}

func TestAnalyzeDevices(t *testing.T) {
	stats := AnalyzeDevices([]*Record{
		{DeviceID: "dev-a", Amount: 100},
		{DeviceID: "dev-a", Amount: 250},
		{DeviceID: "dev-b", Amount: 40},
	})

	assert.Equal(t, 2, stats.UniqueCount)
	assert.False(t, stats.AllIdentical)
	assert.InDelta(t, 350.0, stats.Totals["dev-a"], 0.001)
	assert.InDelta(t, 40.0, stats.Totals["dev-b"], 0.001)
	assert.InDelta(t, 350.0, stats.MaxTotal, 0.001)
}

func TestAnalyzeAmounts(t *testing.T) {
	t.Run("full statistics", func(t *testing.T) {
		stats := AnalyzeAmounts([]*Record{
			{Amount: 100},
			{Amount: 300},
			{Amount: 200},
		})

		assert.InDelta(t, 600.0, stats.Sum, 0.001)
		assert.Equal(t, 3, stats.Count)
		assert.InDelta(t, 200.0, stats.Average, 0.001)
		assert.InDelta(t, 100.0, stats.Min, 0.001)
		assert.InDelta(t, 300.0, stats.Max, 0.001)
	})

	t.Run("empty set", func(t *testing.T) {
		stats := AnalyzeAmounts(nil)
		assert.Zero(t, stats.Count)
		assert.Zero(t, stats.Average)
	})
}
