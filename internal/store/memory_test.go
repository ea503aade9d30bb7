package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinstream/internal/model"
)

func snapshotAt(market string, ts int64) model.CandleSnapshot {
	return model.CandleSnapshot{
		Market:    market,
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    1,
		Timestamp: ts,
	}
}

func Test_MemoryStore_AppendAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", ts)))
	}

	got, err := s.ListRecent(ctx, "KRW-BTC", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(3000), got[2].Timestamp)
}

func Test_MemoryStore_ListRecent_Limit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for ts := int64(1000); ts <= 5000; ts += 1000 {
		require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", ts)))
	}

	// The limit keeps the most recent entries, still ascending.
	got, err := s.ListRecent(ctx, "KRW-BTC", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4000), got[0].Timestamp)
	assert.Equal(t, int64(5000), got[1].Timestamp)

	got, err = s.ListRecent(ctx, "KRW-BTC", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ListRecent(ctx, "KRW-ETH", 10)
	require.NoError(t, err)
	assert.Empty(t, got, "unknown market lists nothing")
}

func Test_MemoryStore_OutOfOrderAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// A late arrival is re-sorted into timestamp order.
	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", 2000)))
	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", 3000)))
	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", 1000)))

	got, err := s.ListRecent(ctx, "KRW-BTC", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(2000), got[1].Timestamp)
	assert.Equal(t, int64(3000), got[2].Timestamp)
}

func Test_MemoryStore_CountFor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	count, err := s.CountFor(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", 1000)))
	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", 2000)))
	require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-ETH", 1000)))

	count, err = s.CountFor(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "markets count independently")
}

func Test_MemoryStore_DeleteOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for ts := int64(1000); ts <= 4000; ts += 1000 {
		require.NoError(t, s.AppendSnapshot(ctx, snapshotAt("KRW-BTC", ts)))
	}

	require.NoError(t, s.DeleteOldest(ctx, "KRW-BTC", 2))

	got, err := s.ListRecent(ctx, "KRW-BTC", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3000), got[0].Timestamp, "oldest entries removed first")

	// Deleting more than stored empties the market.
	require.NoError(t, s.DeleteOldest(ctx, "KRW-BTC", 10))
	count, err := s.CountFor(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Zero(t, count)

	// No-ops on empty or unknown markets.
	require.NoError(t, s.DeleteOldest(ctx, "KRW-BTC", 1))
	require.NoError(t, s.DeleteOldest(ctx, "KRW-ETH", 0))
}
