// Package store persists raw candle snapshots with bounded per-market
// retention.
//
// The store is the scheduler's input and the feed's candle-event output: a
// time-ordered append/query/delete surface per market. Two implementations
// are provided: a Redis sorted-set store for deployments and an in-memory
// store for tests and storeless runs.
package store

import (
	"context"

	"coinstream/internal/model"
)

// SnapshotStore is the durable store contract for raw candle snapshots.
//
// All listing is ascending by snapshot timestamp. Implementations must be
// safe for concurrent use: the feed appends while the scheduler reads,
// counts and prunes.
type SnapshotStore interface {
	// AppendSnapshot persists one raw candle snapshot.
	AppendSnapshot(ctx context.Context, snapshot model.CandleSnapshot) error

	// ListRecent returns up to limit most recent snapshots for the
	// market, ordered ascending by timestamp.
	ListRecent(ctx context.Context, market string, limit int) ([]model.CandleSnapshot, error)

	// CountFor returns the number of stored snapshots for the market.
	CountFor(ctx context.Context, market string) (int64, error)

	// DeleteOldest removes the n oldest snapshots for the market.
	DeleteOldest(ctx context.Context, market string, n int64) error
}
