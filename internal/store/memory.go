package store

import (
	"context"
	"sort"
	"sync"

	"coinstream/internal/model"
)

// MemoryStore is an in-process SnapshotStore keeping snapshots per market
// in timestamp order. Used in tests and when no Redis address is
// configured.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]model.CandleSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]model.CandleSnapshot)}
}

// AppendSnapshot inserts the snapshot keeping the market's slice sorted
// ascending by timestamp. Appends are almost always in order, so the sort
// is a no-op in the common case.
func (s *MemoryStore) AppendSnapshot(_ context.Context, snapshot model.CandleSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.snapshots[snapshot.Market], snapshot)
	if n := len(list); n > 1 && list[n-1].Timestamp < list[n-2].Timestamp {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp < list[j].Timestamp
		})
	}
	s.snapshots[snapshot.Market] = list
	return nil
}

// ListRecent returns up to limit most recent snapshots ascending by
// timestamp.
func (s *MemoryStore) ListRecent(_ context.Context, market string, limit int) ([]model.CandleSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[market]
	if limit <= 0 || len(list) == 0 {
		return nil, nil
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}

	out := make([]model.CandleSnapshot, len(list))
	copy(out, list)
	return out, nil
}

// CountFor returns the number of stored snapshots for the market.
func (s *MemoryStore) CountFor(_ context.Context, market string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.snapshots[market])), nil
}

// DeleteOldest removes the n oldest snapshots for the market.
func (s *MemoryStore) DeleteOldest(_ context.Context, market string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.snapshots[market]
	if n <= 0 || len(list) == 0 {
		return nil
	}
	if n >= int64(len(list)) {
		delete(s.snapshots, market)
		return nil
	}
	s.snapshots[market] = append([]model.CandleSnapshot(nil), list[n:]...)
	return nil
}
