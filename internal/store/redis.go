package store

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"coinstream/internal/model"
)

// keyPrefix namespaces all snapshot keys in the shared Redis instance.
const keyPrefix = "coinstream:snapshots:"

// RedisStore implements SnapshotStore on a Redis sorted set per market,
// scored by snapshot timestamp. Sorted-set rank order gives the
// ascending-by-time listing and oldest-first pruning for free.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient builds a Redis client with the connection settings used
// across the service.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
}

func key(market string) string {
	return keyPrefix + market
}

// AppendSnapshot stores the snapshot as a sorted-set member scored by its
// timestamp. Two byte-identical snapshots collapse into one member, which
// is an acceptable dedup: they carry the same state at the same instant.
func (s *RedisStore) AppendSnapshot(ctx context.Context, snapshot model.CandleSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	err = s.client.ZAdd(ctx, key(snapshot.Market), redis.Z{
		Score:  float64(snapshot.Timestamp),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("appending snapshot for %s: %w", snapshot.Market, err)
	}
	return nil
}

// ListRecent returns the limit highest-scored members in ascending order.
func (s *RedisStore) ListRecent(ctx context.Context, market string, limit int) ([]model.CandleSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := s.client.ZRange(ctx, key(market), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing snapshots for %s: %w", market, err)
	}

	snapshots := make([]model.CandleSnapshot, 0, len(members))
	for _, member := range members {
		var snapshot model.CandleSnapshot
		if err := json.Unmarshal([]byte(member), &snapshot); err != nil {
			return nil, fmt.Errorf("decoding stored snapshot for %s: %w", market, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CountFor returns the sorted-set cardinality for the market.
func (s *RedisStore) CountFor(ctx context.Context, market string) (int64, error) {
	count, err := s.client.ZCard(ctx, key(market)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting snapshots for %s: %w", market, err)
	}
	return count, nil
}

// DeleteOldest removes the n lowest-ranked (oldest) members.
func (s *RedisStore) DeleteOldest(ctx context.Context, market string, n int64) error {
	if n <= 0 {
		return nil
	}
	if err := s.client.ZRemRangeByRank(ctx, key(market), 0, n-1).Err(); err != nil {
		return fmt.Errorf("pruning snapshots for %s: %w", market, err)
	}
	return nil
}
