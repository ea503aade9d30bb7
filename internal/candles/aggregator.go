// Package candles builds fixed-interval OHLCV candles incrementally from
// irregular trade tick arrivals.
//
// Thread safety:
//   - Per-market candle state is partitioned across lock shards, so ticks
//     for the same market are serialized while unrelated markets proceed
//     without contention.
//   - No shard lock is ever held while another shard lock is taken, so
//     cross-market operations cannot deadlock.
//   - Finalized candles are handed off through a buffered channel; the
//     update path never blocks on downstream I/O.
package candles

import (
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"

	"coinstream/internal/model"
)

// shardCount is the number of lock shards for per-market candle state.
// Power of two, sized well above the number of markets a single feed
// connection realistically carries.
const shardCount = 16

// defaultBuffer is the default capacity of the finalized-candle channel.
const defaultBuffer = 1024

// candleState is the live OHLCV accumulator for one market's open interval.
//
// A state exists only while its interval is open and is replaced, not
// mutated, when the interval rolls over. It is owned exclusively by the
// shard that holds it; all access happens under the shard lock.
type candleState struct {
	startTime int64 // interval start, Unix millis
	open      float64
	high      float64
	low       float64
	close     float64
	volume    float64
}

// newCandleState seeds a fresh state from the first trade price of the
// interval. Volume starts at zero; the seeding tick is applied separately.
func newCandleState(startTime int64, firstPrice float64) *candleState {
	return &candleState{
		startTime: startTime,
		open:      firstPrice,
		high:      firstPrice,
		low:       firstPrice,
		close:     firstPrice,
	}
}

// apply folds one trade into the state. Ties on high/low resolve by simple
// replacement under strict comparison.
func (s *candleState) apply(price, volume float64) {
	if price > s.high {
		s.high = price
	}
	if price < s.low {
		s.low = price
	}
	s.close = price
	s.volume += volume
}

// record converts the state into an immutable CandleRecord.
func (s *candleState) record(market string, interval model.Interval) model.CandleRecord {
	return model.CandleRecord{
		Market:    market,
		Interval:  interval,
		StartTime: s.startTime,
		Open:      s.open,
		High:      s.high,
		Low:       s.low,
		Close:     s.close,
		Volume:    s.volume,
	}
}

// shard owns the candle states for a subset of markets.
type shard struct {
	mu     sync.Mutex
	states map[string]*candleState
}

// Aggregator maintains one live candle per market for a single base
// interval and emits finalized records when interval boundaries are
// crossed.
//
// For any market the emitted candle sequence is contiguous: intervals with
// no trades are synthesized as empty candles carrying the previous close,
// so no interval is ever skipped even through periods of silence.
type Aggregator struct {
	interval   model.Interval
	intervalMs int64
	shards     [shardCount]shard
	records    chan model.CandleRecord
}

// NewAggregator creates an aggregator for the given base interval. A
// non-positive buffer falls back to the default channel capacity.
func NewAggregator(interval model.Interval, buffer int) *Aggregator {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	agg := &Aggregator{
		interval:   interval,
		intervalMs: interval.Millis(),
		records:    make(chan model.CandleRecord, buffer),
	}
	for i := range agg.shards {
		agg.shards[i].states = make(map[string]*candleState)
	}
	return agg
}

// Records returns the channel of finalized and synthesized-empty candles.
func (agg *Aggregator) Records() <-chan model.CandleRecord {
	return agg.records
}

// Interval returns the aggregator's base interval.
func (agg *Aggregator) Interval() model.Interval {
	return agg.interval
}

// Update folds one trade tick into the market's live candle.
//
// When the tick's bucket is ahead of the open interval, every missing whole
// interval in between is synthesized as an empty candle (previous close,
// volume 0), the open interval is finalized and emitted, and a fresh state
// seeded from the tick's price replaces it. A tick whose bucket is behind
// the open interval is clamped into the open interval rather than moving
// boundaries backwards.
func (agg *Aggregator) Update(market string, price, volume float64, eventTime int64) {
	bucket := eventTime / agg.intervalMs * agg.intervalMs

	sh := agg.shard(market)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.states[market]
	if !ok {
		state = newCandleState(bucket, price)
		sh.states[market] = state
		state.apply(price, volume)
		return
	}

	if bucket < state.startTime {
		// Late tick from a closed interval; fold it into the open one.
		log.Debug().
			Str("market", market).
			Int64("bucket", bucket).
			Int64("current", state.startTime).
			Msg("stale tick clamped into open interval")
		state.apply(price, volume)
		return
	}

	if bucket > state.startTime {
		// Fill every silent interval strictly between the open interval
		// and the tick's bucket with an empty candle at the prior close.
		for start := state.startTime + agg.intervalMs; start < bucket; start += agg.intervalMs {
			empty := newCandleState(start, state.close)
			agg.emit(empty.record(market, agg.interval))
		}

		// Finalize the live interval, then start fresh at the tick's
		// bucket.
		agg.emit(state.record(market, agg.interval))
		state = newCandleState(bucket, price)
		sh.states[market] = state
	}

	state.apply(price, volume)
}

// emit hands a finalized record to the output channel without blocking the
// update path. If the consumer has fallen this far behind, the record is
// dropped and counted against the log.
func (agg *Aggregator) emit(record model.CandleRecord) {
	select {
	case agg.records <- record:
	default:
		log.Warn().
			Str("market", record.Market).
			Int64("startTime", record.StartTime).
			Msg("candle channel full, dropping finalized candle")
	}
}

// shard maps a market code to its lock shard.
func (agg *Aggregator) shard(market string) *shard {
	h := fnv.New32a()
	h.Write([]byte(market))
	return &agg.shards[h.Sum32()%shardCount]
}
