// Package model defines core data types for the market-data streaming service.
//
// This package contains the value types flowing through the ingestion
// pipeline: decoded trade ticks, finalized candles, order-book snapshots and
// their derived metrics. Types here are plain data with no behavior beyond
// trivial accessors, so they can be copied freely across goroutines.
package model

// Interval identifies a candle aggregation interval.
type Interval string

// Supported candle intervals, from the live base interval up to the
// coarsest chart interval served by the snapshot scheduler.
const (
	Interval1s  Interval = "1s"
	Interval10s Interval = "10s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval1h  Interval = "1h"
)

// Millis returns the interval length in milliseconds, or 0 for an
// unrecognized interval.
func (i Interval) Millis() int64 {
	switch i {
	case Interval1s:
		return 1_000
	case Interval10s:
		return 10_000
	case Interval1m:
		return 60_000
	case Interval5m:
		return 300_000
	case Interval1h:
		return 3_600_000
	default:
		return 0
	}
}

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	return i.Millis() > 0
}

// TradeTick represents a single executed trade decoded from the feed.
//
// Ticks are immutable once constructed. Timestamp is the exchange event
// time in Unix milliseconds; within one market ticks are treated as
// arriving in event order (the transport serializes frames per connection).
type TradeTick struct {
	Market    string  `json:"market"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// CandleRecord is an immutable snapshot of a finalized candle emitted
// downstream by the aggregator.
//
// A synthesized-empty record (emitted for an interval with no trades) has
// Open == High == Low == Close equal to the previous interval's close and
// Volume == 0.
type CandleRecord struct {
	Market    string   `json:"market"`
	Interval  Interval `json:"interval"`
	StartTime int64    `json:"startTime"` // interval start, Unix millis
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Volume    float64  `json:"volume"`
}

// CandleSnapshot is a raw candle tick as delivered by the feed: the OHLCV
// state of the upstream base-interval candle at Timestamp. Snapshots are
// appended to the snapshot store and later re-aggregated into coarser
// intervals by the scheduler.
type CandleSnapshot struct {
	Market    string  `json:"market"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // Unix millis
}

// OrderbookUnit is a single price level of an order book: the ask/bid price
// pair at that level and the size resting on each side.
type OrderbookUnit struct {
	AskPrice float64 `json:"askPrice"`
	BidPrice float64 `json:"bidPrice"`
	AskSize  float64 `json:"askSize"`
	BidSize  float64 `json:"bidSize"`
}

// OrderbookSnapshot is a decoded order-book state for one market.
//
// Units are ordered best level first, as delivered by the feed. A snapshot
// is immutable once constructed and is shared read-only between consumers;
// derived metrics live in the orderbook package and never mutate the
// snapshot's source fields.
type OrderbookSnapshot struct {
	Market       string          `json:"market"`
	TotalAskSize float64         `json:"totalAskSize"`
	TotalBidSize float64         `json:"totalBidSize"`
	Units        []OrderbookUnit `json:"units"`
	Timestamp    int64           `json:"timestamp"` // Unix millis
}

// OrderbookMetrics holds the derived indicators computed from one
// OrderbookSnapshot. Metrics are derived values only and are never
// persisted independently of the snapshot they came from.
type OrderbookMetrics struct {
	Market                string  `json:"market"`
	BestAskPrice          float64 `json:"bestAskPrice"`
	BestBidPrice          float64 `json:"bestBidPrice"`
	Spread                float64 `json:"spread"`
	Imbalance             float64 `json:"imbalance"`
	MidPrice              float64 `json:"midPrice"`
	LiquidityDepthPercent float64 `json:"liquidityDepthPercent"`
	Timestamp             int64   `json:"timestamp"`
}
