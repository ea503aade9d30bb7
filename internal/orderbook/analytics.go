// Package orderbook derives market microstructure indicators from decoded
// order-book snapshots.
//
// All computations here are pure functions over an immutable
// model.OrderbookSnapshot; calling them any number of times on the same
// snapshot yields identical results. The Analytics wrapper memoizes the
// derived values for callers that read several indicators from the same
// snapshot, keeping the snapshot itself a trivially copyable value type.
package orderbook

import (
	"sync"

	"coinstream/internal/model"
)

// DefaultRangePercent is the price band used by LiquidityDepthPercent when
// no explicit range is given: ±1% around the mid price.
const DefaultRangePercent = 0.01

// BestPrices returns the best ask and bid prices of the snapshot.
//
// Units are expected to be ordered best level first, as delivered by the
// feed. An empty book yields (0, 0).
func BestPrices(s model.OrderbookSnapshot) (bestAsk, bestBid float64) {
	if len(s.Units) == 0 {
		return 0, 0
	}
	return s.Units[0].AskPrice, s.Units[0].BidPrice
}

// Spread returns the difference between the best ask and best bid price.
func Spread(s model.OrderbookSnapshot) float64 {
	ask, bid := BestPrices(s)
	return ask - bid
}

// Imbalance returns the normalized difference between total bid and ask
// size, in [-1, 1]. Positive values indicate a bid-heavy book. A book with
// zero size on both sides yields 0.
func Imbalance(s model.OrderbookSnapshot) float64 {
	total := s.TotalAskSize + s.TotalBidSize
	if total == 0 {
		return 0
	}
	return (s.TotalBidSize - s.TotalAskSize) / total
}

// MidPrice returns the midpoint between the best ask and best bid price.
func MidPrice(s model.OrderbookSnapshot) float64 {
	ask, bid := BestPrices(s)
	return (ask + bid) / 2
}

// LiquidityDepthPercent returns the share of total resting size that sits
// within mid ± rangePercent, as a percentage in [0, 100].
//
// A level's ask side counts when its ask price falls inside the band, and
// its bid side counts when its bid price does. An empty book or a book with
// zero total size yields 0.
func LiquidityDepthPercent(s model.OrderbookSnapshot, rangePercent float64) float64 {
	if len(s.Units) == 0 {
		return 0
	}

	mid := MidPrice(s)
	lower := mid * (1 - rangePercent)
	upper := mid * (1 + rangePercent)

	var inRange, total float64
	for _, unit := range s.Units {
		if unit.AskPrice >= lower && unit.AskPrice <= upper {
			inRange += unit.AskSize
		}
		if unit.BidPrice >= lower && unit.BidPrice <= upper {
			inRange += unit.BidSize
		}
		total += unit.AskSize + unit.BidSize
	}

	if total <= 0 {
		return 0
	}
	return inRange / total * 100
}

// Metrics computes the full indicator set for a snapshot in one pass.
func Metrics(s model.OrderbookSnapshot) model.OrderbookMetrics {
	ask, bid := BestPrices(s)
	return model.OrderbookMetrics{
		Market:                s.Market,
		BestAskPrice:          ask,
		BestBidPrice:          bid,
		Spread:                ask - bid,
		Imbalance:             Imbalance(s),
		MidPrice:              (ask + bid) / 2,
		LiquidityDepthPercent: LiquidityDepthPercent(s, DefaultRangePercent),
		Timestamp:             s.Timestamp,
	}
}

// Analytics memoizes derived indicators for one snapshot.
//
// The wrapper is safe for concurrent readers: the metric set is computed at
// most once and the underlying snapshot is never written to.
type Analytics struct {
	snapshot model.OrderbookSnapshot

	once    sync.Once
	metrics model.OrderbookMetrics
}

// NewAnalytics wraps a snapshot for memoized indicator access.
func NewAnalytics(s model.OrderbookSnapshot) *Analytics {
	return &Analytics{snapshot: s}
}

// Snapshot returns the wrapped snapshot.
func (a *Analytics) Snapshot() model.OrderbookSnapshot {
	return a.snapshot
}

// Metrics returns the derived indicator set, computing it on first access.
func (a *Analytics) Metrics() model.OrderbookMetrics {
	a.once.Do(func() {
		a.metrics = Metrics(a.snapshot)
	})
	return a.metrics
}
