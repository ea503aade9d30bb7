package orderbook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinstream/internal/model"
)

func testSnapshot() model.OrderbookSnapshot {
	return model.OrderbookSnapshot{
		Market:        "KRW-BTC",
		TotalAskSize:  2,
		TotalBidSize:  3,
		Units: []model.OrderbookUnit{
			{AskPrice: 101, BidPrice: 99, AskSize: 2, BidSize: 3},
		},
		Timestamp: 1_700_000_000_000,
	}
}

func Test_BestPrices(t *testing.T) {
	tests := []struct {
		name     string
		snapshot model.OrderbookSnapshot
		wantAsk  float64
		wantBid  float64
	}{
		{
			name:     "single level book",
			snapshot: testSnapshot(),
			wantAsk:  101,
			wantBid:  99,
		},
		{
			name: "multi level book uses the first level",
			snapshot: model.OrderbookSnapshot{
				Units: []model.OrderbookUnit{
					{AskPrice: 100.5, BidPrice: 100.0},
					{AskPrice: 101.0, BidPrice: 99.5},
				},
			},
			wantAsk: 100.5,
			wantBid: 100.0,
		},
		{
			name:     "empty book",
			snapshot: model.OrderbookSnapshot{Market: "KRW-BTC"},
			wantAsk:  0,
			wantBid:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ask, bid := BestPrices(tt.snapshot)
			assert.Equal(t, tt.wantAsk, ask)
			assert.Equal(t, tt.wantBid, bid)
		})
	}
}

func Test_Spread(t *testing.T) {
	assert.Equal(t, 2.0, Spread(testSnapshot()))
	assert.Zero(t, Spread(model.OrderbookSnapshot{}))
}

func Test_MidPrice(t *testing.T) {
	assert.Equal(t, 100.0, MidPrice(testSnapshot()))
	assert.Zero(t, MidPrice(model.OrderbookSnapshot{}))
}

func Test_Imbalance(t *testing.T) {
	tests := []struct {
		name     string
		askSize  float64
		bidSize  float64
		want     float64
	}{
		{name: "bid heavy", askSize: 2, bidSize: 3, want: 0.2},
		{name: "ask heavy", askSize: 3, bidSize: 1, want: -0.5},
		{name: "balanced", askSize: 5, bidSize: 5, want: 0},
		{name: "all bids", askSize: 0, bidSize: 4, want: 1},
		{name: "all asks", askSize: 4, bidSize: 0, want: -1},
		{name: "empty book", askSize: 0, bidSize: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Imbalance(model.OrderbookSnapshot{
				TotalAskSize: tt.askSize,
				TotalBidSize: tt.bidSize,
			})
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, -1.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func Test_LiquidityDepthPercent(t *testing.T) {
	tests := []struct {
		name         string
		snapshot     model.OrderbookSnapshot
		rangePercent float64
		want         float64
	}{
		{
			name:         "single level fully inside the band",
			snapshot:     testSnapshot(),
			rangePercent: DefaultRangePercent,
			want:         100,
		},
		{
			// Mid = 100, default band [99, 101]. The second level sits
			// entirely outside on both sides.
			name: "outer levels excluded",
			snapshot: model.OrderbookSnapshot{
				Units: []model.OrderbookUnit{
					{AskPrice: 101, BidPrice: 99, AskSize: 2, BidSize: 2},
					{AskPrice: 110, BidPrice: 90, AskSize: 3, BidSize: 3},
				},
			},
			rangePercent: DefaultRangePercent,
			want:         40,
		},
		{
			// Wide band captures everything.
			name: "wide range includes all levels",
			snapshot: model.OrderbookSnapshot{
				Units: []model.OrderbookUnit{
					{AskPrice: 101, BidPrice: 99, AskSize: 2, BidSize: 2},
					{AskPrice: 110, BidPrice: 90, AskSize: 3, BidSize: 3},
				},
			},
			rangePercent: 0.5,
			want:         100,
		},
		{
			name:         "empty book",
			snapshot:     model.OrderbookSnapshot{},
			rangePercent: DefaultRangePercent,
			want:         0,
		},
		{
			name: "zero sized levels",
			snapshot: model.OrderbookSnapshot{
				Units: []model.OrderbookUnit{{AskPrice: 101, BidPrice: 99}},
			},
			rangePercent: DefaultRangePercent,
			want:         0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LiquidityDepthPercent(tt.snapshot, tt.rangePercent)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func Test_Metrics(t *testing.T) {
	snapshot := testSnapshot()
	metrics := Metrics(snapshot)

	assert.Equal(t, "KRW-BTC", metrics.Market)
	assert.Equal(t, 101.0, metrics.BestAskPrice)
	assert.Equal(t, 99.0, metrics.BestBidPrice)
	assert.Equal(t, 2.0, metrics.Spread)
	assert.Equal(t, 100.0, metrics.MidPrice)
	assert.InDelta(t, 0.2, metrics.Imbalance, 1e-12)
	assert.InDelta(t, 100.0, metrics.LiquidityDepthPercent, 1e-9)
	assert.Equal(t, snapshot.Timestamp, metrics.Timestamp)
}

func Test_Metrics_Idempotent(t *testing.T) {
	snapshot := testSnapshot()

	first := Metrics(snapshot)
	second := Metrics(snapshot)

	assert.Equal(t, first, second, "pure computation yields identical results")
}

func Test_Analytics_Memoizes(t *testing.T) {
	analytics := NewAnalytics(testSnapshot())

	first := analytics.Metrics()
	second := analytics.Metrics()

	assert.Equal(t, first, second)
	assert.Equal(t, testSnapshot(), analytics.Snapshot())
}

func Test_Analytics_ConcurrentReaders(t *testing.T) {
	analytics := NewAnalytics(testSnapshot())
	want := Metrics(testSnapshot())

	var wg sync.WaitGroup
	results := make([]model.OrderbookMetrics, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = analytics.Metrics()
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, want, got)
	}
}
