// Package feed implements the upstream market-data feed: the resilient
// websocket connection, the subscribe-request protocol, and the decoding and
// routing of incoming frames to the aggregation components.
//
// Wire format: frames are JSON in the feed's abbreviated ("SIMPLE") field
// naming, requested through the format directive of the subscribe message.
// The DTOs in this file map those abbreviated names onto the model types
// the rest of the system consumes.
package feed

import (
	json "github.com/goccy/go-json"

	"coinstream/internal/model"
)

// frameType is the minimal envelope decoded first to demultiplex a frame by
// its "ty" discriminator before the full payload decode.
type frameType struct {
	Type string `json:"ty"`
}

// keepaliveFrame is the literal status frame the feed sends in response to
// application heartbeats. It carries no market data and is dropped by the
// router before type dispatch.
const keepaliveFrame = `{"status":"UP"}`

// tradeDTO is a trade execution frame in abbreviated field naming.
type tradeDTO struct {
	Type      string  `json:"ty" validate:"required"`
	Code      string  `json:"cd" validate:"required"`
	Price     float64 `json:"tp" validate:"gte=0"`
	Volume    float64 `json:"tv" validate:"gte=0"`
	Timestamp int64   `json:"tms" validate:"required"`
}

// toTick converts the frame to the model tick consumed by the aggregator.
func (d tradeDTO) toTick() model.TradeTick {
	return model.TradeTick{
		Market:    d.Code,
		Price:     d.Price,
		Volume:    d.Volume,
		Timestamp: d.Timestamp,
	}
}

// orderbookUnitDTO is one price level inside an order-book frame.
type orderbookUnitDTO struct {
	AskPrice float64 `json:"ap"`
	BidPrice float64 `json:"bp"`
	AskSize  float64 `json:"as"`
	BidSize  float64 `json:"bs"`
}

// orderbookDTO is an order-book frame in abbreviated field naming. Units
// arrive ordered best level first.
type orderbookDTO struct {
	Type         string             `json:"ty" validate:"required"`
	Code         string             `json:"cd" validate:"required"`
	TotalAskSize float64            `json:"tas" validate:"gte=0"`
	TotalBidSize float64            `json:"tbs" validate:"gte=0"`
	Units        []orderbookUnitDTO `json:"obu"`
	Timestamp    int64              `json:"tms" validate:"required"`
	Level        float64            `json:"lv"`
	StreamType   string             `json:"st"`
}

// toSnapshot converts the frame to the immutable model snapshot.
func (d orderbookDTO) toSnapshot() model.OrderbookSnapshot {
	units := make([]model.OrderbookUnit, 0, len(d.Units))
	for _, u := range d.Units {
		units = append(units, model.OrderbookUnit{
			AskPrice: u.AskPrice,
			BidPrice: u.BidPrice,
			AskSize:  u.AskSize,
			BidSize:  u.BidSize,
		})
	}
	return model.OrderbookSnapshot{
		Market:       d.Code,
		TotalAskSize: d.TotalAskSize,
		TotalBidSize: d.TotalBidSize,
		Units:        units,
		Timestamp:    d.Timestamp,
	}
}

// candleDTO is a raw base-interval candle frame: the upstream candle's
// OHLCV state as of Timestamp.
type candleDTO struct {
	Type      string  `json:"ty" validate:"required"`
	Code      string  `json:"cd" validate:"required"`
	Open      float64 `json:"op" validate:"gte=0"`
	High      float64 `json:"hp" validate:"gte=0"`
	Low       float64 `json:"lp" validate:"gte=0"`
	Close     float64 `json:"tp" validate:"gte=0"`
	Volume    float64 `json:"catv" validate:"gte=0"`
	Timestamp int64   `json:"tms" validate:"required"`
}

// toSnapshot converts the frame to the model snapshot appended to the
// snapshot store.
func (d candleDTO) toSnapshot() model.CandleSnapshot {
	return model.CandleSnapshot{
		Market:    d.Code,
		Open:      d.Open,
		High:      d.High,
		Low:       d.Low,
		Close:     d.Close,
		Volume:    d.Volume,
		Timestamp: d.Timestamp,
	}
}

// peekType decodes just the frame's type discriminator.
func peekType(raw []byte) (string, error) {
	var ft frameType
	if err := json.Unmarshal(raw, &ft); err != nil {
		return "", err
	}
	return ft.Type, nil
}
