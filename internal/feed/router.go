package feed

import (
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"coinstream/internal/model"
)

// TradeHandler consumes decoded trade ticks.
type TradeHandler func(model.TradeTick)

// OrderbookHandler consumes decoded order-book snapshots.
type OrderbookHandler func(model.OrderbookSnapshot)

// CandleHandler consumes decoded raw candle snapshots.
type CandleHandler func(model.CandleSnapshot)

// Router demultiplexes decoded feed frames by type and forwards each to the
// registered handler for that type.
//
// Failure isolation: a malformed frame, a validation failure, or a panic
// inside one handler invocation is logged and dropped; it never affects
// other handlers, subsequent frames, or the connection itself.
type Router struct {
	validate *validator.Validate

	trade     TradeHandler
	orderbook OrderbookHandler
	candle    CandleHandler
}

// NewRouter creates a router with no handlers registered. Frames whose type
// has no handler are counted as unrouted and dropped.
func NewRouter() *Router {
	return &Router{validate: validator.New()}
}

// OnTrade registers the handler for trade frames.
func (r *Router) OnTrade(h TradeHandler) *Router {
	r.trade = h
	return r
}

// OnOrderbook registers the handler for order-book frames.
func (r *Router) OnOrderbook(h OrderbookHandler) *Router {
	r.orderbook = h
	return r
}

// OnCandle registers the handler for raw candle frames.
func (r *Router) OnCandle(h CandleHandler) *Router {
	r.candle = h
	return r
}

// Dispatch decodes one raw frame and forwards it to the matching handler.
//
// Keepalive status frames are recognized and dropped before type dispatch.
// Dispatch never returns an error: every failure mode here is recoverable
// by skipping the frame, and the read loop must keep consuming regardless.
func (r *Router) Dispatch(raw []byte) {
	if len(raw) == 0 {
		return
	}
	if string(raw) == keepaliveFrame {
		log.Debug().Msg("received keepalive frame")
		return
	}

	frameKind, err := peekType(raw)
	if err != nil {
		log.Error().Err(err).Bytes("frame", raw).Msg("dropping undecodable frame")
		return
	}

	switch {
	case frameKind == string(SubscribeTrade):
		r.dispatchTrade(raw)
	case frameKind == string(SubscribeOrderbook):
		r.dispatchOrderbook(raw)
	case strings.HasPrefix(frameKind, "candle."):
		r.dispatchCandle(raw)
	default:
		log.Debug().Str("type", frameKind).Msg("dropping frame with unrouted type")
	}
}

func (r *Router) dispatchTrade(raw []byte) {
	if r.trade == nil {
		return
	}
	var dto tradeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		log.Error().Err(err).Msg("dropping malformed trade frame")
		return
	}
	if err := r.validate.Struct(&dto); err != nil {
		log.Error().Err(err).Str("market", dto.Code).Msg("dropping invalid trade frame")
		return
	}
	r.invoke("trade", func() { r.trade(dto.toTick()) })
}

func (r *Router) dispatchOrderbook(raw []byte) {
	if r.orderbook == nil {
		return
	}
	var dto orderbookDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		log.Error().Err(err).Msg("dropping malformed orderbook frame")
		return
	}
	if err := r.validate.Struct(&dto); err != nil {
		log.Error().Err(err).Str("market", dto.Code).Msg("dropping invalid orderbook frame")
		return
	}
	r.invoke("orderbook", func() { r.orderbook(dto.toSnapshot()) })
}

func (r *Router) dispatchCandle(raw []byte) {
	if r.candle == nil {
		return
	}
	var dto candleDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		log.Error().Err(err).Msg("dropping malformed candle frame")
		return
	}
	if err := r.validate.Struct(&dto); err != nil {
		log.Error().Err(err).Str("market", dto.Code).Msg("dropping invalid candle frame")
		return
	}
	r.invoke("candle", func() { r.candle(dto.toSnapshot()) })
}

// invoke runs one handler invocation with panic isolation so a failing
// handler cannot take down the read loop or starve other handlers.
func (r *Router) invoke(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Any("recover", rec).Str("handler", name).Msg("panic in frame handler")
		}
	}()
	fn()
}
