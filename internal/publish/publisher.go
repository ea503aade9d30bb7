// Package publish fans derived market-data products out to subscribers.
//
// Two sinks implement the Publisher contract: a Redis pub/sub sink for
// external consumers and an in-process Dispatcher for attached clients.
// Topic convention: {category}/{marketCode}/{interval-or-metric}.
package publish

import (
	"context"
	"fmt"

	"coinstream/internal/model"
)

// Publisher delivers one payload to one topic. Implementations must not
// block the caller indefinitely: the ingestion path publishes inline.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// CandleTopic is the topic of live finalized candles for a market and
// interval.
func CandleTopic(market string, interval model.Interval) string {
	return fmt.Sprintf("candles/%s/%s", market, interval)
}

// ChartTopic is the topic of scheduler-aggregated candle series for a
// market and interval.
func ChartTopic(market string, interval model.Interval) string {
	return fmt.Sprintf("charts/%s/%s", market, interval)
}

// OrderbookTopic is the topic of derived order-book metrics for a market.
func OrderbookTopic(market string) string {
	return fmt.Sprintf("orderbook/%s/metrics", market)
}

// multiPublisher fans one Publish call out to several sinks. A failing
// sink does not stop delivery to the others; the first error is returned.
type multiPublisher struct {
	sinks []Publisher
}

// Tee combines several publishers into one.
func Tee(sinks ...Publisher) Publisher {
	return &multiPublisher{sinks: sinks}
}

// Publish delivers to every sink and returns the first error seen.
func (m *multiPublisher) Publish(ctx context.Context, topic string, payload any) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, topic, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
