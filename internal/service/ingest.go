// Package service wires the ingestion pipeline together: the feed
// connection and router, the candle aggregator, the analytics publishing,
// and the snapshot scheduler, with a single start/stop lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"coinstream/internal/candles"
	"coinstream/internal/feed"
	"coinstream/internal/model"
	"coinstream/internal/orderbook"
	"coinstream/internal/publish"
	"coinstream/internal/scheduler"
	"coinstream/internal/store"
)

// appendBuffer sizes the queue decoupling feed candle events from store
// writes, so a slow store never blocks the read loop.
const appendBuffer = 1024

// Options configures the ingest service.
type Options struct {
	// Feed is the upstream connection configuration. Subscriptions are
	// filled in from Markets when empty.
	Feed feed.ConnectionConfig

	// Markets are the market codes of interest.
	Markets []string

	// BaseInterval is the live aggregation interval.
	BaseInterval model.Interval

	// RecordBuffer is the finalized-candle channel capacity.
	RecordBuffer int

	// Scheduler configures the snapshot push/pruning job.
	Scheduler scheduler.Config
}

// IngestService orchestrates the streaming ingestion and aggregation
// engine.
//
// Data flow: feed frames -> router -> (trade) candle aggregator,
// (orderbook) derived metrics publish + last-book cache, (candle) snapshot
// store append. Finalized candles are pumped from the aggregator to the
// publish sink; the scheduler independently pushes re-aggregated charts
// and prunes retention.
type IngestService struct {
	opts       Options
	snapshots  store.SnapshotStore
	publisher  publish.Publisher
	aggregator *candles.Aggregator
	conn       *feed.Connection
	sched      *scheduler.Scheduler

	lastBooks sync.Map // market -> model.OrderbookSnapshot
	appendCh  chan model.CandleSnapshot

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIngestService creates a stopped ingest service.
func NewIngestService(opts Options, snapshots store.SnapshotStore, publisher publish.Publisher) (*IngestService, error) {
	if snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if err := feed.ValidateMarkets(opts.Markets); err != nil {
		return nil, fmt.Errorf("invalid markets: %w", err)
	}
	if opts.BaseInterval == "" {
		opts.BaseInterval = model.Interval1s
	}
	if !opts.BaseInterval.Valid() {
		return nil, fmt.Errorf("unsupported base interval %q", opts.BaseInterval)
	}

	if len(opts.Feed.Subscriptions) == 0 {
		opts.Feed.Subscriptions = []feed.Subscription{
			{Type: feed.SubscribeTrade, Codes: opts.Markets},
			{Type: feed.SubscribeOrderbook, Codes: opts.Markets},
			{Type: feed.SubscribeCandle1s, Codes: opts.Markets},
		}
	}
	if len(opts.Scheduler.Markets) == 0 {
		opts.Scheduler.Markets = opts.Markets
	}
	if opts.Scheduler.BaseInterval == "" {
		opts.Scheduler.BaseInterval = opts.BaseInterval
	}

	return &IngestService{
		opts:      opts,
		snapshots: snapshots,
		publisher: publisher,
		appendCh:  make(chan model.CandleSnapshot, appendBuffer),
	}, nil
}

// Start connects the feed and launches all pipeline goroutines.
func (s *IngestService) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("ingest service already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	s.aggregator = candles.NewAggregator(s.opts.BaseInterval, s.opts.RecordBuffer)

	router := feed.NewRouter().
		OnTrade(s.handleTrade).
		OnOrderbook(func(snapshot model.OrderbookSnapshot) { s.handleOrderbook(ctx, snapshot) }).
		OnCandle(s.handleCandle)

	conn, err := feed.NewConnection(ctx, s.opts.Feed, router)
	if err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("creating feed connection: %w", err)
	}

	sched, err := scheduler.New(s.opts.Scheduler, s.snapshots, s.publisher)
	if err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("starting scheduler: %w", err)
	}

	s.conn = conn
	s.sched = sched
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pumpRecords(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.appendWorker(ctx)
	}()

	conn.Start()
	log.Info().Strs("markets", s.opts.Markets).Msg("ingest service started")
	return nil
}

// Stop disconnects the feed and shuts down all pipeline goroutines.
func (s *IngestService) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return errors.New("ingest service not started")
	}

	s.conn.Disconnect()
	s.cancel()
	s.wg.Wait()
	s.sched.Wait()

	log.Info().Msg("ingest service stopped")
	return nil
}

// Connected reports whether the feed connection is established.
func (s *IngestService) Connected() bool {
	return s.started.Load() && s.conn.IsConnected()
}

// LastOrderbook returns the most recent order-book snapshot seen for the
// market, if any.
func (s *IngestService) LastOrderbook(market string) (model.OrderbookSnapshot, bool) {
	value, ok := s.lastBooks.Load(market)
	if !ok {
		return model.OrderbookSnapshot{}, false
	}
	return value.(model.OrderbookSnapshot), true
}

// handleTrade folds a trade tick into the live candle. The aggregator is
// lock-sharded per market and never blocks on I/O.
func (s *IngestService) handleTrade(tick model.TradeTick) {
	s.aggregator.Update(tick.Market, tick.Price, tick.Volume, tick.Timestamp)
}

// handleOrderbook caches the snapshot as the market's latest book and
// publishes its derived metrics.
func (s *IngestService) handleOrderbook(ctx context.Context, snapshot model.OrderbookSnapshot) {
	s.lastBooks.Store(snapshot.Market, snapshot)

	metrics := orderbook.NewAnalytics(snapshot).Metrics()
	topic := publish.OrderbookTopic(snapshot.Market)
	if err := s.publisher.Publish(ctx, topic, metrics); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("orderbook metrics publish failed")
	}
}

// handleCandle queues a raw candle snapshot for the store. A full queue
// drops the snapshot rather than blocking the read loop.
func (s *IngestService) handleCandle(snapshot model.CandleSnapshot) {
	select {
	case s.appendCh <- snapshot:
	default:
		log.Warn().Str("market", snapshot.Market).Msg("snapshot append queue full, dropping snapshot")
	}
}

// pumpRecords forwards finalized candles from the aggregator to the
// publish sink.
func (s *IngestService) pumpRecords(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-s.aggregator.Records():
			topic := publish.CandleTopic(record.Market, record.Interval)
			if err := s.publisher.Publish(ctx, topic, record); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("candle publish failed")
			}
		}
	}
}

// appendWorker drains the snapshot queue into the store, off the live
// ingestion path.
func (s *IngestService) appendWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-s.appendCh:
			if err := s.snapshots.AppendSnapshot(ctx, snapshot); err != nil {
				log.Error().Err(err).Str("market", snapshot.Market).Msg("snapshot append failed")
			}
		}
	}
}
