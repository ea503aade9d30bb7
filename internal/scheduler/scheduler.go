// Package scheduler runs the periodic snapshot push and retention pruning
// job.
//
// Each pass reads the recent raw candle snapshots per market from the
// store, re-aggregates them into every supported output interval, pushes
// the resulting chart series to the market/interval topic, and prunes
// stored snapshots beyond the retention window. The pass runs off the live
// ingestion path: a slow or unavailable store never stalls tick
// processing, it only makes chart pushes stale for the affected market.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"coinstream/internal/model"
	"coinstream/internal/publish"
	"coinstream/internal/store"
)

// Chart is the scheduler's push payload: the bucketed candle series for
// one market and output interval, re-aggregated from raw snapshots.
type Chart struct {
	Market   string               `json:"market"`
	Interval model.Interval       `json:"interval"`
	Candles  []model.CandleRecord `json:"candles"`
}

// Config defines the scheduler's knobs.
type Config struct {
	// Markets is the list of market codes the scheduler processes.
	Markets []string

	// Intervals are the output intervals charts are aggregated into.
	Intervals []model.Interval

	// BaseInterval is the granularity of the stored raw snapshots.
	BaseInterval model.Interval

	// Period is the pass interval.
	Period time.Duration

	// Retention is the per-market snapshot count threshold; stores
	// exceeding it are pruned oldest first.
	Retention int64

	// ReadLimit caps the number of snapshots read per market per pass.
	ReadLimit int
}

// Scheduler is the periodic snapshot-push and pruning job.
//
// A per-market in-flight guard skips (never queues) a market whose
// previous run has not finished, and a circuit breaker around store access
// converts a persistently failing store into fast per-pass skips instead
// of pile-ups.
type Scheduler struct {
	cfg       Config
	store     store.SnapshotStore
	publisher publish.Publisher
	breaker   *gobreaker.CircuitBreaker

	running map[string]*atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a scheduler. Defaults: 10s period, retention 100, read
// limit 100, output intervals = all supported intervals.
func New(cfg Config, snapshots store.SnapshotStore, publisher publish.Publisher) (*Scheduler, error) {
	if snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if len(cfg.Markets) == 0 {
		return nil, errors.New("at least one market is required")
	}

	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 100
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 100
	}
	if cfg.BaseInterval == "" {
		cfg.BaseInterval = model.Interval1s
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = []model.Interval{
			model.Interval1s, model.Interval10s, model.Interval1m,
			model.Interval5m, model.Interval1h,
		}
	}
	for _, interval := range cfg.Intervals {
		if !interval.Valid() {
			return nil, fmt.Errorf("unsupported output interval %q", interval)
		}
	}

	running := make(map[string]*atomic.Bool, len(cfg.Markets))
	for _, market := range cfg.Markets {
		running[market] = &atomic.Bool{}
	}

	settings := gobreaker.Settings{
		Name:     "snapshot-store",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Scheduler{
		cfg:       cfg,
		store:     snapshots,
		publisher: publisher,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		running:   running,
	}, nil
}

// Start launches the periodic pass loop. It returns an error if the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Period)
		defer ticker.Stop()

		log.Info().
			Dur("period", s.cfg.Period).
			Int64("retention", s.cfg.Retention).
			Int("markets", len(s.cfg.Markets)).
			Msg("snapshot scheduler started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("snapshot scheduler stopped")
				return
			case <-ticker.C:
				s.RunPass(ctx)
			}
		}
	}()
	return nil
}

// Wait blocks until the pass loop has exited after context cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunPass processes every configured market once. A market whose previous
// run is still in flight is skipped, and a per-market failure is logged
// and skipped without aborting the remaining markets.
func (s *Scheduler) RunPass(ctx context.Context) {
	for _, market := range s.cfg.Markets {
		guard := s.running[market]
		if !guard.CompareAndSwap(false, true) {
			log.Warn().Str("market", market).Msg("previous run still in flight, skipping market")
			continue
		}

		if err := s.processMarket(ctx, market); err != nil {
			log.Error().Err(err).Str("market", market).Msg("market pass failed, will retry next period")
		}
		guard.Store(false)
	}
}

// processMarket pushes the market's aggregated charts and prunes its
// stored snapshots down to the retention window.
func (s *Scheduler) processMarket(ctx context.Context, market string) error {
	snapshots, err := s.listRecent(ctx, market)
	if err != nil {
		return fmt.Errorf("reading snapshots: %w", err)
	}

	if len(snapshots) == 0 {
		log.Debug().Str("market", market).Msg("no snapshots for market")
	} else {
		for _, interval := range s.cfg.Intervals {
			chart := Chart{
				Market:   market,
				Interval: interval,
				Candles:  AggregateCandles(snapshots, s.cfg.BaseInterval, interval),
			}
			topic := publish.ChartTopic(market, interval)
			if err := s.publisher.Publish(ctx, topic, chart); err != nil {
				log.Error().Err(err).Str("topic", topic).Msg("chart push failed")
			}
		}
	}

	count, err := s.countFor(ctx, market)
	if err != nil {
		return fmt.Errorf("counting snapshots: %w", err)
	}
	if count > s.cfg.Retention {
		excess := count - s.cfg.Retention
		if err := s.deleteOldest(ctx, market, excess); err != nil {
			return fmt.Errorf("pruning snapshots: %w", err)
		}
		log.Info().Str("market", market).Int64("deleted", excess).Msg("pruned old snapshots")
	}
	return nil
}

// Store accessors routed through the circuit breaker. A tripped breaker
// fails fast, which the pass treats like any other store failure: skip the
// market and retry next period.

func (s *Scheduler) listRecent(ctx context.Context, market string) ([]model.CandleSnapshot, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.ListRecent(ctx, market, s.cfg.ReadLimit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]model.CandleSnapshot), nil
}

func (s *Scheduler) countFor(ctx context.Context, market string) (int64, error) {
	result, err := s.breaker.Execute(func() (any, error) {
		return s.store.CountFor(ctx, market)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (s *Scheduler) deleteOldest(ctx context.Context, market string, n int64) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.store.DeleteOldest(ctx, market, n)
	})
	return err
}

// AggregateCandles re-aggregates raw snapshots (cumulative OHLCV states of
// the base-interval candle, ascending by timestamp) into candles of the
// given output interval.
//
// Snapshots within one base interval are cumulative states of the same
// candle, so only the last snapshot per base bucket contributes volume;
// extrema and close still fold across every observation.
func AggregateCandles(snapshots []model.CandleSnapshot, base, interval model.Interval) []model.CandleRecord {
	if len(snapshots) == 0 {
		return nil
	}

	baseMs := base.Millis()
	intervalMs := interval.Millis()

	var out []model.CandleRecord
	var current *model.CandleRecord
	lastBaseBucket := int64(-1)
	lastBaseVolume := 0.0

	flushBaseVolume := func() {
		if current != nil && lastBaseBucket >= 0 {
			current.Volume += lastBaseVolume
		}
		lastBaseVolume = 0
	}

	for _, snap := range snapshots {
		bucket := snap.Timestamp / intervalMs * intervalMs
		baseBucket := snap.Timestamp / baseMs * baseMs

		if current == nil || bucket != current.StartTime {
			flushBaseVolume()
			if current != nil {
				out = append(out, *current)
			}
			current = &model.CandleRecord{
				Market:    snap.Market,
				Interval:  interval,
				StartTime: bucket,
				Open:      snap.Open,
				High:      snap.High,
				Low:       snap.Low,
				Close:     snap.Close,
			}
			lastBaseBucket = baseBucket
			lastBaseVolume = snap.Volume
			continue
		}

		if baseBucket != lastBaseBucket {
			flushBaseVolume()
			lastBaseBucket = baseBucket
		}
		lastBaseVolume = snap.Volume

		if snap.High > current.High {
			current.High = snap.High
		}
		if snap.Low < current.Low {
			current.Low = snap.Low
		}
		current.Close = snap.Close
	}

	flushBaseVolume()
	if current != nil {
		out = append(out, *current)
	}
	return out
}
