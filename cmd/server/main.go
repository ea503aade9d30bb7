/*
Package main runs the market-data streaming service.

The server maintains a resilient websocket connection to the upstream
exchange feed, aggregates trade ticks into fixed-interval OHLCV candles,
derives order-book metrics per update, and fans both products out to
subscribers over Redis pub/sub and the in-process dispatcher. A periodic
scheduler re-aggregates persisted snapshots into coarser chart intervals
and prunes stored history beyond the retention window.

Configuration is environment-based (see internal/config); a .env file in
the working directory is honored. With no REDIS_ADDR configured the
service runs fully in-process: in-memory snapshot store, dispatcher-only
fan-out.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"coinstream/internal/config"
	"coinstream/internal/feed"
	"coinstream/internal/publish"
	"coinstream/internal/scheduler"
	"coinstream/internal/service"
	"coinstream/internal/store"
)

func main() {
	// Initialize structured logger with timestamp before anything can
	// fail and want to report it.
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.App.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatcher serves in-process subscribers; Redis, when configured,
	// additionally backs the snapshot store and external pub/sub.
	dispatcher := publish.NewDispatcher(publish.DispatcherConfig{})
	if err := dispatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher")
	}

	var snapshots store.SnapshotStore
	var publisher publish.Publisher
	if cfg.Redis.Addr != "" {
		client := store.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
		}

		snapshots = store.NewRedisStore(client)
		publisher = publish.Tee(dispatcher, publish.NewRedisPublisher(client))
	} else {
		log.Warn().Msg("no redis address configured, using in-memory store and in-process fan-out only")
		snapshots = store.NewMemoryStore()
		publisher = dispatcher
	}

	ingest, err := service.NewIngestService(service.Options{
		Feed: feed.ConnectionConfig{
			Endpoint:           cfg.Feed.Endpoint,
			HeartbeatPeriod:    cfg.Feed.HeartbeatPeriod,
			BaseReconnectDelay: cfg.Feed.BaseReconnectDelay,
			MaxReconnectDelay:  cfg.Feed.MaxReconnectDelay,
		},
		Markets:      cfg.Feed.Markets,
		BaseInterval: cfg.Candles.Interval(),
		RecordBuffer: cfg.Candles.RecordBuffer,
		Scheduler: scheduler.Config{
			Intervals: cfg.Candles.Intervals(),
			Period:    cfg.Scheduler.Period,
			Retention: cfg.Scheduler.Retention,
			ReadLimit: cfg.Scheduler.ReadLimit,
		},
	}, snapshots, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ingest service")
	}

	if err := ingest.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start ingest service")
	}

	log.Info().
		Str("endpoint", cfg.Feed.Endpoint).
		Strs("markets", cfg.Feed.Markets).
		Str("baseInterval", cfg.Candles.BaseInterval).
		Msg("server started")

	// Block until interrupted, then shut the pipeline down in order.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("initiating graceful shutdown")
	if err := ingest.Stop(); err != nil {
		log.Error().Err(err).Msg("ingest service stop failed")
	}
	cancel()
}
