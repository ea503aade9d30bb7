// Package config loads the service configuration from the environment.
//
// Configuration errors are fatal at startup only: once Load returns a
// validated Config, no runtime component re-reads the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"coinstream/internal/model"
)

// Config represents the full service configuration.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Feed      FeedConfig      `envPrefix:"FEED_"`
	Candles   CandlesConfig   `envPrefix:"CANDLES_"`
	Scheduler SchedulerConfig `envPrefix:"SCHEDULER_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Name     string `env:"NAME" envDefault:"coinstream"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// FeedConfig holds the upstream feed connection settings.
type FeedConfig struct {
	Endpoint           string        `env:"ENDPOINT" validate:"required,url"`
	Markets            []string      `env:"MARKETS" envSeparator:"," envDefault:"KRW-BTC,KRW-ETH" validate:"min=1"`
	HeartbeatPeriod    time.Duration `env:"HEARTBEAT_PERIOD" envDefault:"60s"`
	BaseReconnectDelay time.Duration `env:"BASE_RECONNECT_DELAY" envDefault:"2s"`
	MaxReconnectDelay  time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"60s"`
}

// CandlesConfig holds the aggregation settings.
type CandlesConfig struct {
	BaseInterval    string   `env:"BASE_INTERVAL" envDefault:"1s"`
	OutputIntervals []string `env:"OUTPUT_INTERVALS" envSeparator:"," envDefault:"1s,10s,1m,5m,1h"`
	RecordBuffer    int      `env:"RECORD_BUFFER" envDefault:"1024"`
}

// SchedulerConfig holds the snapshot push/pruning settings.
type SchedulerConfig struct {
	Period    time.Duration `env:"PERIOD" envDefault:"10s"`
	Retention int64         `env:"RETENTION" envDefault:"100"`
	ReadLimit int           `env:"READ_LIMIT" envDefault:"100"`
}

// RedisConfig holds the store/publish backend settings. An empty address
// selects the in-memory store and the in-process dispatcher only.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Interval returns the base candle interval.
func (c CandlesConfig) Interval() model.Interval {
	return model.Interval(c.BaseInterval)
}

// Intervals returns the chart output intervals.
func (c CandlesConfig) Intervals() []model.Interval {
	out := make([]model.Interval, 0, len(c.OutputIntervals))
	for _, raw := range c.OutputIntervals {
		out = append(out, model.Interval(raw))
	}
	return out
}

// Load reads the configuration from the environment, after loading a .env
// file when one is present, and validates it.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings env tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.Candles.Interval().Valid() {
		return fmt.Errorf("invalid config: unsupported base interval %q", c.Candles.BaseInterval)
	}
	for _, interval := range c.Candles.Intervals() {
		if !interval.Valid() {
			return fmt.Errorf("invalid config: unsupported output interval %q", interval)
		}
	}
	if c.Scheduler.Retention <= 0 {
		return fmt.Errorf("invalid config: retention must be positive, got %d", c.Scheduler.Retention)
	}
	if c.Scheduler.Period <= 0 {
		return fmt.Errorf("invalid config: scheduler period must be positive, got %s", c.Scheduler.Period)
	}
	return nil
}
