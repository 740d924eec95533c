// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then a .env file, then the process environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. WINTRUST_LISTEN_ADDR.
const EnvPrefix = "wintrust"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Ledger backends.
const (
	LedgerMemory = "memory"
	LedgerRedis  = "redis"
	LedgerBadger = "badger"
)

type ctxKey string

const configContextKey ctxKey = "config"

type Config struct {
	ListenAddr      string        `yaml:"listenAddr"      split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	Debug           bool          `yaml:"debug"`

	Store     StoreConfig     `yaml:"store"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	WorldID   WorldIDConfig   `yaml:"worldId"   split_words:"true"`
	RateLimit RateLimitConfig `yaml:"rateLimit" split_words:"true"`
	Raffles   RaffleConfig    `yaml:"raffles"`

	SettleInterval time.Duration `yaml:"settleInterval" split_words:"true"`
	Tracing        bool          `yaml:"tracing"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the SQLite file; empty keeps the database in memory.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type LedgerConfig struct {
	Backend        string        `yaml:"backend"`
	RedisURL       string        `yaml:"redisUrl"       split_words:"true"`
	BadgerDir      string        `yaml:"badgerDir"      split_words:"true"`
	ReservationTTL time.Duration `yaml:"reservationTtl" split_words:"true"`
}

type WorldIDConfig struct {
	// AppID also falls back to a bare APP_ID variable.
	AppID   string        `yaml:"appId"   envconfig:"APP_ID"`
	BaseURL string        `yaml:"baseUrl" split_words:"true"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type RaffleConfig struct {
	DefaultDuration time.Duration `yaml:"defaultDuration" split_words:"true"`
	MaxTotalNumbers int           `yaml:"maxTotalNumbers" split_words:"true"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ShutdownTimeout: 10 * time.Second,
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		Ledger: LedgerConfig{
			Backend:        LedgerMemory,
			ReservationTTL: 2 * time.Minute,
		},
		WorldID: WorldIDConfig{
			BaseURL: "https://developer.worldcoin.org",
			Timeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 10,
			Window:   time.Minute,
		},
		Raffles: RaffleConfig{
			DefaultDuration: 24 * time.Hour,
			MaxTotalNumbers: 100_000,
		},
		SettleInterval: time.Minute,
	}
}

// Load builds the configuration. configFile may be empty. A missing .env
// file is not an error.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be served.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Ledger.Backend {
	case LedgerMemory, LedgerBadger:
	case LedgerRedis:
		if c.Ledger.RedisURL == "" {
			return errors.New("ledger.redisUrl is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	if c.WorldID.AppID == "" {
		return errors.New("worldId.appId is required")
	}
	if c.WorldID.Timeout <= 0 {
		return errors.New("worldId.timeout must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rateLimit.requests and rateLimit.window must be positive")
	}
	if c.SettleInterval <= 0 {
		return errors.New("settleInterval must be positive")
	}
	return nil
}

// WithContext returns a copy of ctx carrying cfg.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

// FromContext returns the configuration stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configContextKey).(*Config)
	return cfg
}
