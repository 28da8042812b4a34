package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stocklens.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Provider Provider       `yaml:"provider"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Backtest BacktestConfig `yaml:"backtest"`
	Predict  PredictConfig  `yaml:"predict"`
	Report   ReportConfig   `yaml:"report"`
	Refresh  RefreshConfig  `yaml:"refresh"`
}

// Storage selects where bars, predictions and reports are persisted.
type Storage struct {
	// Driver is the database/sql driver: "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Bars is "sql" (default) or "parquet".
	Bars       string `yaml:"bars"`
	ParquetDir string `yaml:"parquet_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Provider configures the remote market-data source.
type Provider struct {
	// Name is "alphavantage" or "alpaca".
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Retry           Retry         `yaml:"retry"`
}

// Retry bounds the backoff applied to outbound calls.
type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Backend is "memory", "badger" or "redis".
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	BadgerDir     string        `yaml:"badger_dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// IngestConfig controls the retention window and freshness policy.
type IngestConfig struct {
	RetentionDays int `yaml:"retention_days"`
	// StalenessHorizon of zero means a symbol with any stored bars is
	// always fresh.
	StalenessHorizon time.Duration `yaml:"staleness_horizon"`
}

// BacktestConfig selects and parameterises the trading rule.
type BacktestConfig struct {
	Strategy          string  `yaml:"strategy"`
	ShortWindow       int     `yaml:"short_window"`
	LongWindow        int     `yaml:"long_window"`
	DefaultInvestment float64 `yaml:"default_investment"`
}

// PredictConfig parameterises the built-in forecaster.
type PredictConfig struct {
	HorizonDays  int `yaml:"horizon_days"`
	LookbackDays int `yaml:"lookback_days"`
}

// ReportConfig selects how the report assembler reaches its collaborators.
type ReportConfig struct {
	// Mode is "local" (in-process) or "remote" (over the HTTP API).
	Mode      string `yaml:"mode"`
	RemoteURL string `yaml:"remote_url"`
}

// RefreshConfig drives the optional background refresh of watched symbols.
type RefreshConfig struct {
	Cron    string   `yaml:"cron"`
	Symbols []string `yaml:"symbols"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Driver:     "sqlite",
			DSN:        "stocklens.db",
			Bars:       "sql",
			ParquetDir: "data",
		},
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCPort:        9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Provider: Provider{
			Name:            "alphavantage",
			BaseURL:         "https://www.alphavantage.co",
			Timeout:         30 * time.Second,
			RateLimitPerMin: 5,
			Retry: Retry{
				MaxAttempts:     3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
				MaxElapsed:      30 * time.Second,
			},
		},
		Alpaca: Alpaca{
			Feed: "iex",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
		},
		Ingest: IngestConfig{
			RetentionDays: 2 * 365,
		},
		Backtest: BacktestConfig{
			Strategy:          "ma-band",
			ShortWindow:       50,
			LongWindow:        200,
			DefaultInvestment: 10000,
		},
		Predict: PredictConfig{
			HorizonDays:  30,
			LookbackDays: 90,
		},
		Report: ReportConfig{
			Mode: "local",
		},
	}
}

// Load reads the YAML configuration file at the given path on top of the
// defaults, then applies .env and environment variable overrides. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the rest of the system cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver))
	}
	switch c.Storage.Bars {
	case "sql", "parquet":
	default:
		errs = append(errs, fmt.Errorf("storage.bars %q: want sql or parquet", c.Storage.Bars))
	}
	switch c.Provider.Name {
	case "alphavantage", "alpaca":
	default:
		errs = append(errs, fmt.Errorf("provider.name %q: want alphavantage or alpaca", c.Provider.Name))
	}
	switch c.Cache.Backend {
	case "memory", "badger", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want memory, badger or redis", c.Cache.Backend))
	}
	switch c.Report.Mode {
	case "local":
	case "remote":
		if c.Report.RemoteURL == "" {
			errs = append(errs, errors.New("report.remote_url is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("report.mode %q: want local or remote", c.Report.Mode))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Ingest.RetentionDays <= 0 {
		errs = append(errs, errors.New("ingest.retention_days must be positive"))
	}
	if c.Backtest.ShortWindow <= 0 || c.Backtest.LongWindow <= 0 {
		errs = append(errs, errors.New("backtest windows must be positive"))
	}
	if c.Backtest.DefaultInvestment <= 0 {
		errs = append(errs, errors.New("backtest.default_investment must be positive"))
	}
	if c.Provider.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("provider.retry.max_attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOCKLENS_DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STOCKLENS_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("STOCKLENS_PARQUET_DIR"); v != "" {
		cfg.Storage.ParquetDir = v
	}

	if v := os.Getenv("STOCKLENS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("STOCKLENS_PROVIDER"); v != "" {
		cfg.Provider.Name = strings.ToLower(v)
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}

	if v := os.Getenv("STOCKLENS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("STOCKLENS_REPORT_MODE"); v != "" {
		cfg.Report.Mode = v
	}
	if v := os.Getenv("STOCKLENS_REMOTE_URL"); v != "" {
		cfg.Report.RemoteURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
