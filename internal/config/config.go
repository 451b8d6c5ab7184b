// Package config loads runtime configuration for the price oracle and
// alert engine from file, environment, and built-in defaults, using the
// same viper + mapstructure layering the rest of the pack uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"btc-loan-sentinel/internal/logging"
)

// Config materialises the full application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Database DatabaseConfig `mapstructure:"database"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// AppConfig carries process-level metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// OracleConfig enumerates the tunables for the aggregator and oracle.
type OracleConfig struct {
	TWAPWindowSeconds   int   `mapstructure:"twap_window_seconds"`
	CircuitBreakerPct   int   `mapstructure:"circuit_breaker_pct"`
	MinSources          int   `mapstructure:"min_sources"`
	PricePollIntervalMS int64 `mapstructure:"price_poll_interval_ms"`
}

// DatabaseConfig configures the optional Postgres-backed state store.
// An empty DSN means the core runs on MemStore instead.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NotifyConfig configures the outbound chat notification transport.
type NotifyConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds configuration from an optional file path, environment
// variables prefixed SENTINEL_, and the defaults set below.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "btc-loan-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("oracle.twap_window_seconds", 300)
	v.SetDefault("oracle.circuit_breaker_pct", 10)
	v.SetDefault("oracle.min_sources", 1)
	v.SetDefault("oracle.price_poll_interval_ms", 5000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.api_base", "https://api.telegram.org")
	v.SetDefault("notify.request_timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks that aren't expressible as
// struct tags (those live on model.Loan and friends instead).
func (c *Config) Validate() error {
	if c.Oracle.TWAPWindowSeconds <= 0 {
		return fmt.Errorf("oracle.twap_window_seconds must be greater than zero")
	}
	if c.Oracle.CircuitBreakerPct <= 0 {
		return fmt.Errorf("oracle.circuit_breaker_pct must be greater than zero")
	}
	if c.Oracle.MinSources <= 0 {
		return fmt.Errorf("oracle.min_sources must be greater than zero")
	}
	if c.Oracle.PricePollIntervalMS <= 0 {
		return fmt.Errorf("oracle.price_poll_interval_ms must be greater than zero")
	}
	if c.Notify.Enabled && c.Notify.BotToken == "" {
		return fmt.Errorf("notify.bot_token is required when notify.enabled is true")
	}
	return nil
}
