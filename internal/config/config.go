package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"quotewatch/internal/logging"
	"quotewatch/internal/provider"
	"quotewatch/internal/quote"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig            `mapstructure:"app"`
	Logging  logging.Config       `mapstructure:"logging"`
	Metrics  MetricsConfig        `mapstructure:"metrics"`
	Provider provider.YahooConfig `mapstructure:"provider"`
	Quotes   quote.ServiceConfig  `mapstructure:"quotes"`
	Watch    []WatchConfig        `mapstructure:"watch"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig controls the metrics/health HTTP listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WatchConfig declares a price-drop monitor started at boot.
type WatchConfig struct {
	Symbol       string        `mapstructure:"symbol"`
	Interval     time.Duration `mapstructure:"interval"`
	ThresholdPct float64       `mapstructure:"threshold_pct"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUOTEWATCH")
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
	v.SetDefault("app.name", "quotewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("provider.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("provider.user_agent", "quotewatch/1.0")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.backoff_base", "500ms")
	v.SetDefault("provider.rate_limit_per_minute", 60)

	v.SetDefault("quotes.limiter.window", "60s")
	v.SetDefault("quotes.limiter.quota", 30)
	v.SetDefault("quotes.limiter.min_spacing", "1s")

	v.SetDefault("quotes.dedupe.grace", "5s")
	v.SetDefault("quotes.dedupe.wait_timeout", "30s")

	v.SetDefault("quotes.cache.price_ttl", "30s")
	v.SetDefault("quotes.cache.info_ttl", "5m")
	v.SetDefault("quotes.cache.history_ttl", "10m")
	v.SetDefault("quotes.cache.max_entries", 0)

	v.SetDefault("quotes.snapshot.path", "data/quotes_snapshot.json")
	v.SetDefault("quotes.snapshot.save_interval", "0s")

	v.SetDefault("quotes.batch_limit", 5)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Quotes.Limiter.Quota < 0 {
		return fmt.Errorf("quotes.limiter.quota cannot be negative")
	}
	if c.Quotes.Limiter.Window < 0 {
		return fmt.Errorf("quotes.limiter.window cannot be negative")
	}
	if c.Quotes.BatchLimit < 0 {
		return fmt.Errorf("quotes.batch_limit cannot be negative")
	}
	if c.Quotes.Cache.MaxEntries < 0 {
		return fmt.Errorf("quotes.cache.max_entries cannot be negative")
	}
	for _, w := range c.Watch {
		if strings.TrimSpace(w.Symbol) == "" {
			return fmt.Errorf("watch entries require a symbol")
		}
		if w.Interval <= 0 {
			return fmt.Errorf("watch.interval must be greater than zero for %s", w.Symbol)
		}
		if w.ThresholdPct <= 0 {
			return fmt.Errorf("watch.threshold_pct must be greater than zero for %s", w.Symbol)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	return nil
}
