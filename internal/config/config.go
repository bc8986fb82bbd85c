package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"breakout-radar/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Marketplace   MarketplaceConfig   `mapstructure:"marketplace"`
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
	ReadCache     ReadCacheConfig     `mapstructure:"readcache"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the shared cache backend when Addr is set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs the daily run.
type SchedulerConfig struct {
	RunAt           string        `mapstructure:"run_at"`
	Timezone        string        `mapstructure:"timezone"`
	Workers         int           `mapstructure:"workers"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MarketplaceConfig covers the proxied marketplace access point.
type MarketplaceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Zone           string        `mapstructure:"zone"`
	Domain         string        `mapstructure:"domain"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
}

// ScoringConfig points at the external scoring capability.
type ScoringConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PipelineConfig tunes ranking, caching and retention.
type PipelineConfig struct {
	CatalogPath      string        `mapstructure:"catalog_path"`
	TopN             int           `mapstructure:"top_n"`
	RetentionDays    int           `mapstructure:"retention_days"`
	SearchTTL        time.Duration `mapstructure:"search_ttl"`
	DetailTTL        time.Duration `mapstructure:"detail_ttl"`
	ReviewsTTL       time.Duration `mapstructure:"reviews_ttl"`
	FallbackRetain   time.Duration `mapstructure:"fallback_retain"`
	MinReviewCount   int64         `mapstructure:"min_review_count"`
	MinRating        float64       `mapstructure:"min_rating"`
	RequireRank      bool          `mapstructure:"require_rank"`
	AlertFailureRate float64       `mapstructure:"alert_failure_rate"`
}

// NormalizationConfig holds fixed per-source conversion rates into TargetCurrency.
type NormalizationConfig struct {
	TargetCurrency string             `mapstructure:"target_currency"`
	Rates          map[string]float64 `mapstructure:"rates"`
}

// ReadCacheConfig fronts the history store read paths.
type ReadCacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	HistoryDays    int           `mapstructure:"history_days"`
	MaxHistoryDays int           `mapstructure:"max_history_days"`
}

// AuditConfig sets request budgets used for cost alerts.
type AuditConfig struct {
	DailyBudget   int64 `mapstructure:"daily_budget"`
	MonthlyBudget int64 `mapstructure:"monthly_budget"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDays int `mapstructure:"max_days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BREAKOUTRADAR")
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
	v.SetDefault("app.name", "breakoutradar")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.key_prefix", "breakoutradar:")

	v.SetDefault("scheduler.run_at", "02:00")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62726164))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("marketplace.base_url", "https://api.brightdata.com")
	v.SetDefault("marketplace.zone", "web_unlocker1")
	v.SetDefault("marketplace.domain", "amazon.com")
	v.SetDefault("marketplace.request_timeout", "30s")
	v.SetDefault("marketplace.rate_per_second", 1.0)
	v.SetDefault("marketplace.burst", 2)

	v.SetDefault("scoring.request_timeout", "20s")

	v.SetDefault("pipeline.top_n", 20)
	v.SetDefault("pipeline.retention_days", 7)
	v.SetDefault("pipeline.search_ttl", "15m")
	v.SetDefault("pipeline.detail_ttl", "1h")
	v.SetDefault("pipeline.reviews_ttl", "1h")
	v.SetDefault("pipeline.fallback_retain", "24h")
	v.SetDefault("pipeline.min_review_count", 1)
	v.SetDefault("pipeline.min_rating", 3.0)
	v.SetDefault("pipeline.require_rank", false)
	v.SetDefault("pipeline.alert_failure_rate", 0.5)

	v.SetDefault("normalization.target_currency", "USD")
	v.SetDefault("normalization.rates", map[string]float64{"USD": 1.0, "CNY": 0.139})

	v.SetDefault("readcache.ttl", "6h")
	v.SetDefault("readcache.history_days", 7)
	v.SetDefault("readcache.max_history_days", 30)

	v.SetDefault("audit.daily_budget", 1000)
	v.SetDefault("audit.monthly_budget", 25000)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_days", 30)
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
	if c.Pipeline.TopN <= 0 || c.Pipeline.TopN > 20 {
		return fmt.Errorf("pipeline.top_n must be between 1 and 20")
	}
	if c.Pipeline.RetentionDays <= 0 {
		return fmt.Errorf("pipeline.retention_days must be greater than zero")
	}
	if c.Pipeline.SearchTTL <= 0 || c.Pipeline.DetailTTL <= 0 || c.Pipeline.ReviewsTTL <= 0 {
		return fmt.Errorf("pipeline cache ttls must be greater than zero")
	}
	if c.Pipeline.AlertFailureRate <= 0 || c.Pipeline.AlertFailureRate > 1 {
		return fmt.Errorf("pipeline.alert_failure_rate must be in (0, 1]")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if _, _, err := c.Scheduler.Clock(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone invalid: %w", err)
	}
	if c.Marketplace.RatePerSecond <= 0 {
		return fmt.Errorf("marketplace.rate_per_second must be greater than zero")
	}
	for source, rate := range c.Normalization.Rates {
		if rate <= 0 {
			return fmt.Errorf("normalization.rates.%s must be greater than zero", source)
		}
	}
	if c.ReadCache.TTL <= 0 {
		return fmt.Errorf("readcache.ttl must be greater than zero")
	}
	if c.ReadCache.HistoryDays <= 0 || c.ReadCache.HistoryDays > c.ReadCache.MaxHistoryDays {
		return fmt.Errorf("readcache.history_days must be between 1 and readcache.max_history_days")
	}
	if c.Export.MaxDays <= 0 {
		return fmt.Errorf("export.max_days must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Clock parses scheduler.run_at ("HH:MM") into hour and minute.
func (s SchedulerConfig) Clock() (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.RunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("scheduler.run_at must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// ResolveDays returns either the CLI override or the config export window.
func (c *Config) ResolveDays(override int) int {
	if override > 0 && override <= c.Export.MaxDays {
		return override
	}
	return c.Export.MaxDays
}
