package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-tracker/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Render    RenderConfig    `mapstructure:"render"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
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

// SchedulerConfig governs the scrape cadence of the run loop.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Cron            string        `mapstructure:"cron"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ScraperConfig tunes the fetch path and the bulk update loop.
type ScraperConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RequestDelay   time.Duration `mapstructure:"request_delay"`
	BulkDelay      time.Duration `mapstructure:"bulk_delay"`
	MaxRetries     int           `mapstructure:"max_retries"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	UserAgents     []string      `mapstructure:"user_agents"`
	AcceptLanguage string        `mapstructure:"accept_language"`
}

// RenderConfig controls the headless browser fallback.
type RenderConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BrowserBin      string        `mapstructure:"browser_bin"`
	Headless        bool          `mapstructure:"headless"`
	NoSandbox       bool          `mapstructure:"no_sandbox"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	ImplicitWait    time.Duration `mapstructure:"implicit_wait"`
}

// ForecastConfig parameterises the forecaster and demand scorer.
type ForecastConfig struct {
	Lookback          time.Duration `mapstructure:"lookback"`
	HorizonDays       int           `mapstructure:"horizon_days"`
	DemandWindow      time.Duration `mapstructure:"demand_window"`
	HoldoutFraction   float64       `mapstructure:"holdout_fraction"`
	DefaultConfidence float64       `mapstructure:"default_confidence"`
	ModelID           string        `mapstructure:"model_id"`
	ModelVersion      string        `mapstructure:"model_version"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig describes the SMTP relay used for email notifications.
type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelegramConfig describes the web notification channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICETRACKER")
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
	v.SetDefault("app.name", "pricetracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("scraper.request_timeout", "30s")
	v.SetDefault("scraper.request_delay", "1s")
	v.SetDefault("scraper.bulk_delay", "2s")
	v.SetDefault("scraper.max_retries", 1)
	v.SetDefault("scraper.stale_after", "6h")
	v.SetDefault("scraper.accept_language", "en-US,en;q=0.5")

	v.SetDefault("render.enabled", true)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("render.page_load_timeout", "30s")
	v.SetDefault("render.implicit_wait", "10s")

	v.SetDefault("forecast.lookback", "1440h")
	v.SetDefault("forecast.horizon_days", 7)
	v.SetDefault("forecast.demand_window", "720h")
	v.SetDefault("forecast.holdout_fraction", 0.2)
	v.SetDefault("forecast.default_confidence", 0.5)
	v.SetDefault("forecast.model_id", "linear_regression")
	v.SetDefault("forecast.model_version", "1.0")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.timeout", "15s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)
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
	if c.Scheduler.Interval <= 0 && c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.interval must be greater than zero when scheduler.cron is empty")
	}
	if c.Scraper.RequestTimeout <= 0 {
		return fmt.Errorf("scraper.request_timeout must be greater than zero")
	}
	if c.Scraper.RequestDelay < 0 || c.Scraper.BulkDelay < 0 {
		return fmt.Errorf("scraper delays cannot be negative")
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper.max_retries cannot be negative")
	}
	if c.Render.Enabled && (c.Render.PageLoadTimeout <= 0 || c.Render.ImplicitWait < 0) {
		return fmt.Errorf("render.page_load_timeout must be positive and render.implicit_wait non-negative")
	}
	if c.Forecast.HorizonDays < 1 || c.Forecast.HorizonDays > 90 {
		return fmt.Errorf("forecast.horizon_days must be within 1..90")
	}
	if c.Forecast.HoldoutFraction <= 0 || c.Forecast.HoldoutFraction > 0.5 {
		return fmt.Errorf("forecast.holdout_fraction must be within (0, 0.5]")
	}
	if c.Forecast.DefaultConfidence < 0 || c.Forecast.DefaultConfidence > 1 {
		return fmt.Errorf("forecast.default_confidence must be within [0, 1]")
	}
	if c.Forecast.Lookback <= 0 || c.Forecast.DemandWindow <= 0 {
		return fmt.Errorf("forecast.lookback and forecast.demand_window must be greater than zero")
	}
	if c.Forecast.ModelID == "" {
		return fmt.Errorf("forecast.model_id must be set")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" || c.Alerting.Email.From == "" {
			return fmt.Errorf("alerting.email.host and alerting.email.from must be set")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.bot_token and alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
