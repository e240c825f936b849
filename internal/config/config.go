package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-consensus/internal/logging"
	"price-consensus/internal/storage"
	"price-consensus/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    storage.Config    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Assets      []string          `mapstructure:"assets"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Trend       TrendConfig       `mapstructure:"trend"`
	Reputation  ReputationConfig  `mapstructure:"reputation"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Fetchers    FetchersConfig    `mapstructure:"fetchers"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig covers the optional latest-price cache.
type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	DB   int           `mapstructure:"db"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	FetchInterval    time.Duration `mapstructure:"fetch_interval"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// ValidationConfig tunes the submission validator.
type ValidationConfig struct {
	SuspicionPct float64       `mapstructure:"suspicion_pct"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
}

// AggregationConfig tunes the consensus computation.
type AggregationConfig struct {
	Window          time.Duration `mapstructure:"window"`
	TrustedWeight   float64       `mapstructure:"trusted_weight"`
	UpvoteWeight    float64       `mapstructure:"upvote_weight"`
	UpvoteMin       int           `mapstructure:"upvote_min"`
	MinContributors int           `mapstructure:"min_contributors"`
	HistoryBound    int           `mapstructure:"history_bound"`
	TrendEpsilonPct float64       `mapstructure:"trend_epsilon_pct"`
}

// TrendConfig tunes pattern detection.
type TrendConfig struct {
	RunLength        int     `mapstructure:"run_length"`
	MovePct          float64 `mapstructure:"move_pct"`
	VolatilityPoints int     `mapstructure:"volatility_points"`
	VolatilityPct    float64 `mapstructure:"volatility_pct"`
	ReversalRun      int     `mapstructure:"reversal_run"`
}

// ReputationConfig tunes accuracy judgement and trust hysteresis.
type ReputationConfig struct {
	AccurateWithinPct float64 `mapstructure:"accurate_within_pct"`
	TrustGrantScore   float64 `mapstructure:"trust_grant_score"`
	TrustRevokeScore  float64 `mapstructure:"trust_revoke_score"`
}

// AlertingConfig defines engine and delivery settings.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	OutboxBatch int            `mapstructure:"outbox_batch"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// FetchersConfig wires the external api-kind price sources.
type FetchersConfig struct {
	Coingecko CoingeckoConfig `mapstructure:"coingecko"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// CoingeckoConfig covers the HTTP market data fetcher.
type CoingeckoConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	CoinIDs        map[string]string `mapstructure:"coin_ids"`
	VsCurrency     string            `mapstructure:"vs_currency"`
}

// ChainlinkConfig covers the on-chain feed fetcher.
type ChainlinkConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICECONSENSUS")
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
	v.SetDefault("app.name", "price-consensus")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.dispatch_interval", "10s")
	v.SetDefault("scheduler.fetch_interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("assets", []string{"usd", "eur", "gold", "btc", "usdt"})

	v.SetDefault("validation.suspicion_pct", 10.0)
	v.SetDefault("validation.recent_window", "600s")

	v.SetDefault("aggregation.window", "600s")
	v.SetDefault("aggregation.trusted_weight", 2.0)
	v.SetDefault("aggregation.upvote_weight", 1.5)
	v.SetDefault("aggregation.upvote_min", 10)
	v.SetDefault("aggregation.min_contributors", 3)
	v.SetDefault("aggregation.history_bound", 2880)
	v.SetDefault("aggregation.trend_epsilon_pct", 0.05)

	v.SetDefault("trend.run_length", 3)
	v.SetDefault("trend.move_pct", 2.0)
	v.SetDefault("trend.volatility_points", 10)
	v.SetDefault("trend.volatility_pct", 3.0)
	v.SetDefault("trend.reversal_run", 5)

	v.SetDefault("reputation.accurate_within_pct", 5.0)
	v.SetDefault("reputation.trust_grant_score", 85.0)
	v.SetDefault("reputation.trust_revoke_score", 70.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.outbox_batch", 100)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("fetchers.coingecko.enabled", false)
	v.SetDefault("fetchers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("fetchers.coingecko.request_timeout", "10s")
	v.SetDefault("fetchers.coingecko.user_agent", version.UserAgent())
	v.SetDefault("fetchers.coingecko.vs_currency", "usd")
	v.SetDefault("fetchers.chainlink.enabled", false)
	v.SetDefault("fetchers.chainlink.request_timeout", "10s")

	v.SetDefault("redis.ttl", "45s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets must name at least one tracked asset")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Validation.SuspicionPct <= 0 {
		return fmt.Errorf("validation.suspicion_pct must be greater than zero")
	}
	if c.Validation.RecentWindow <= 0 {
		return fmt.Errorf("validation.recent_window must be greater than zero")
	}
	if c.Aggregation.Window <= 0 {
		return fmt.Errorf("aggregation.window must be greater than zero")
	}
	if c.Aggregation.MinContributors <= 0 {
		return fmt.Errorf("aggregation.min_contributors must be greater than zero")
	}
	if c.Aggregation.HistoryBound <= 0 {
		return fmt.Errorf("aggregation.history_bound must be greater than zero")
	}
	if c.Reputation.TrustRevokeScore >= c.Reputation.TrustGrantScore {
		return fmt.Errorf("reputation.trust_revoke_score must stay below trust_grant_score")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
	}
	if c.Fetchers.Chainlink.Enabled && c.Fetchers.Chainlink.RPCURL == "" {
		return fmt.Errorf("fetchers.chainlink.rpc_url is required when chainlink is enabled")
	}
	return nil
}

// TrackedAsset reports whether the asset is in the configured set.
func (c *Config) TrackedAsset(asset string) bool {
	for _, a := range c.Assets {
		if strings.EqualFold(a, asset) {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
