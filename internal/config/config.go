package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"rate-arb-watch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Logging     logging.Config     `mapstructure:"logging"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       RedisConfig        `mapstructure:"redis"`
	S3          S3Config           `mapstructure:"s3"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Venues      []VenueConfig      `mapstructure:"venues"`
	Currency    CurrencyConfig     `mapstructure:"currency"`
	Comparisons []ComparisonConfig `mapstructure:"comparisons"`
	Evaluator   EvaluatorConfig    `mapstructure:"evaluator"`
	Sinks       SinksConfig        `mapstructure:"sinks"`
	Alerting    AlertingConfig     `mapstructure:"alerting"`
	Export      ExportConfig       `mapstructure:"export"`
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
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// RedisConfig configures the latest-rate mirror and sample stream.
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
	Channel      string `mapstructure:"channel"`
	MirrorRates  bool   `mapstructure:"mirror_rates"`
	// RateTTL expires mirrored quotes of venues that went quiet.
	RateTTL time.Duration `mapstructure:"rate_ttl"`
}

// S3Config configures export uploads to an S3-compatible bucket.
type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	Prefix         string `mapstructure:"prefix"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	// StaleAfter defaults to twice the interval.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// FeedConfig holds connection policy shared by every venue adapter.
type FeedConfig struct {
	Buffer           int           `mapstructure:"buffer"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// VenueConfig describes one venue connection and its instruments.
type VenueConfig struct {
	Name         string             `mapstructure:"name"`
	Kind         string             `mapstructure:"kind"`
	URL          string             `mapstructure:"url"`
	Fee          float64            `mapstructure:"fee"`
	Slippage     float64            `mapstructure:"slippage"`
	Expiry       time.Time          `mapstructure:"expiry"`
	PollInterval time.Duration      `mapstructure:"poll_interval"`
	Disabled     bool               `mapstructure:"disabled"`
	Instruments  []InstrumentConfig `mapstructure:"instruments"`
}

// InstrumentConfig maps a venue symbol onto a base/quote pair.
// Params carries venue-specific identifiers such as exchanger exchtypes.
type InstrumentConfig struct {
	Symbol string            `mapstructure:"symbol"`
	Base   string            `mapstructure:"base"`
	Quote  string            `mapstructure:"quote"`
	Params map[string]string `mapstructure:"params"`
}

// CurrencyConfig holds the alias table, transfer edges and bridge candidates.
type CurrencyConfig struct {
	UseDefaultAliases bool             `mapstructure:"use_default_aliases"`
	Aliases           []AliasConfig    `mapstructure:"aliases"`
	Transfers         []TransferConfig `mapstructure:"transfers"`
	Bridges           []string         `mapstructure:"bridges"`
}

// AliasConfig declares a non-canonical unit.
type AliasConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Canonical  string  `mapstructure:"canonical"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// TransferConfig declares the cost of moving a currency between venues.
type TransferConfig struct {
	Currency string  `mapstructure:"currency"`
	From     string  `mapstructure:"from"`
	To       string  `mapstructure:"to"`
	Fee      float64 `mapstructure:"fee"`
	FeeFixed float64 `mapstructure:"fee_fixed"`
	Rate     float64 `mapstructure:"rate"`
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
}

// ComparisonConfig pairs a maker instrument with a taker instrument.
type ComparisonConfig struct {
	Name  string        `mapstructure:"name"`
	Maker InstrumentRef `mapstructure:"maker"`
	Taker InstrumentRef `mapstructure:"taker"`
}

// InstrumentRef points at one configured venue instrument.
type InstrumentRef struct {
	Venue  string `mapstructure:"venue"`
	Symbol string `mapstructure:"symbol"`
}

// EvaluatorConfig tunes APR computation.
type EvaluatorConfig struct {
	SpotHorizon time.Duration `mapstructure:"spot_horizon"`
}

// SinksConfig selects where samples go besides the log.
type SinksConfig struct {
	Log      bool   `mapstructure:"log"`
	File     string `mapstructure:"file"`
	Database bool   `mapstructure:"database"`
	Redis    bool   `mapstructure:"redis"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdAPR float64        `mapstructure:"threshold_apr"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBWATCH")
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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61726277))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.stale_after", "0s")

	v.SetDefault("feed.buffer", 1024)
	v.SetDefault("feed.reconnect_initial", "1s")
	v.SetDefault("feed.reconnect_max", "30s")
	v.SetDefault("feed.ping_interval", "15s")
	v.SetDefault("feed.read_timeout", "60s")
	v.SetDefault("feed.write_timeout", "5s")
	v.SetDefault("feed.poll_interval", "5s")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "arbwatch/1.0")

	v.SetDefault("currency.use_default_aliases", true)
	v.SetDefault("currency.bridges", []string{"USD", "EUR", "USDT", "BTC"})

	v.SetDefault("evaluator.spot_horizon", "0s")

	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.database", true)
	v.SetDefault("sinks.redis", true)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.key_prefix", "arbwatch")
	v.SetDefault("redis.stream", "arbwatch:samples")
	v.SetDefault("redis.stream_max_len", int64(10000))
	v.SetDefault("redis.channel", "arbwatch:samples")
	v.SetDefault("redis.mirror_rates", true)
	v.SetDefault("redis.rate_ttl", "1h")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.prefix", "exports")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_apr", 10.0)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.run_migrations", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.StaleAfter < 0 {
		return fmt.Errorf("scheduler.stale_after cannot be negative")
	}
	if c.Feed.ReconnectInitial <= 0 || c.Feed.ReconnectMax < c.Feed.ReconnectInitial {
		return fmt.Errorf("feed.reconnect_initial must be positive and not above feed.reconnect_max")
	}
	if c.Evaluator.SpotHorizon < 0 {
		return fmt.Errorf("evaluator.spot_horizon cannot be negative")
	}

	instruments := make(map[InstrumentRef]struct{})
	venues := make(map[string]struct{}, len(c.Venues))
	for i, venue := range c.Venues {
		if venue.Name == "" {
			return fmt.Errorf("venues[%d].name is required", i)
		}
		if _, dup := venues[venue.Name]; dup {
			return fmt.Errorf("venue %s declared twice", venue.Name)
		}
		venues[venue.Name] = struct{}{}
		if !knownKind(venue.Kind) {
			return fmt.Errorf("venue %s: unknown kind %q", venue.Name, venue.Kind)
		}
		if venue.Fee < 0 || venue.Fee >= 1 || venue.Slippage < 0 || venue.Slippage >= 1 {
			return fmt.Errorf("venue %s: fee and slippage must be fractions in [0,1)", venue.Name)
		}
		if len(venue.Instruments) == 0 {
			return fmt.Errorf("venue %s: at least one instrument is required", venue.Name)
		}
		for _, inst := range venue.Instruments {
			if inst.Symbol == "" || inst.Base == "" || inst.Quote == "" {
				return fmt.Errorf("venue %s: instruments need symbol, base and quote", venue.Name)
			}
			instruments[InstrumentRef{Venue: venue.Name, Symbol: inst.Symbol}] = struct{}{}
		}
	}

	for i, cmp := range c.Comparisons {
		if _, ok := instruments[cmp.Maker]; !ok {
			return fmt.Errorf("comparisons[%d]: maker %s/%s is not a configured instrument", i, cmp.Maker.Venue, cmp.Maker.Symbol)
		}
		if _, ok := instruments[cmp.Taker]; !ok {
			return fmt.Errorf("comparisons[%d]: taker %s/%s is not a configured instrument", i, cmp.Taker.Venue, cmp.Taker.Symbol)
		}
		if cmp.Maker == cmp.Taker {
			return fmt.Errorf("comparisons[%d]: maker and taker must differ", i)
		}
	}

	for _, alias := range c.Currency.Aliases {
		if alias.Multiplier <= 0 {
			return fmt.Errorf("currency alias %s: multiplier must be positive", alias.Symbol)
		}
	}

	if c.Alerting.ThresholdAPR < 0 {
		return fmt.Errorf("alerting.threshold_apr cannot be negative")
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

// StaleAfter returns the freshness window, twice the interval unless configured.
func (c *Config) StaleAfter() time.Duration {
	if c.Scheduler.StaleAfter > 0 {
		return c.Scheduler.StaleAfter
	}
	return 2 * c.Scheduler.Interval
}

// Venue looks up a venue by name.
func (c *Config) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// ComparisonName returns the configured name or a maker/taker label.
func (cc ComparisonConfig) ComparisonName() string {
	if cc.Name != "" {
		return cc.Name
	}
	return cc.Maker.Venue + ":" + cc.Maker.Symbol + "~" + cc.Taker.Venue + ":" + cc.Taker.Symbol
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Venue kinds understood by the feed package.
const (
	KindBitfinex  = "bitfinex"
	KindHitBTC    = "hitbtc"
	KindExmo      = "exmo"
	KindBybit     = "bybit"
	KindOKX       = "okx"
	KindExchanger = "exchanger"
	KindChainlink = "chainlink"
)

func knownKind(kind string) bool {
	switch kind {
	case KindBitfinex, KindHitBTC, KindExmo, KindBybit, KindOKX, KindExchanger, KindChainlink:
		return true
	default:
		return false
	}
}
