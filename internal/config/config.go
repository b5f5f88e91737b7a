package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"flare-emissary/internal/logging"
)

// Config materialises application configuration for the flare-emissaryd
// process. Every environment variable named in the external interfaces
// section is represented here even when the core itself never reads it
// (e.g. Delivery.TelegramBotToken), so a single Config value describes the
// whole indexer deployment's environment.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Indexer  IndexerConfig  `mapstructure:"indexer"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig encapsulates the durable queue endpoint.
type RedisConfig struct {
	URL          string `mapstructure:"url"`
	StreamPrefix string `mapstructure:"stream_prefix"`
}

// ChainConfig covers on-chain RPC access.
type ChainConfig struct {
	Name           string        `mapstructure:"name"`
	RPCURL         string        `mapstructure:"rpc_url"`
	FallbackURL    string        `mapstructure:"fallback_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// IndexerConfig governs poller/reorg-detector cadence and topology.
type IndexerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReorgWindow     int           `mapstructure:"reorg_window"`
	Confirmations   uint64        `mapstructure:"confirmations"`
	BatchSize       uint64        `mapstructure:"batch_size"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	EnableGeneric   bool          `mapstructure:"enable_generic_decoder"`
	ContractAddrs   []string      `mapstructure:"contract_addresses"`
}

// AuthConfig is consumed by the external API collaborator, not the core; it
// is still validated here so a single Config surface describes the whole
// deployment's environment.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTExpiryHrs time.Duration `mapstructure:"jwt_expiry_hours"`
}

// DeliveryConfig holds credentials consumed by the external delivery
// workers, not the core queue producer.
type DeliveryConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	DiscordBotToken  string `mapstructure:"discord_bot_token"`
	ResendAPIKey     string `mapstructure:"resend_api_key"`
	EmailFrom        string `mapstructure:"email_from"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLAREEMISSARY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvAliases(v)

	// INDEXER_POLL_INTERVAL_MS and JWT_EXPIRY_HOURS carry bare numbers; add
	// their unit so the duration decode hook accepts them.
	if ms := os.Getenv("INDEXER_POLL_INTERVAL_MS"); ms != "" {
		v.Set("indexer.poll_interval", ms+"ms")
	}
	if hrs := os.Getenv("JWT_EXPIRY_HOURS"); hrs != "" {
		v.Set("auth.jwt_expiry_hours", hrs+"h")
	}

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

// bindEnvAliases maps the flat, unprefixed environment variable names §6
// names verbatim (DATABASE_URL, REDIS_URL, ...) onto their nested config
// keys, in addition to the FLAREEMISSARY_-prefixed automatic bindings.
func bindEnvAliases(v *viper.Viper) {
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("chain.rpc_url", "FLARE_RPC_URL")
	_ = v.BindEnv("chain.fallback_url", "FLARE_RPC_FALLBACK_URL")
	_ = v.BindEnv("indexer.poll_interval", "INDEXER_POLL_INTERVAL_MS")
	_ = v.BindEnv("indexer.reorg_window", "INDEXER_REORG_WINDOW")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.jwt_expiry_hours", "JWT_EXPIRY_HOURS")
	_ = v.BindEnv("delivery.telegram_bot_token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("delivery.discord_bot_token", "DISCORD_BOT_TOKEN")
	_ = v.BindEnv("delivery.resend_api_key", "RESEND_API_KEY")
	_ = v.BindEnv("delivery.email_from", "EMAIL_FROM")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flare-emissary")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "internal/storage/migrations")

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.stream_prefix", "flare-emissary:notifications")

	v.SetDefault("chain.name", "flare")
	v.SetDefault("chain.rpc_url", "https://flare-api.flare.network/ext/C/rpc")
	v.SetDefault("chain.request_timeout", "10s")

	v.SetDefault("indexer.poll_interval", "1500ms")
	v.SetDefault("indexer.reorg_window", 10)
	v.SetDefault("indexer.confirmations", 0)
	v.SetDefault("indexer.batch_size", 1)
	v.SetDefault("indexer.advisory_lock_key", int64(0x466c617245))
	v.SetDefault("indexer.enable_generic_decoder", false)

	v.SetDefault("auth.jwt_expiry_hours", "24h")
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
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn (DATABASE_URL) is required")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url (FLARE_RPC_URL) is required")
	}
	if c.Indexer.PollInterval <= 0 {
		return fmt.Errorf("indexer.poll_interval must be greater than zero")
	}
	if c.Indexer.ReorgWindow <= 0 {
		return fmt.Errorf("indexer.reorg_window must be greater than zero")
	}
	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("indexer.batch_size must be at least 1")
	}
	return nil
}
