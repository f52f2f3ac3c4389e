package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Redis     RedisConfig              `mapstructure:"redis"`
	JWT       JWTConfig                `mapstructure:"jwt"`
	AES       AESConfig                `mapstructure:"aes"`
	Log       LogConfig                `mapstructure:"log"`
	Gateways  map[string]GatewayConfig `mapstructure:"gateways"`
	Reconcile ReconcileConfig          `mapstructure:"reconcile"`
	Notifier  NotifierConfig           `mapstructure:"notifier"`
	RateLimit RateLimitConfig          `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// GatewayConfig holds the per-gateway webhook verification settings.
type GatewayConfig struct {
	Secret        string        `mapstructure:"secret"`
	SkewTolerance time.Duration `mapstructure:"skew_tolerance"`
}

// ReconcileConfig tunes webhook reconciliation behavior.
type ReconcileConfig struct {
	MaxSaveAttempts int           `mapstructure:"max_save_attempts"` // optimistic-save retries per delivery
	ClaimTimeout    time.Duration `mapstructure:"claim_timeout"`     // claimed-but-unfinalized records older than this are abandoned
	AckCacheTTL     time.Duration `mapstructure:"ack_cache_ttl"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"` // webhook payload size limit
}

// NotifierConfig controls outbound domain-event delivery.
type NotifierConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	CallbackURL  string        `mapstructure:"callback_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"` // delivery attempts before an event is marked FAILED
	BatchSize    int           `mapstructure:"batch_size"`   // pending events fetched per sweep
}

// RateLimitConfig toggles the Redis-backed request limiter. Per-group rules
// live with the middleware.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: RFS_ (Refunds Service).
// Nested keys use underscore: RFS_DATABASE_HOST, RFS_GATEWAYS_CARDLINK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "refunds")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "refunds-service")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("gateways.cardlink.secret", "")
	v.SetDefault("gateways.cardlink.skew_tolerance", "5m")
	v.SetDefault("gateways.swiftpay.secret", "")
	v.SetDefault("gateways.swiftpay.skew_tolerance", "5m")
	v.SetDefault("reconcile.max_save_attempts", 3)
	v.SetDefault("reconcile.claim_timeout", "2m")
	v.SetDefault("reconcile.ack_cache_ttl", "24h")
	v.SetDefault("reconcile.max_body_bytes", 65536)
	v.SetDefault("notifier.enabled", false)
	v.SetDefault("notifier.callback_url", "")
	v.SetDefault("notifier.poll_interval", "15s")
	v.SetDefault("notifier.timeout", "10s")
	v.SetDefault("notifier.max_attempts", 5)
	v.SetDefault("notifier.batch_size", 50)
	v.SetDefault("ratelimit.enabled", true)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: RFS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("RFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
