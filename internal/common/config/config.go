// Package config loads trust-anchor configuration from YAML, environment
// variables and defaults. Priority: env vars > config file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all trust-anchor configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	ZK        ZKConfig        `mapstructure:"zk"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Receipts  ReceiptsConfig  `mapstructure:"receipts"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig defines HTTP server settings.
// Timeouts are mandatory: a slow client must not pin a connection forever.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig controls log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // "json" or "console"
}

// DatabaseConfig selects between PostgreSQL and the in-memory store.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is shared by the session store and the audit event bus.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ZKConfig defines proving-system settings. These map directly to gnark
// options.
type ZKConfig struct {
	Curve          string `mapstructure:"curve"` // "bn254", "bls12-381", "bls12-377", "bw6-761"
	KeyDir         string `mapstructure:"key_dir"`
	SetupOnStart   bool   `mapstructure:"setup_on_start"` // generate keys if KeyDir is empty
	MaxProofSizeKB int    `mapstructure:"max_proof_size_kb"`
}

// SessionsConfig controls authentication session issuance.
type SessionsConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Backend string        `mapstructure:"backend"` // "memory" or "redis"
}

// RateLimitConfig prevents API abuse.
// Token bucket algorithm: allows bursts but limits sustained rate.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CORSConfig for browser-based holder clients.
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// ReceiptsConfig points at the external receipt-ledger gateway.
type ReceiptsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AdminConfig lists the trusted admin key fingerprints H(adminKey). The keys
// themselves never appear in configuration.
type AdminConfig struct {
	KeyCommitments []string `mapstructure:"key_commitments"`
}

// Load reads configuration from file and environment variables.
// TRUST_ANCHOR_SERVER_PORT overrides server.port in YAML, and so on.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TRUST_ANCHOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing file is fine, defaults plus env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults establishes sensible defaults that work for local development
// out-of-the-box.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("zk.curve", "bn254")
	v.SetDefault("zk.key_dir", "keys")
	v.SetDefault("zk.setup_on_start", true)
	v.SetDefault("zk.max_proof_size_kb", 64)

	v.SetDefault("sessions.ttl", "15m")
	v.SetDefault("sessions.backend", "memory")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("cors.enabled", true)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization"})

	v.SetDefault("receipts.enabled", false)
	v.SetDefault("receipts.timeout", "10s")
}

// Validate checks if configuration is valid.
// Fail fast principle: catch config errors at startup, not during runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < time.Second {
		return fmt.Errorf("read_timeout must be at least 1 second")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validCurves := map[string]bool{"bn254": true, "bls12-381": true, "bls12-377": true, "bw6-761": true}
	if !validCurves[c.ZK.Curve] {
		return fmt.Errorf("unsupported curve: %s", c.ZK.Curve)
	}
	if c.ZK.MaxProofSizeKB < 1 || c.ZK.MaxProofSizeKB > 1024 {
		return fmt.Errorf("max_proof_size_kb must be between 1 and 1024")
	}

	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database is enabled")
	}

	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("sessions.backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Sessions.Backend)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("requests_per_second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("burst must be at least 1")
		}
	}

	if c.Receipts.Enabled && c.Receipts.URL == "" {
		return fmt.Errorf("receipts.url is required when receipts are enabled")
	}

	return nil
}

// ServerAddress returns the full HTTP listener address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RedisAddress returns host:port for Redis clients.
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// IsProduction checks if we're running in production mode, based on log
// level.
func (c *Config) IsProduction() bool {
	return c.Logging.Level != "debug"
}
