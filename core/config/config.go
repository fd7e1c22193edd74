// Package config provides environment-based configuration for the ebox services.
//
// Configuration is loaded from environment variables using Viper, with
// defaults suitable for local development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: ebox.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - TRUSTED_PROXIES: comma separated CIDRs whose X-Forwarded-For is honored.
//     Empty uses the peer address only.
//   - PICKUP_SECRET: base64 encoded 32 byte key for pickup tokens. Required.
//   - PICKUP_LOOKUP_TIMEOUT: bound on session and order lookups. Default: 5s
//   - PICKUP_SINGLE_USE: reject a pickup token after its first successful use. Default: false
//   - REDIS_ADDR: Redis address for the replay store. Empty uses process memory.
//   - DEVICE_SIGNING_KEY: HS256 key for handoff device tokens. Empty disables device auth.
//   - DEVICE_TOKEN_TTL: lifetime of minted device tokens. Default: 720h
//   - VERIFY_RATE_LIMIT: verification attempts per device or IP per window; 0 disables. Default: 30
//   - VERIFY_RATE_WINDOW: window of VERIFY_RATE_LIMIT. Default: 1m
//   - AUDIT_RETENTION: how long audit events are kept; 0 keeps them forever. Default: 8760h
//   - SESSION_RETENTION: how long expired sessions are kept. Default: 720h
//   - RETENTION_INTERVAL: how often the retention cleanup runs. Default: 24h
//   - OTEL_ENABLED, OTLP_ENDPOINT, SERVICE_VERSION: telemetry settings.
//
// # Example Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType          string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string `mapstructure:"DSN"`
	SkipAutoMigrate bool   `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	Port            int    `mapstructure:"PORT"`

	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	PickupSecret        string        `mapstructure:"PICKUP_SECRET"`
	PickupLookupTimeout time.Duration `mapstructure:"PICKUP_LOOKUP_TIMEOUT"`
	PickupSingleUse     bool          `mapstructure:"PICKUP_SINGLE_USE"`
	RedisAddr           string        `mapstructure:"REDIS_ADDR"`

	DeviceSigningKey string        `mapstructure:"DEVICE_SIGNING_KEY"`
	DeviceTokenTTL   time.Duration `mapstructure:"DEVICE_TOKEN_TTL"`

	VerifyRateLimit  int           `mapstructure:"VERIFY_RATE_LIMIT"`
	VerifyRateWindow time.Duration `mapstructure:"VERIFY_RATE_WINDOW"`

	AuditRetention    time.Duration `mapstructure:"AUDIT_RETENTION"`
	SessionRetention  time.Duration `mapstructure:"SESSION_RETENTION"`
	RetentionInterval time.Duration `mapstructure:"RETENTION_INTERVAL"`

	OTelEnabled    bool   `mapstructure:"OTEL_ENABLED"`
	OTLPEndpoint   string `mapstructure:"OTLP_ENDPOINT"`
	ServiceVersion string `mapstructure:"SERVICE_VERSION"`
}

// keys lists every setting so AutomaticEnv picks them up during Unmarshal,
// including the ones without a default.
var keys = []string{
	"DB_TYPE", "DSN", "SKIP_AUTO_MIGRATE", "LOG_LEVEL", "PORT", "TRUSTED_PROXIES",
	"PICKUP_SECRET", "PICKUP_LOOKUP_TIMEOUT", "PICKUP_SINGLE_USE", "REDIS_ADDR",
	"DEVICE_SIGNING_KEY", "DEVICE_TOKEN_TTL",
	"VERIFY_RATE_LIMIT", "VERIFY_RATE_WINDOW",
	"AUDIT_RETENTION", "SESSION_RETENTION", "RETENTION_INTERVAL",
	"OTEL_ENABLED", "OTLP_ENDPOINT", "SERVICE_VERSION",
}

func LoadConfig() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DSN", "ebox.db")
	v.SetDefault("SKIP_AUTO_MIGRATE", false)
	v.SetDefault("PICKUP_LOOKUP_TIMEOUT", 5*time.Second)
	v.SetDefault("PICKUP_SINGLE_USE", false)
	v.SetDefault("DEVICE_TOKEN_TTL", 30*24*time.Hour)
	v.SetDefault("VERIFY_RATE_LIMIT", 30)
	v.SetDefault("VERIFY_RATE_WINDOW", time.Minute)
	v.SetDefault("AUDIT_RETENTION", 365*24*time.Hour)
	v.SetDefault("SESSION_RETENTION", 30*24*time.Hour)
	v.SetDefault("RETENTION_INTERVAL", 24*time.Hour)
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("SERVICE_VERSION", "dev")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
