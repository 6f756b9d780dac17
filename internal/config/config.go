// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL (e.g. redis://localhost:6379/0) enables the blacklist read cache and the Redis session store.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisKeyPrefix namespaces every key this service writes.
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA P-256) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file. Empty derives it from the private key.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTKeyID is the optional "kid" header.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTLeeway tolerates clock skew on exp/nbf/iat.
	JWTLeeway string `mapstructure:"JWT_LEEWAY"`
	// JWTMaxFutureIAT rejects tokens whose iat is further in the future than this.
	JWTMaxFutureIAT string `mapstructure:"JWT_MAX_FUTURE_IAT"`

	// BcryptCost is the bcrypt cost factor (4–31) for legacy hashes; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Argon2MemoryKiB, Argon2Time and Argon2Parallelism are the argon2id cost parameters.
	Argon2MemoryKiB   int `mapstructure:"ARGON2_MEMORY_KIB"`
	Argon2Time        int `mapstructure:"ARGON2_TIME"`
	Argon2Parallelism int `mapstructure:"ARGON2_PARALLELISM"`

	// MaxActiveTokens caps active refresh tokens per user. Negative disables the limit.
	MaxActiveTokens int `mapstructure:"MAX_ACTIVE_TOKENS"`
	// RotationGracePeriod separates a concurrent refresh race from a replay (e.g. "30s").
	RotationGracePeriod string `mapstructure:"ROTATION_GRACE_PERIOD"`
	// RevokedRetentionDays is how long revoked refresh records are kept for reuse detection.
	RevokedRetentionDays int `mapstructure:"REVOKED_RETENTION_DAYS"`

	// BlacklistRetentionDays is how long blacklist entries are kept after insertion.
	BlacklistRetentionDays int `mapstructure:"BLACKLIST_RETENTION_DAYS"`
	// BlacklistBatchSize is the cleanup batch size.
	BlacklistBatchSize int `mapstructure:"BLACKLIST_BATCH_SIZE"`
	// BlacklistMaxEntries and BlacklistWarnEntries are the size thresholds reported by health.
	BlacklistMaxEntries  int64 `mapstructure:"BLACKLIST_MAX_ENTRIES"`
	BlacklistWarnEntries int64 `mapstructure:"BLACKLIST_WARN_ENTRIES"`
	// BlacklistCacheTTL caps how long a blacklist lookup is cached in Redis.
	BlacklistCacheTTL string `mapstructure:"BLACKLIST_CACHE_TTL"`

	// SessionIdleTimeout, SessionAbsoluteTimeout and SessionIPWindow tune the browser session guard.
	SessionIdleTimeout     string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	SessionAbsoluteTimeout string `mapstructure:"SESSION_ABSOLUTE_TIMEOUT"`
	SessionIPWindow        string `mapstructure:"SESSION_IP_WINDOW"`

	// PolicyPath is an optional Rego file overriding the built-in device-consistency policy.
	PolicyPath string `mapstructure:"POLICY_PATH"`
	// AdminUserIDs is a comma-separated list of user ids allowed to call AdminService.
	AdminUserIDs string `mapstructure:"ADMIN_USER_IDS"`
	// MaintenanceInterval is how often the worker purges expired records (e.g. "1h").
	MaintenanceInterval string `mapstructure:"MAINTENANCE_INTERVAL"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTELEndpoint is the OTLP gRPC collector. Empty disables export.
	OTELEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTELInsecure forces plaintext to the collector.
	OTELInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Security events (optional). When Kafka brokers are set, the server also emits events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for security events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL the worker forwards Kafka events to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "tl:")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ISSUER", "token-lifecycle-auth")
	v.SetDefault("JWT_AUDIENCE", "token-lifecycle-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_LEEWAY", "30s")
	v.SetDefault("JWT_MAX_FUTURE_IAT", "1m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("ARGON2_TIME", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("MAX_ACTIVE_TOKENS", 5)
	v.SetDefault("ROTATION_GRACE_PERIOD", "30s")
	v.SetDefault("REVOKED_RETENTION_DAYS", 30)
	v.SetDefault("BLACKLIST_RETENTION_DAYS", 30)
	v.SetDefault("BLACKLIST_BATCH_SIZE", 1000)
	v.SetDefault("BLACKLIST_MAX_ENTRIES", 1000000)
	v.SetDefault("BLACKLIST_WARN_ENTRIES", 800000)
	v.SetDefault("BLACKLIST_CACHE_TTL", "5m")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "2h")
	v.SetDefault("SESSION_ABSOLUTE_TIMEOUT", "8h")
	v.SetDefault("SESSION_IP_WINDOW", "5m")
	v.SetDefault("POLICY_PATH", "")
	v.SetDefault("ADMIN_USER_IDS", "")
	v.SetDefault("MAINTENANCE_INTERVAL", "1h")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "token-lifecycle")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "token-lifecycle-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "token-lifecycle-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.IsProduction() {
		if strings.TrimSpace(cfg.JWTPrivateKey) == "" {
			return nil, errors.New("config: JWT_PRIVATE_KEY must be set when APP_ENV=production")
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
		}
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.Argon2MemoryKiB < 0 || cfg.Argon2Time < 0 || cfg.Argon2Parallelism < 0 || cfg.Argon2Parallelism > 255 {
		return nil, errors.New("config: ARGON2_* parameters out of range")
	}
	if cfg.BlacklistWarnEntries > 0 && cfg.BlacklistMaxEntries > 0 && cfg.BlacklistWarnEntries > cfg.BlacklistMaxEntries {
		return nil, errors.New("config: BLACKLIST_WARN_ENTRIES must not exceed BLACKLIST_MAX_ENTRIES")
	}
	if _, err := cfg.AdminIDs(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// duration parses s, returning def when s is unset, invalid or not positive.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 168*time.Hour) }

// Leeway parses JWTLeeway. Returns 30s if unset or invalid.
func (c *Config) Leeway() time.Duration { return duration(c.JWTLeeway, 30*time.Second) }

// MaxFutureIssuedAt parses JWTMaxFutureIAT. Returns 1m if unset or invalid.
func (c *Config) MaxFutureIssuedAt() time.Duration { return duration(c.JWTMaxFutureIAT, time.Minute) }

// GracePeriod parses RotationGracePeriod. Returns 30s if unset or invalid.
func (c *Config) GracePeriod() time.Duration { return duration(c.RotationGracePeriod, 30*time.Second) }

// CacheTTL parses BlacklistCacheTTL. Returns 5m if unset or invalid.
func (c *Config) CacheTTL() time.Duration { return duration(c.BlacklistCacheTTL, 5*time.Minute) }

// IdleTimeout parses SessionIdleTimeout. Returns 2h if unset or invalid.
func (c *Config) IdleTimeout() time.Duration { return duration(c.SessionIdleTimeout, 2*time.Hour) }

// AbsoluteTimeout parses SessionAbsoluteTimeout. Returns 8h if unset or invalid.
func (c *Config) AbsoluteTimeout() time.Duration {
	return duration(c.SessionAbsoluteTimeout, 8*time.Hour)
}

// IPWindow parses SessionIPWindow. Returns 5m if unset or invalid.
func (c *Config) IPWindow() time.Duration { return duration(c.SessionIPWindow, 5*time.Minute) }

// Maintenance parses MaintenanceInterval. Returns 1h if unset or invalid.
func (c *Config) Maintenance() time.Duration { return duration(c.MaintenanceInterval, time.Hour) }

// AdminIDs parses AdminUserIDs. Blank entries are skipped.
func (c *Config) AdminIDs() ([]int64, error) {
	var ids []int64
	for _, part := range splitList(c.AdminUserIDs) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("config: ADMIN_USER_IDS: invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka sink is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
