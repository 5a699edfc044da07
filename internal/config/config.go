// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCHealthAddr is the address of the gRPC health server; empty disables it.
	GRPCHealthAddr string `mapstructure:"GRPC_HEALTH_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory storage (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// JWTSecret is the HS256 signing secret. Either this or the key pair must be set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim of access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim of device access tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTWebAudience is the aud claim of web-session tokens accepted on link claim.
	JWTWebAudience string `mapstructure:"JWT_WEB_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "1440h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTClockSkew is the leeway applied to exp/iat/nbf during verification.
	JWTClockSkew string `mapstructure:"JWT_CLOCK_SKEW"`
	// TokenScope is the scope granted to device access tokens.
	TokenScope string `mapstructure:"TOKEN_SCOPE"`
	// RefreshReuseDetection revokes a device's refresh tokens when a rotated token is replayed.
	RefreshReuseDetection bool `mapstructure:"REFRESH_REUSE_DETECTION"`

	LinkCodeLength          int    `mapstructure:"LINK_CODE_LENGTH"`
	LinkCodeTTL             string `mapstructure:"LINK_CODE_TTL"`
	LinkCodeMaxAttempts     int    `mapstructure:"LINK_CODE_MAX_ATTEMPTS"`
	LinkCodeRateLimitWindow string `mapstructure:"LINK_CODE_RATE_LIMIT_WINDOW"`
	LinkCodeRateLimitMax    int    `mapstructure:"LINK_CODE_RATE_LIMIT_MAX"`

	// ExtensionLinkMaxFailures is the number of failed claims from one IP that triggers a lockout.
	ExtensionLinkMaxFailures   int    `mapstructure:"EXTENSION_LINK_MAX_FAILURES"`
	ExtensionLinkFailureWindow string `mapstructure:"EXTENSION_LINK_FAILURE_WINDOW"`
	ExtensionLinkLockout       string `mapstructure:"EXTENSION_LINK_LOCKOUT"`

	// IngestBurstMax is the number of sessions a device may submit per 60s.
	IngestBurstMax int `mapstructure:"INGEST_BURST_MAX"`
	// IngestDailyMax is the number of sessions a user may submit per UTC day.
	IngestDailyMax int `mapstructure:"INGEST_DAILY_MAX"`

	// WebAPIKey lets the trusted web tier claim link codes on behalf of a user.
	WebAPIKey string `mapstructure:"WEB_API_KEY"`
	// TrustProxyHeaders honours X-Forwarded-For and X-Real-IP for client IP resolution.
	TrustProxyHeaders bool `mapstructure:"TRUSTED_PROXY_HEADERS"`

	// LinkWebhookURL receives a notification when a device is linked. Optional.
	LinkWebhookURL string `mapstructure:"LINK_WEBHOOK_URL"`

	// Telemetry (optional). When Kafka brokers are set, the server emits telemetry to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RetentionSweepSchedule is a cron expression for the retention sweeper (e.g. "@every 10m").
	RetentionSweepSchedule string `mapstructure:"RETENTION_SWEEP_SCHEDULE"`
	// RefreshTokenRetention is how long revoked or expired refresh tokens are kept.
	RefreshTokenRetention string `mapstructure:"REFRESH_TOKEN_RETENTION"`
	// AuditLogRetention is how long audit entries are kept.
	AuditLogRetention string `mapstructure:"AUDIT_LOG_RETENTION"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_HEALTH_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "distrack.backend")
	v.SetDefault("JWT_AUDIENCE", "distrack.api")
	v.SetDefault("JWT_WEB_AUDIENCE", "distrack.web")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "1440h") // 60d
	v.SetDefault("JWT_CLOCK_SKEW", "2m")
	v.SetDefault("TOKEN_SCOPE", "write:sessions")
	v.SetDefault("REFRESH_REUSE_DETECTION", true)
	v.SetDefault("LINK_CODE_LENGTH", 6)
	v.SetDefault("LINK_CODE_TTL", "10m")
	v.SetDefault("LINK_CODE_MAX_ATTEMPTS", 5)
	v.SetDefault("LINK_CODE_RATE_LIMIT_WINDOW", "10m")
	v.SetDefault("LINK_CODE_RATE_LIMIT_MAX", 5)
	v.SetDefault("EXTENSION_LINK_MAX_FAILURES", 10)
	v.SetDefault("EXTENSION_LINK_FAILURE_WINDOW", "15m")
	v.SetDefault("EXTENSION_LINK_LOCKOUT", "15m")
	v.SetDefault("INGEST_BURST_MAX", 30)
	v.SetDefault("INGEST_DAILY_MAX", 2000)
	v.SetDefault("WEB_API_KEY", "")
	v.SetDefault("TRUSTED_PROXY_HEADERS", true)
	v.SetDefault("LINK_WEBHOOK_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "distrack.telemetry")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "distrack-backend")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "distrack-worker")
	v.SetDefault("RETENTION_SWEEP_SCHEDULE", "@every 10m")
	v.SetDefault("REFRESH_TOKEN_RETENTION", "2160h") // 90d
	v.SetDefault("AUDIT_LOG_RETENTION", "8760h")     // 365d

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return nil, errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if (cfg.JWTPrivateKey == "") != (cfg.JWTPublicKey == "") {
		return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if cfg.Env == "production" && cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY/JWT_PUBLIC_KEY must be set when APP_ENV=production")
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.LinkCodeLength < 4 || cfg.LinkCodeLength > 16 {
		return nil, errors.New("config: LINK_CODE_LENGTH must be between 4 and 16")
	}
	if cfg.LinkCodeMaxAttempts <= 0 {
		cfg.LinkCodeMaxAttempts = 5
	}
	if cfg.LinkCodeRateLimitMax <= 0 || cfg.ExtensionLinkMaxFailures <= 0 {
		return nil, errors.New("config: LINK_CODE_RATE_LIMIT_MAX and EXTENSION_LINK_MAX_FAILURES must be positive")
	}
	if cfg.IngestBurstMax <= 0 || cfg.IngestDailyMax <= 0 {
		return nil, errors.New("config: INGEST_BURST_MAX and INGEST_DAILY_MAX must be positive")
	}
	if !slices.Contains(strings.Fields(cfg.TokenScope), "write:sessions") {
		return nil, errors.New("config: TOKEN_SCOPE must include write:sessions")
	}

	return &cfg, nil
}

// parseDuration returns s as a positive duration, or fallback if unset or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, 15*time.Minute) }

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 60 days if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return parseDuration(c.JWTRefreshTTL, 1440*time.Hour) }

// ClockSkew parses JWTClockSkew. Returns 2m if unset or invalid.
func (c *Config) ClockSkew() time.Duration { return parseDuration(c.JWTClockSkew, 2*time.Minute) }

// LinkTTL is how long a link code and its poll token stay valid.
func (c *Config) LinkTTL() time.Duration { return parseDuration(c.LinkCodeTTL, 10*time.Minute) }

// LinkRateWindow is the window for link-code issuance limits.
func (c *Config) LinkRateWindow() time.Duration {
	return parseDuration(c.LinkCodeRateLimitWindow, 10*time.Minute)
}

// LinkFailureWindow is the window in which failed claims are counted towards a lockout.
func (c *Config) LinkFailureWindow() time.Duration {
	return parseDuration(c.ExtensionLinkFailureWindow, 15*time.Minute)
}

// LinkLockout is how long an IP stays locked out after too many failed claims.
func (c *Config) LinkLockout() time.Duration {
	return parseDuration(c.ExtensionLinkLockout, 15*time.Minute)
}

// RefreshRetention is how long revoked or expired refresh tokens are kept before the sweeper deletes them.
func (c *Config) RefreshRetention() time.Duration {
	return parseDuration(c.RefreshTokenRetention, 2160*time.Hour)
}

// AuditRetention is how long audit entries are kept before the sweeper deletes them.
func (c *Config) AuditRetention() time.Duration {
	return parseDuration(c.AuditLogRetention, 8760*time.Hour)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
