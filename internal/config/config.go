// Package config provides centralized configuration management for the
// intake service. It loads configuration from environment variables with
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Validation ValidationConfig
	Merge      MergeConfig
	Artifacts  ArtifactConfig
	Redis      RedisConfig
	Notify     NotifyConfig
	Rules      RulesConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Janitor    JanitorConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including pipeline drain (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required when STORAGE_DRIVER=postgres.
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// StorageConfig selects the submission store.
type StorageConfig struct {
	// Driver is postgres or memory (default: postgres)
	Driver string `env:"STORAGE_DRIVER" default:"postgres"`
}

// UploadConfig holds chunked upload and pipeline settings.
type UploadConfig struct {
	// ChunkDir is where chunks are assembled before finalize.
	ChunkDir string `env:"UPLOAD_CHUNK_DIR" default:"data/chunks"`

	// MaxChunkSize is the largest accepted chunk in bytes (default: 8MB)
	MaxChunkSize int64 `env:"UPLOAD_MAX_CHUNK_SIZE" default:"8388608"`

	// MaxFileSize is the largest assembled file accepted at finalize (default: 512MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"536870912"`

	// MaxConcurrent is the number of pipelines that may run at once (default: 4)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long finalize waits for a pipeline slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds one pipeline run (default: 30m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"30m"`
}

// ValidationConfig controls the aggregate validator.
type ValidationConfig struct {
	// Workers is the number of records evaluated in parallel (default: 4)
	Workers int `env:"VALIDATION_WORKERS" default:"4"`

	// TemporaryFields are field codes watched for temporary values.
	TemporaryFields []string `env:"VALIDATION_TEMPORARY_FIELDS" default:"BID01,BRT02"`

	// TemporaryMarkers are the suffixes that mark a value as temporary.
	TemporaryMarkers []string `env:"VALIDATION_TEMPORARY_MARKERS" default:"TEMP,TMP,-T"`

	// SeverityFile is an optional YAML file mapping rule-id prefixes to severities.
	SeverityFile string `env:"VALIDATION_SEVERITY_FILE"`
}

// MergeConfig controls retries of the merge transaction.
type MergeConfig struct {
	MaxAttempts int           `env:"MERGE_MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `env:"MERGE_RETRY_BASE_DELAY" default:"100ms"`
	MaxDelay    time.Duration `env:"MERGE_RETRY_MAX_DELAY" default:"2s"`
}

// ArtifactConfig selects where uploaded files and report workbooks are kept.
type ArtifactConfig struct {
	// Driver is local or s3 (default: local)
	Driver string `env:"ARTIFACT_DRIVER" default:"local"`

	Dir string `env:"ARTIFACT_DIR" default:"data/artifacts"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" default:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3UseSSL    bool   `env:"S3_USE_SSL" default:"true"`
}

// RedisConfig enables progress publishing over Redis pub/sub.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" default:"false"`
	Addr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" default:"0"`

	// ChannelPrefix is prepended to the correlation id (default: intake:progress:)
	ChannelPrefix string `env:"REDIS_PROGRESS_PREFIX" default:"intake:progress:"`
}

// NotifyConfig configures workflow notifications. With no webhook URL,
// notifications are only logged.
type NotifyConfig struct {
	WebhookURL   string        `env:"NOTIFY_WEBHOOK_URL"`
	Timeout      time.Duration `env:"NOTIFY_TIMEOUT" default:"10s"`
	RetryCount   int           `env:"NOTIFY_RETRY_COUNT" default:"3"`
	AttachReport bool          `env:"NOTIFY_ATTACH_REPORT" default:"true"`
}

// RulesConfig configures the rule-evaluation collaborator.
type RulesConfig struct {
	// RemoteURL, when set, sends every record to an external rule engine in
	// addition to the built-in structural rules.
	RemoteURL  string        `env:"RULES_REMOTE_URL"`
	Timeout    time.Duration `env:"RULES_TIMEOUT" default:"10s"`
	RetryCount int           `env:"RULES_RETRY_COUNT" default:"2"`
	APIKey     string        `env:"RULES_API_KEY"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// FinalizeLimit is requests per minute for finalize (default: 10)
	FinalizeLimit int `env:"RATE_LIMIT_FINALIZE" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects requests without a valid X-API-Key header.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// JanitorConfig controls the abandoned-upload sweeper.
type JanitorConfig struct {
	// MaxUploadAge is how long an unfinalized upload may sit idle (default: 24h)
	MaxUploadAge time.Duration `env:"JANITOR_MAX_UPLOAD_AGE" default:"24h"`

	// CheckInterval is how often the sweeper runs (default: 1h)
	CheckInterval time.Duration `env:"JANITOR_CHECK_INTERVAL" default:"1h"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
