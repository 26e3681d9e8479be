package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// DatabaseConfig selects the directory backend.
type DatabaseConfig struct {
	Driver string // "sqlite"|"postgres"
	DSN    string
}

// RedisConfig is optional; an empty URL keeps locks and breaker state in-process.
type RedisConfig struct {
	URL string
}

// BlobConfig selects and configures the blob store backend.
type BlobConfig struct {
	Backend            string // "local"|"s3"|"gcs"
	LocalRoot          string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	GCSBucket          string
	GCSCredentials     string
	EncryptionPassword string
	SignedURLTTL       time.Duration
	MaxUploadBytes     int64
}

// RasterConfig fixes page rendering parameters.
type RasterConfig struct {
	DPI       int
	Quality   int
	Grayscale bool
}

// ProvidersConfig defines scoring engines and models per provider.
type ProvidersConfig struct {
	PrimaryEngine      string // "openai"|"anthropic"
	SecondaryEngine    string // "anthropic"|"openai"|""
	OpenAIKey          string
	OpenAIModel        string
	AnthropicKey       string
	AnthropicModel     string
	BreakerBaseBackoff time.Duration
	BreakerMaxBackoff  time.Duration
	MaxInflight        int
}

// EvaluationConfig controls the deadline sweep.
type EvaluationConfig struct {
	Enabled       bool
	Interval      time.Duration
	ScoreTimeout  time.Duration
	LockTTL       time.Duration
	MaxAttempts   int
	FeedbackLimit int
}

// NotifyConfig defines where notifications are fanned out besides the database.
type NotifyConfig struct {
	Stream      string
	NATSURL     string
	NATSSubject string
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Blob       BlobConfig
	Raster     RasterConfig
	Providers  ProvidersConfig
	Evaluation EvaluationConfig
	Notify     NotifyConfig
	HTTP       HTTPConfig
}

// Load reads an optional .env file and then builds the config from the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/notesync.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_notesync",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DSN:    getEnv("DATABASE_URL", "notesync.db"),
	}

	cfg.Redis = RedisConfig{URL: getEnv("REDIS_URL", "")}

	cfg.Blob = BlobConfig{
		Backend:            strings.ToLower(getEnv("BLOB_BACKEND", "local")),
		LocalRoot:          getEnv("BLOB_LOCAL_ROOT", "storage"),
		S3Bucket:           getEnv("AWS_S3_BUCKET", ""),
		S3Region:           getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3AccessKey:        getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentials:     getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		EncryptionPassword: getEnv("BLOB_ENCRYPTION_PASSWORD", ""),
		SignedURLTTL:       parseDuration(getEnv("SIGNED_URL_TTL", "15m"), 15*time.Minute),
		MaxUploadBytes:     int64(parseInt(getEnv("MAX_UPLOAD_MB", "50"), 50)) << 20,
	}

	cfg.Raster = RasterConfig{
		DPI:       parseInt(getEnv("PAGE_DPI", "150"), 150),
		Quality:   parseInt(getEnv("PAGE_JPEG_QUALITY", "85"), 85),
		Grayscale: parseBool(getEnv("PAGE_GRAYSCALE", "false")),
	}

	cfg.Providers = ProvidersConfig{
		PrimaryEngine:      strings.ToLower(getEnv("PRIMARY_ENGINE", "openai")),
		SecondaryEngine:    strings.ToLower(getEnv("SECONDARY_ENGINE", "anthropic")),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicKey:       getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		BreakerBaseBackoff: parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:  parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
		MaxInflight:        parseInt(getEnv("PROVIDER_MAX_INFLIGHT", "2"), 2),
	}

	cfg.Evaluation = EvaluationConfig{
		Enabled:       parseBool(getEnv("RUN_SCHEDULER", "true")),
		Interval:      parseDuration(getEnv("EVAL_INTERVAL", "1h"), time.Hour),
		ScoreTimeout:  parseDuration(getEnv("SCORE_TIMEOUT", "120s"), 120*time.Second),
		LockTTL:       parseDuration(getEnv("EVAL_LOCK_TTL", "30m"), 30*time.Minute),
		MaxAttempts:   parseInt(getEnv("EVAL_MAX_ATTEMPTS", "0"), 0),
		FeedbackLimit: parseInt(getEnv("FEEDBACK_LIMIT", "5"), 5),
	}
	if cfg.Evaluation.Interval <= 0 {
		cfg.Evaluation.Interval = time.Hour
	}
	if cfg.Evaluation.MaxAttempts < 0 {
		cfg.Evaluation.MaxAttempts = 0
	}

	cfg.Notify = NotifyConfig{
		Stream:      getEnv("NOTIFY_STREAM", "notifications"),
		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "notesync.notifications"),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
