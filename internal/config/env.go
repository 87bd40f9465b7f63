// Package config loads runtime settings. Values are layered: defaults, then
// an optional YAML file (CONFIG_FILE), then environment variables (including
// a .env file). Environment variables always win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

type Config struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	VectorBackend string `yaml:"vector_backend"`
	DatabaseURL   string `yaml:"database_url"`
	SslCertPath   string `yaml:"ssl_cert_path"`
	SQLitePath    string `yaml:"sqlite_path"`

	AwsAccessKey string `yaml:"aws_access_key"`
	AwsSecretKey string `yaml:"aws_secret_key"`
	AwsRegion    string `yaml:"aws_region"`
	BucketName   string `yaml:"bucket_name"`

	EmbedProvider     string        `yaml:"embed_provider"`
	AIAPIKey          string        `yaml:"gemini_api_key"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	EmbedModel        string        `yaml:"embed_model"`
	EmbedDim          int           `yaml:"embed_dim"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
	EmbedBatchDelay   time.Duration `yaml:"embed_batch_delay"`
	EmbedMaxAttempts  int           `yaml:"embed_max_attempts"`
	EmbedRetryBase    time.Duration `yaml:"embed_retry_base"`
	EmbedRateLimit    float64       `yaml:"embed_rate_limit"` // provider calls per second, 0 disables
	EmbedDimPolicy    string        `yaml:"embed_dimension_policy"`
	EmbedQueryPrefix  string        `yaml:"embed_query_prefix"`
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkOverlap      int           `yaml:"chunk_overlap"`
	IngestWorkers     int           `yaml:"ingest_workers"`
	IngestQueueSize   int           `yaml:"ingest_queue_size"`
	IngestJobTimeout  time.Duration `yaml:"ingest_job_timeout"`
	StatusDir         string        `yaml:"status_dir"` // empty keeps job status in memory
	StatusTTL         time.Duration `yaml:"status_ttl"`
	ReadabilityFilter bool          `yaml:"readability_filter"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the configuration used before any file or env override.
func Defaults() *Config {
	return &Config{
		Port:             "8080",
		CORSOrigins:      []string{"http://localhost:5173"},
		VectorBackend:    BackendPostgres,
		SQLitePath:       "docindex.db",
		AwsRegion:        "us-east-2",
		EmbedProvider:    ProviderGemini,
		EmbedModel:       "text-embedding-004",
		EmbedDim:         768,
		EmbedBatchSize:   100,
		EmbedBatchDelay:  100 * time.Millisecond,
		EmbedMaxAttempts: 3,
		EmbedRetryBase:   500 * time.Millisecond,
		EmbedDimPolicy:   "strict",
		ChunkSize:        1000,
		ChunkOverlap:     200,
		IngestWorkers:    4,
		IngestQueueSize:  64,
		IngestJobTimeout: 30 * time.Minute,
		StatusTTL:        24 * time.Hour,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadConfig reads .env, the optional YAML file and the environment, then
// validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	if v := getEnv("CORS_ORIGINS", ""); v != "" {
		c.CORSOrigins = splitList(v)
	}

	c.VectorBackend = strings.ToLower(getEnv("VECTOR_BACKEND", c.VectorBackend))
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SslCertPath = getEnv("SSL_CERT_PATH", c.SslCertPath)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.AwsAccessKey = getEnv("AWS_ACCESS_KEY", c.AwsAccessKey)
	c.AwsSecretKey = getEnv("AWS_SECRET_KEY", c.AwsSecretKey)
	c.AwsRegion = getEnv("AWS_REGION", c.AwsRegion)
	c.BucketName = getEnv("BUCKET_NAME", c.BucketName)

	c.EmbedProvider = strings.ToLower(getEnv("EMBED_PROVIDER", c.EmbedProvider))
	c.AIAPIKey = getEnv("GEMINI_API_KEY", c.AIAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.EmbedModel = getEnv("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = getEnvInt("EMBED_DIM", c.EmbedDim)
	c.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", c.EmbedBatchSize)
	c.EmbedBatchDelay = getEnvDuration("EMBED_BATCH_DELAY", c.EmbedBatchDelay)
	c.EmbedMaxAttempts = getEnvInt("EMBED_MAX_ATTEMPTS", c.EmbedMaxAttempts)
	c.EmbedRetryBase = getEnvDuration("EMBED_RETRY_BASE", c.EmbedRetryBase)
	c.EmbedRateLimit = getEnvFloat("EMBED_RATE_LIMIT", c.EmbedRateLimit)
	c.EmbedDimPolicy = strings.ToLower(getEnv("EMBED_DIMENSION_POLICY", c.EmbedDimPolicy))
	c.EmbedQueryPrefix = getEnv("EMBED_QUERY_PREFIX", c.EmbedQueryPrefix)

	c.ChunkSize = getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.IngestWorkers = getEnvInt("INGEST_WORKERS", c.IngestWorkers)
	c.IngestQueueSize = getEnvInt("INGEST_QUEUE_SIZE", c.IngestQueueSize)
	c.IngestJobTimeout = getEnvDuration("INGEST_JOB_TIMEOUT", c.IngestJobTimeout)
	c.StatusDir = getEnv("STATUS_DIR", c.StatusDir)
	c.StatusTTL = getEnvDuration("STATUS_TTL", c.StatusTTL)
	c.ReadabilityFilter = getEnvBool("READABILITY_FILTER", c.ReadabilityFilter)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.VectorBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("VECTOR_BACKEND %q is not one of postgres, sqlite", c.VectorBackend))
	}

	switch c.EmbedProvider {
	case ProviderGemini:
		if c.AIAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_BASE_URL must be set"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q is not one of gemini, openai, mock", c.EmbedProvider))
	}

	if c.EmbedDimPolicy != "strict" && c.EmbedDimPolicy != "warn" {
		errs = append(errs, fmt.Errorf("EMBED_DIMENSION_POLICY %q is not one of strict, warn", c.EmbedDimPolicy))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, errors.New("EMBED_DIM must be positive"))
	}
	if c.EmbedBatchSize <= 0 {
		errs = append(errs, errors.New("EMBED_BATCH_SIZE must be positive"))
	}
	if c.EmbedMaxAttempts <= 0 {
		errs = append(errs, errors.New("EMBED_MAX_ATTEMPTS must be positive"))
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP (%d) must be in [0, CHUNK_SIZE=%d)", c.ChunkOverlap, c.ChunkSize))
	}
	if c.IngestWorkers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// Storage reports whether object storage is configured.
func (c *Config) Storage() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
