package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Inference InferenceConfig `yaml:"inference"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Curator   CuratorConfig   `yaml:"curator"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxUploadSize  int64         `yaml:"max_upload_size"` // bytes
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	Issuer      string `yaml:"issuer"`
	ExpiryHours int    `yaml:"expiry_hours"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// InferenceConfig points at the external ML prediction service.
type InferenceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	ModelVersion string        `yaml:"model_version"`
}

// StorageConfig configures the S3-compatible image bucket. Endpoint is
// optional and only needed for non-AWS stores such as MinIO.
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PublicBaseURL   string `yaml:"public_base_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ThumbnailSize   int    `yaml:"thumbnail_size"`
	MaxImagePixels  int    `yaml:"max_image_pixels"`
}

// RedisConfig enables the distributed scan lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AnalysisConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// StaleAfter lets a scan stuck mid-analysis be claimed again.
	StaleAfter time.Duration `yaml:"stale_after"`

	// InferenceRetries bounds repeat calls on a transient inference error
	// within a single attempt.
	InferenceRetries int           `yaml:"inference_retries"`
	RetryBaseWait    time.Duration `yaml:"retry_base_wait"`
}

type AnalyticsConfig struct {
	Timezone       string        `yaml:"timezone"`
	RollupInterval time.Duration `yaml:"rollup_interval"`
}

type CuratorConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	AutoFlagLimit       int     `yaml:"auto_flag_limit"`
	ExportLimit         int     `yaml:"export_limit"`
	PendingLimit        int     `yaml:"pending_limit"`
	FlagOnAnalysis      bool    `yaml:"flag_on_analysis"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadSize:  10 * 1024 * 1024,
			IdempotencyTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "pamada",
			Password: "pamada_dev_password",
			DBName:   "pamada",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		JWT: JWTConfig{
			Secret:      "dev-secret-change-in-production",
			Issuer:      "pamada",
			ExpiryHours: 24,
		},
		Log: LogConfig{Level: "info"},
		Inference: InferenceConfig{
			BaseURL:      "http://localhost:5000",
			Timeout:      30 * time.Second,
			ModelVersion: "1.0.0",
		},
		Storage: StorageConfig{
			Bucket:         "pamada-scans",
			Region:         "us-east-1",
			ThumbnailSize:  300,
			MaxImagePixels: 40_000_000,
		},
		Redis: RedisConfig{LockTTL: 5 * time.Minute},
		Kafka: KafkaConfig{Topic: "pamada.scan-events"},
		Analysis: AnalysisConfig{
			Workers:       4,
			QueueSize:     256,
			StaleAfter:    10 * time.Minute,
			RetryBaseWait: 500 * time.Millisecond,
		},
		Analytics: AnalyticsConfig{
			Timezone:       "UTC",
			RollupInterval: time.Hour,
		},
		Curator: CuratorConfig{
			ConfidenceThreshold: 0.7,
			AutoFlagLimit:       100,
			ExportLimit:         1000,
			PendingLimit:        50,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)

	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	if mb := getIntEnv("UPLOAD_MAX_SIZE_MB", 0); mb > 0 {
		cfg.Server.MaxUploadSize = int64(mb) * 1024 * 1024
	}
	cfg.Server.IdempotencyTTL = getDurationEnv("IDEMPOTENCY_TTL", cfg.Server.IdempotencyTTL)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = getIntEnv("DB_MAX_CONNS", cfg.Database.MaxConns)

	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.ExpiryHours = getIntEnv("JWT_EXPIRY_HOURS", cfg.JWT.ExpiryHours)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Inference.BaseURL = getEnv("ML_SERVICE_URL", cfg.Inference.BaseURL)
	cfg.Inference.Timeout = getDurationEnv("ML_SERVICE_TIMEOUT", cfg.Inference.Timeout)
	cfg.Inference.ModelVersion = getEnv("MODEL_VERSION", cfg.Inference.ModelVersion)

	cfg.Storage.Bucket = getEnv("STORAGE_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Region = getEnv("STORAGE_REGION", cfg.Storage.Region)
	cfg.Storage.Endpoint = getEnv("STORAGE_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.PublicBaseURL = getEnv("STORAGE_PUBLIC_BASE_URL", cfg.Storage.PublicBaseURL)
	cfg.Storage.AccessKeyID = getEnv("STORAGE_ACCESS_KEY_ID", cfg.Storage.AccessKeyID)
	cfg.Storage.SecretAccessKey = getEnv("STORAGE_SECRET_ACCESS_KEY", cfg.Storage.SecretAccessKey)
	cfg.Storage.ThumbnailSize = getIntEnv("STORAGE_THUMBNAIL_SIZE", cfg.Storage.ThumbnailSize)
	cfg.Storage.MaxImagePixels = getIntEnv("STORAGE_MAX_IMAGE_PIXELS", cfg.Storage.MaxImagePixels)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getIntEnv("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.LockTTL = getDurationEnv("REDIS_LOCK_TTL", cfg.Redis.LockTTL)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Analysis.Workers = getIntEnv("ANALYSIS_WORKERS", cfg.Analysis.Workers)
	cfg.Analysis.QueueSize = getIntEnv("ANALYSIS_QUEUE_SIZE", cfg.Analysis.QueueSize)
	cfg.Analysis.StaleAfter = getDurationEnv("ANALYSIS_STALE_AFTER", cfg.Analysis.StaleAfter)
	cfg.Analysis.InferenceRetries = getIntEnv("ANALYSIS_INFERENCE_RETRIES", cfg.Analysis.InferenceRetries)
	cfg.Analysis.RetryBaseWait = getDurationEnv("ANALYSIS_RETRY_BASE_WAIT", cfg.Analysis.RetryBaseWait)

	cfg.Analytics.Timezone = getEnv("ANALYTICS_TIMEZONE", cfg.Analytics.Timezone)
	cfg.Analytics.RollupInterval = getDurationEnv("ANALYTICS_ROLLUP_INTERVAL", cfg.Analytics.RollupInterval)

	cfg.Curator.ConfidenceThreshold = getFloatEnv("CURATOR_CONFIDENCE_THRESHOLD", cfg.Curator.ConfidenceThreshold)
	cfg.Curator.AutoFlagLimit = getIntEnv("CURATOR_AUTO_FLAG_LIMIT", cfg.Curator.AutoFlagLimit)
	cfg.Curator.ExportLimit = getIntEnv("CURATOR_EXPORT_LIMIT", cfg.Curator.ExportLimit)
	cfg.Curator.PendingLimit = getIntEnv("CURATOR_PENDING_LIMIT", cfg.Curator.PendingLimit)
	cfg.Curator.FlagOnAnalysis = getBoolEnv("CURATOR_FLAG_ON_ANALYSIS", cfg.Curator.FlagOnAnalysis)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis workers must be at least 1, got %d", c.Analysis.Workers)
	}
	if c.Analysis.QueueSize < 1 {
		return fmt.Errorf("analysis queue size must be at least 1, got %d", c.Analysis.QueueSize)
	}
	if c.Analysis.InferenceRetries < 0 {
		return fmt.Errorf("analysis inference retries must not be negative, got %d", c.Analysis.InferenceRetries)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference timeout must be positive")
	}
	if c.Curator.ConfidenceThreshold < 0 || c.Curator.ConfidenceThreshold > 1 {
		return fmt.Errorf("curator confidence threshold must be within [0,1], got %v", c.Curator.ConfidenceThreshold)
	}
	if _, err := time.LoadLocation(c.Analytics.Timezone); err != nil {
		return fmt.Errorf("analytics timezone: %w", err)
	}
	return nil
}

// IsProduction reports whether development-only endpoints must be disabled.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location returns the timezone used for analytics day boundaries.
func (a AnalyticsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the Postgres connection string.
func (d *DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
