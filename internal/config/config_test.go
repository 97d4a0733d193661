package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, 0.7, cfg.Curator.ConfidenceThreshold)
	assert.Equal(t, 100, cfg.Curator.AutoFlagLimit)
	assert.Equal(t, 1000, cfg.Curator.ExportLimit)
	assert.Equal(t, 50, cfg.Curator.PendingLimit)
	assert.Equal(t, int64(10*1024*1024), cfg.Server.MaxUploadSize)
	assert.Zero(t, cfg.Analysis.InferenceRetries, "inference retries are opt-in")
	assert.Equal(t, 500*time.Millisecond, cfg.Analysis.RetryBaseWait)
	assert.Empty(t, cfg.Redis.Addr, "redis lock is opt-in")
	assert.Empty(t, cfg.Kafka.Brokers, "kafka publishing is opt-in")
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
inference:
  base_url: http://ml:5001
  timeout: 45s
analysis:
  workers: 8
curator:
  confidence_threshold: 0.6
kafka:
  brokers: [broker-a:9092]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ANALYSIS_WORKERS", "2")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port, "file value should apply")
	assert.Equal(t, "http://ml:5001", cfg.Inference.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, 0.6, cfg.Curator.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Analysis.Workers, "environment overrides the file")
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 256, cfg.Analysis.QueueSize, "unset fields keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Analysis.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Curator.ConfidenceThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Analysis.InferenceRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Analytics.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "scans", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/scans?sslmode=require", d.DSN())
}
