package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", config.Logger.Level)
	assert.Equal(t, ":8080", config.Server.Address)
	assert.Empty(t, config.Database.DSN)
	assert.Equal(t, 50, config.Scoring.DailyCap)
	assert.Equal(t, 20, config.Scoring.ServiceCap)
	assert.Equal(t, 30*time.Minute, config.Ingestion.Interval)
	assert.Equal(t, 7*24*time.Hour, config.Ingestion.Lookback)
	assert.Equal(t, "cloudtrail-logs-42", config.S3.Bucket(42))
	assert.Empty(t, config.Kafka.Brokers)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: DEBUG
server:
  address: ":9090"
  sample_dir: ./sample_logs
database:
  dsn: postgres://cloudproof@localhost/cloudproof?sslmode=disable
  connect_attempts: 3
  connect_backoff: 500ms
ingestion:
  interval: 1h
s3:
  endpoint: http://localhost:9000
  use_path_style: true
kafka:
  brokers: [localhost:9092]
  topic: activities
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", config.Logger.Level)
	assert.Equal(t, ":9090", config.Server.Address)
	assert.Equal(t, "./sample_logs", config.Server.SampleDir)
	assert.Equal(t, 3, config.Database.ConnectAttempts)
	assert.Equal(t, 500*time.Millisecond, config.Database.ConnectBackoff)
	assert.Equal(t, time.Hour, config.Ingestion.Interval)
	assert.True(t, config.S3.UsePathStyle)
	assert.Equal(t, "AWSLogs/", config.S3.Prefix, "unset keys keep defaults")
	assert.Equal(t, []string{"localhost:9092"}, config.Kafka.Brokers)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("CLOUDPROOF_DATABASE_DSN", "postgres://env")
	t.Setenv("CLOUDPROOF_LOGGER_LEVEL", "warn")

	config, err := LoadConfig(writeConfig(t, "logger:\n  level: info\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", config.Database.DSN)
	assert.Equal(t, "warn", config.Logger.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")

	_, err = LoadConfig(writeConfig(t, "logger: [broken"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "logger:\n  level: verbose\n"))
	assert.ErrorContains(t, err, "invalid config")
}

func TestAppConfig_Validate(t *testing.T) {
	valid := func() *AppConfig {
		config, err := LoadConfig("")
		require.NoError(t, err)
		return config
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		errMsg string
	}{
		{name: "empty level", mutate: func(c *AppConfig) { c.Logger.Level = "" }, errMsg: "logger.level"},
		{name: "empty address", mutate: func(c *AppConfig) { c.Server.Address = "" }, errMsg: "server.address"},
		{name: "zero timeout", mutate: func(c *AppConfig) { c.Server.WriteTimeout = 0 }, errMsg: "timeouts"},
		{name: "no attempts", mutate: func(c *AppConfig) { c.Database.ConnectAttempts = 0 }, errMsg: "connect_attempts"},
		{name: "zero cap", mutate: func(c *AppConfig) { c.Scoring.DailyCap = 0 }, errMsg: "caps"},
		{name: "service cap above daily", mutate: func(c *AppConfig) { c.Scoring.ServiceCap = 60 }, errMsg: "service_cap"},
		{name: "zero interval", mutate: func(c *AppConfig) { c.Ingestion.Interval = 0 }, errMsg: "interval"},
		{name: "zero lookback", mutate: func(c *AppConfig) { c.Ingestion.Lookback = 0 }, errMsg: "lookback"},
		{name: "zero history", mutate: func(c *AppConfig) { c.Ingestion.HistoryLength = 0 }, errMsg: "history_length"},
		{name: "bucket template", mutate: func(c *AppConfig) { c.S3.BucketTemplate = "static-bucket" }, errMsg: "bucket_template"},
		{name: "kafka topic", mutate: func(c *AppConfig) { c.Kafka.Brokers = []string{"b:9092"}; c.Kafka.Topic = "" }, errMsg: "kafka.topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			assert.ErrorContains(t, config.Validate(), tt.errMsg)
		})
	}
}

func TestJournalConfig_ValidateFillsDefaults(t *testing.T) {
	journal := JournalConfig{File: "activities.jsonl"}

	require.NoError(t, journal.Validate())
	assert.Equal(t, 100, journal.MaxSize)
	assert.Equal(t, 20, journal.MaxBackups)
}
