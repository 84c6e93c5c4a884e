package configuration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CLOUDPROOF_DATABASE_DSN.
const EnvPrefix = "CLOUDPROOF"

// AppConfig represents the complete application configuration.
type AppConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	S3        S3Config        `mapstructure:"s3"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// LoggerConfig defines logging settings.
type LoggerConfig struct {
	// Level: log level: debug, info, warn, warning, error (case-insensitive).
	Level string `mapstructure:"level"`
	// File: rotating log file. Empty means stdout.
	File string `mapstructure:"file"`
	// MaxSize: size in megabytes before rotation.
	MaxSize int `mapstructure:"max_size"`
	// MaxBackups: number of rotated files kept.
	MaxBackups int `mapstructure:"max_backups"`
}

// ServerConfig contains HTTP server parameters.
type ServerConfig struct {
	// Address: address and port to listen on (e.g., ":8080").
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SampleDir: directory of local CloudTrail files. Empty disables local ingestion over HTTP.
	SampleDir string `mapstructure:"sample_dir"`
}

// DatabaseConfig defines the Postgres connection. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
}

// ScoringConfig defines the scoring table and caps.
type ScoringConfig struct {
	// Table: YAML scoring table. Empty uses the built-in table.
	Table      string `mapstructure:"table"`
	DailyCap   int    `mapstructure:"daily_cap"`
	ServiceCap int    `mapstructure:"service_cap"`
}

// IngestionConfig defines the scheduler and run history.
type IngestionConfig struct {
	// Interval: pause between scheduled passes over all users.
	Interval time.Duration `mapstructure:"interval"`
	// Lookback: window scanned for users without a checkpoint.
	Lookback time.Duration `mapstructure:"lookback"`
	// HistoryLength: run reports kept per user.
	HistoryLength int `mapstructure:"history_length"`
	// HistoryTTL: idle time after which a user's run history is dropped.
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// S3Config defines the CloudTrail bucket access.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	// BucketTemplate: fmt pattern receiving the user id, e.g. "cloudtrail-logs-%d".
	BucketTemplate string `mapstructure:"bucket_template"`
	Prefix         string `mapstructure:"prefix"`
}

// JournalConfig defines the activity journal. An empty file disables it.
type JournalConfig struct {
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// KafkaConfig defines the activity fan-out. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// TracingConfig defines the OTLP exporter. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Validate checks every section and returns the first error.
func (c *AppConfig) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Logger, &c.Server, &c.Database, &c.Scoring, &c.Ingestion, &c.S3, &c.Journal, &c.Kafka,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the log level is one of debug, info, warn, warning, error.
func (l *LoggerConfig) Validate() error {
	if l.Level == "" {
		return errors.New("logger.level: must be specified")
	}

	valid := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !valid[strings.ToLower(l.Level)] {
		return fmt.Errorf("logger.level: unsupported level '%s'", l.Level)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return errors.New("server.address: must be specified")
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return errors.New("server: timeouts must be positive")
	}
	return nil
}

func (d *DatabaseConfig) Validate() error {
	if d.ConnectAttempts < 1 {
		return errors.New("database.connect_attempts: must be at least 1")
	}
	return nil
}

func (s *ScoringConfig) Validate() error {
	if s.DailyCap <= 0 || s.ServiceCap <= 0 {
		return errors.New("scoring: caps must be positive")
	}
	if s.ServiceCap > s.DailyCap {
		return fmt.Errorf("scoring.service_cap: %d exceeds daily_cap %d", s.ServiceCap, s.DailyCap)
	}
	return nil
}

func (i *IngestionConfig) Validate() error {
	if i.Interval <= 0 {
		return errors.New("ingestion.interval: must be positive")
	}
	if i.Lookback <= 0 {
		return errors.New("ingestion.lookback: must be positive")
	}
	if i.HistoryLength <= 0 {
		return errors.New("ingestion.history_length: must be positive")
	}
	return nil
}

func (s *S3Config) Validate() error {
	if strings.Count(s.BucketTemplate, "%d") != 1 {
		return fmt.Errorf("s3.bucket_template: '%s' must contain exactly one %%d", s.BucketTemplate)
	}
	return nil
}

// Bucket returns the CloudTrail bucket of the user.
func (s *S3Config) Bucket(userID int64) string {
	return fmt.Sprintf(s.BucketTemplate, userID)
}

func (j *JournalConfig) Validate() error {
	if j.MaxSize == 0 {
		j.MaxSize = 100
	}
	if j.MaxBackups == 0 {
		j.MaxBackups = 20
	}
	return nil
}

func (k *KafkaConfig) Validate() error {
	if len(k.Brokers) > 0 && k.Topic == "" {
		return errors.New("kafka.topic: must be specified when brokers are set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.sample_dir", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.connect_attempts", 10)
	v.SetDefault("database.connect_backoff", time.Second)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("scoring.table", "")
	v.SetDefault("scoring.daily_cap", 50)
	v.SetDefault("scoring.service_cap", 20)

	v.SetDefault("ingestion.interval", 30*time.Minute)
	v.SetDefault("ingestion.lookback", 7*24*time.Hour)
	v.SetDefault("ingestion.history_length", 20)
	v.SetDefault("ingestion.history_ttl", 24*time.Hour)

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.session_token", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("s3.bucket_template", "cloudtrail-logs-%d")
	v.SetDefault("s3.prefix", "AWSLogs/")

	v.SetDefault("journal.file", "")
	v.SetDefault("journal.max_size", 100)
	v.SetDefault("journal.max_backups", 20)
	v.SetDefault("journal.max_age", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "cloudproof.activities")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "cloudproof")
	v.SetDefault("tracing.insecure", true)
}

// LoadConfig loads configuration from the YAML file at configPath using Viper.
// An empty path uses defaults only. Environment variables such as
// CLOUDPROOF_DATABASE_DSN override both.
//
// Returns an error if the file cannot be read, has an invalid format, or one of the
// sections fails validation.
func LoadConfig(configPath string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
