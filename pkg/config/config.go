// Package config loads and validates application configuration from YAML or
// TOML files with environment-variable overrides. It provides typed structs
// for the pipeline itself and for every backend it can talk to (Kafka, Redis,
// PostgreSQL, SQLite).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

// MaxSupportedOrder is the longest n-gram the extractor accepts.
const MaxSupportedOrder = 5

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline" toml:"pipeline"`
	Source   SourceConfig   `yaml:"source" toml:"source"`
	Sink     SinkConfig     `yaml:"sink" toml:"sink"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
	Kafka    KafkaConfig    `yaml:"kafka" toml:"kafka"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server settings for the predictor.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" toml:"requestTimeout"`
	// RateLimit is the request budget per client per RateWindow; 0 disables
	// limiting.
	RateLimit       int           `yaml:"rateLimit" toml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow" toml:"rateWindow"`
	AllowOrigins    []string      `yaml:"allowOrigins" toml:"allowOrigins"`
}

// PipelineConfig carries every tunable of the counting and ranking stages.
// Order 0 ranks every counted phrase of two or more tokens; any other value
// restricts ranking to phrases of exactly that many tokens.
type PipelineConfig struct {
	MinOccurrence int    `yaml:"minOccurrence" toml:"minOccurrence"`
	Order         int    `yaml:"order" toml:"order"`
	MinOrder      int    `yaml:"minOrder" toml:"minOrder"`
	MaxOrder      int    `yaml:"maxOrder" toml:"maxOrder"`
	TopK          int    `yaml:"topK" toml:"topK"`
	MapTasks      int    `yaml:"mapTasks" toml:"mapTasks"`
	ReduceTasks   int    `yaml:"reduceTasks" toml:"reduceTasks"`
	ShardLines    int    `yaml:"shardLines" toml:"shardLines"`
	TaskAttempts  int    `yaml:"taskAttempts" toml:"taskAttempts"`
	WorkDir       string `yaml:"workDir" toml:"workDir"`
}

// SourceConfig selects where corpus lines and phrase records come from.
type SourceConfig struct {
	Driver      string        `yaml:"driver" toml:"driver"`
	IdleTimeout time.Duration `yaml:"idleTimeout" toml:"idleTimeout"`
}

// SinkConfig selects and parameterises the PrefixModel store.
type SinkConfig struct {
	Driver        string        `yaml:"driver" toml:"driver"`
	Table         string        `yaml:"table" toml:"table"`
	KeyPrefix     string        `yaml:"keyPrefix" toml:"keyPrefix"`
	Column        string        `yaml:"column" toml:"column"`
	Path          string        `yaml:"path" toml:"path"`
	WriteAttempts int           `yaml:"writeAttempts" toml:"writeAttempts"`
	WriteTimeout  time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	Database        string        `yaml:"database" toml:"database"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	SSLMode         string        `yaml:"sslMode" toml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics" toml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusLines    string `yaml:"corpusLines" toml:"corpusLines"`
	CountedPhrases string `yaml:"countedPhrases" toml:"countedPhrases"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"poolSize" toml:"poolSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML config file (if provided) and applies
// environment-variable overrides. Missing values keep their defaults. The
// result is not validated; callers apply flag overrides first and then call
// Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if strings.HasSuffix(path, ".toml") {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config with local-development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  2 * time.Second,
			RateLimit:       600,
			RateWindow:      time.Minute,
		},
		Pipeline: PipelineConfig{
			MinOccurrence: 2,
			Order:         0,
			MinOrder:      1,
			MaxOrder:      MaxSupportedOrder,
			TopK:          5,
			MapTasks:      4,
			ReduceTasks:   10,
			ShardLines:    10000,
			TaskAttempts:  3,
		},
		Source: SourceConfig{
			Driver:      "file",
			IdleTimeout: 10 * time.Second,
		},
		Sink: SinkConfig{
			Driver:        "memory",
			Table:         "language_model",
			KeyPrefix:     "lm:",
			Column:        "Probability",
			Path:          "language_model.tsv",
			WriteAttempts: 3,
			WriteTimeout:  5 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "languagemodel",
			User:            "languagemodel",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path: "language_model.db",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "languagemodel-group",
			Topics: KafkaTopics{
				CorpusLines:    "corpus-lines",
				CountedPhrases: "counted-phrases",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate checks the pipeline section for values the stages cannot run
// with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.MinOrder < 1 || p.MinOrder > MaxSupportedOrder:
		return fmt.Errorf("%w: minOrder %d outside 1-%d", apperrors.ErrInvalidConfig, p.MinOrder, MaxSupportedOrder)
	case p.MaxOrder < p.MinOrder || p.MaxOrder > MaxSupportedOrder:
		return fmt.Errorf("%w: maxOrder %d outside %d-%d", apperrors.ErrInvalidConfig, p.MaxOrder, p.MinOrder, MaxSupportedOrder)
	case p.Order != 0 && (p.Order < 2 || p.Order > p.MaxOrder):
		return fmt.Errorf("%w: order %d must be 0 or within 2-%d", apperrors.ErrInvalidConfig, p.Order, p.MaxOrder)
	case p.MinOccurrence < 1:
		return fmt.Errorf("%w: minOccurrence must be at least 1", apperrors.ErrInvalidConfig)
	case p.TopK < 1:
		return fmt.Errorf("%w: topK must be at least 1", apperrors.ErrInvalidConfig)
	case p.MapTasks < 1 || p.ReduceTasks < 1:
		return fmt.Errorf("%w: mapTasks and reduceTasks must be at least 1", apperrors.ErrInvalidConfig)
	case p.ShardLines < 1:
		return fmt.Errorf("%w: shardLines must be at least 1", apperrors.ErrInvalidConfig)
	case p.TaskAttempts < 1:
		return fmt.Errorf("%w: taskAttempts must be at least 1", apperrors.ErrInvalidConfig)
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("%w: rateWindow must be positive when rateLimit is set", apperrors.ErrInvalidConfig)
	}
	switch c.Sink.Driver {
	case "memory", "redis", "postgres", "sqlite", "tsv":
	default:
		return fmt.Errorf("%w: unknown sink driver %q", apperrors.ErrInvalidConfig, c.Sink.Driver)
	}
	switch c.Source.Driver {
	case "file", "kafka":
	default:
		return fmt.Errorf("%w: unknown source driver %q", apperrors.ErrInvalidConfig, c.Source.Driver)
	}
	return nil
}

// applyEnvOverrides reads LM_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LM_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("LM_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LM_MIN_OCCURRENCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MinOccurrence = n
		}
	}
	if v := os.Getenv("LM_ORDER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Order = n
		}
	}
	if v := os.Getenv("LM_REDUCE_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ReduceTasks = n
		}
	}
	if v := os.Getenv("LM_WORK_DIR"); v != "" {
		cfg.Pipeline.WorkDir = v
	}
	if v := os.Getenv("LM_SINK_DRIVER"); v != "" {
		cfg.Sink.Driver = v
	}
	if v := os.Getenv("LM_SOURCE_DRIVER"); v != "" {
		cfg.Source.Driver = v
	}
	if v := os.Getenv("LM_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LM_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LM_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LM_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LM_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LM_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("LM_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LM_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LM_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
