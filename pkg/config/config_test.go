package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Pipeline.MinOccurrence != 2 || cfg.Pipeline.TopK != 5 || cfg.Pipeline.MaxOrder != 5 {
		t.Errorf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lm.yaml", `
pipeline:
  minOccurrence: 3
  order: 3
  reduceTasks: 2
sink:
  driver: sqlite
source:
  idleTimeout: 3s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MinOccurrence != 3 || cfg.Pipeline.Order != 3 || cfg.Pipeline.ReduceTasks != 2 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.TopK != 5 {
		t.Errorf("unset topK lost its default: %d", cfg.Pipeline.TopK)
	}
	if cfg.Sink.Driver != "sqlite" {
		t.Errorf("sink driver = %q", cfg.Sink.Driver)
	}
	if cfg.Source.IdleTimeout != 3*time.Second {
		t.Errorf("idle timeout = %v", cfg.Source.IdleTimeout)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "lm.toml", `
[pipeline]
topK = 3
mapTasks = 8

[redis]
addr = "cache:6379"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.TopK != 3 || cfg.Pipeline.MapTasks != 8 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LM_MIN_OCCURRENCE", "7")
	t.Setenv("LM_SINK_DRIVER", "redis")
	t.Setenv("LM_KAFKA_BROKERS", "k1:9092,k2:9092")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MinOccurrence != 7 {
		t.Errorf("minOccurrence = %d, want 7", cfg.Pipeline.MinOccurrence)
	}
	if cfg.Sink.Driver != "redis" {
		t.Errorf("sink driver = %q", cfg.Sink.Driver)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Pipeline.MinOccurrence = 0 }},
		{"zero topK", func(c *Config) { c.Pipeline.TopK = 0 }},
		{"unigram ranking", func(c *Config) { c.Pipeline.Order = 1 }},
		{"order above max", func(c *Config) { c.Pipeline.MaxOrder = 3; c.Pipeline.Order = 4 }},
		{"max order too high", func(c *Config) { c.Pipeline.MaxOrder = 6 }},
		{"min above max", func(c *Config) { c.Pipeline.MinOrder = 4; c.Pipeline.MaxOrder = 3 }},
		{"no reducers", func(c *Config) { c.Pipeline.ReduceTasks = 0 }},
		{"unknown sink", func(c *Config) { c.Sink.Driver = "hbase" }},
		{"unknown source", func(c *Config) { c.Source.Driver = "s3" }},
		{"rate limit without window", func(c *Config) { c.Server.RateWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, apperrors.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
