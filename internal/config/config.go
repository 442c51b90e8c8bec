// Package config assembles agentcore's Config from, in increasing
// priority: a .env file (development convenience), an on-disk YAML file,
// then environment-variable overrides, mirroring the teacher's
// env-then-yaml-then-env-override load order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agentcore/internal/actor"
	"agentcore/internal/ltm"
	"agentcore/internal/orchestrator"
	"agentcore/internal/partner"
	"agentcore/internal/personality"
	"agentcore/internal/stm"
	"agentcore/internal/telemetry"
)

// LogConfig configures the zerolog sink.
type LogConfig struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// PostgresConfig backs C1's durable event log and C5/C6/C7's tables.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig backs C3's dedupe store; no profile cache is wired to it.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// QdrantConfig backs C5's vector-similarity search.
type QdrantConfig struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// ClickHouseConfig backs the resonance-analytics sink.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ArchivalConfig controls C1's scheduled cold-storage compaction.
type ArchivalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Every       time.Duration `yaml:"every"`
	OlderThan   time.Duration `yaml:"older_than"`
	BatchEvents int           `yaml:"batch_events"`
}

// Config is the assembled configuration surface for every component.
type Config struct {
	Log            LogConfig                  `yaml:"log"`
	Postgres       PostgresConfig             `yaml:"postgres"`
	Redis          RedisConfig                `yaml:"redis"`
	Qdrant         QdrantConfig               `yaml:"qdrant"`
	ClickHouse     ClickHouseConfig           `yaml:"clickhouse"`
	Archival       ArchivalConfig             `yaml:"archival"`
	Telemetry      telemetry.Config           `yaml:"telemetry"`
	Actor          actor.RetryConfig          `yaml:"actor_retry"`
	CircuitBreaker actor.CircuitBreakerConfig `yaml:"circuit_breaker"`
	DLQMaxSize     int                        `yaml:"dlq_max_size"`
	STM            stm.Config                 `yaml:"stm"`
	LTM            ltm.Config                 `yaml:"ltm"`
	Personality    personality.Config         `yaml:"personality"`
	Partner        partner.Config             `yaml:"partner"`
	Orchestrator   orchestrator.Config        `yaml:"orchestrator"`
}

// Load reads .env (if present), the YAML file at path, then applies
// environment-variable overrides for the handful of settings operators
// most commonly need to override per-deployment without editing YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best effort; absence of .env is normal in production

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AGENTCORE_LOG_PATH"); v != "" {
		cfg.Log.Path = v
	}
	if v := os.Getenv("AGENTCORE_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("AGENTCORE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AGENTCORE_QDRANT_DSN"); v != "" {
		cfg.Qdrant.DSN = v
	}
	if v := os.Getenv("AGENTCORE_CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := os.Getenv("AGENTCORE_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
}
