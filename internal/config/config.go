// Package config loads service configuration from the environment, with
// an optional YAML file overlay for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings. Precedence: environment variables,
// then the YAML file, then built-in defaults.
type Config struct {
	Port        string `env:"PORT" yaml:"port"`
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`
	SQLitePath  string `env:"SQLITE_PATH" yaml:"sqlite_path"`
	RedisURL    string `env:"REDIS_URL" yaml:"redis_url"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," yaml:"kafka_brokers"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" yaml:"kafka_topic"`

	ChartBaseURL string `env:"CHART_BASE_URL" yaml:"chart_base_url"`
	StooqBaseURL string `env:"STOOQ_BASE_URL" yaml:"stooq_base_url"`

	BenchmarkTicker string        `env:"BENCHMARK_TICKER" yaml:"benchmark_ticker"`
	QuoteCacheTTL   time.Duration `env:"QUOTE_CACHE_TTL" yaml:"quote_cache_ttl"`
}

// Load reads settings. When path is non-empty the YAML file at path is
// read first; environment variables then override whatever it set.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "portfolio-events"
	}
	if cfg.BenchmarkTicker == "" {
		cfg.BenchmarkTicker = "^RUT"
	}
	if cfg.QuoteCacheTTL <= 0 {
		cfg.QuoteCacheTTL = 10 * time.Minute
	}
	return cfg, nil
}
