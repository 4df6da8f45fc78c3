// Package config implements the configure(opts) surface of the
// index-advisor core plus the DBMS connection parameters needed to reach
// the target database, following the load/validate/default pattern the
// rest of this codebase uses for its own configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the full set of recognised options.
type Config struct {
	// Recommender-facing options, named exactly as the invocation
	// boundary's configure(opts) documents them.
	PoolMin            int  `json:"pool_min"`
	PoolMax            int  `json:"pool_max"`
	ExplainTimeoutMS   int  `json:"explain_timeout_ms"`
	StatsCacheTTLS     int  `json:"stats_cache_ttl_s"`
	MaxWorkersPerBatch int  `json:"max_workers_per_batch"`
	CoveringEnabled    bool `json:"covering_enabled"`
	PartialEnabled     bool `json:"partial_enabled"`

	// Connection parameters for the target PostgreSQL-compatible DBMS.
	Database DatabaseConfig `json:"database"`

	// Log level: "debug", "info", "warn", or "error".
	LogLevel string `json:"log_level"`
}

// DatabaseConfig holds the parameters needed to build a DSN for lib/pq.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// DefaultConfig returns the documented defaults: pool 2/10, 30s explain
// timeout, 3600s statistics TTL, covering and partial both enabled.
func DefaultConfig() *Config {
	return &Config{
		PoolMin:            2,
		PoolMax:            10,
		ExplainTimeoutMS:   30_000,
		StatsCacheTTLS:     3600,
		MaxWorkersPerBatch: 4,
		CoveringEnabled:    true,
		PartialEnabled:     true,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "postgres",
			User:     "postgres",
			SSLMode:  "disable",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads and validates a JSON config file, applying defaults for
// any field the file leaves at its zero value.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigOrDefault tries the INDEXADVISOR_CONFIG environment variable,
// then a short list of conventional paths, before falling back to defaults.
func LoadConfigOrDefault() *Config {
	if envPath := os.Getenv("INDEXADVISOR_CONFIG"); envPath != "" {
		if cfg, err := LoadConfig(envPath); err == nil {
			return cfg
		}
	}

	for _, path := range []string{"config.json", "./config/config.json", "/etc/indexadvisor/config.json"} {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		if cfg, err := LoadConfig(absPath); err == nil {
			return cfg
		}
	}

	return DefaultConfig()
}

func validateConfig(cfg *Config) error {
	if cfg.PoolMin < 1 {
		return fmt.Errorf("pool_min must be at least 1, got %d", cfg.PoolMin)
	}
	if cfg.PoolMax < cfg.PoolMin {
		return fmt.Errorf("pool_max (%d) must be >= pool_min (%d)", cfg.PoolMax, cfg.PoolMin)
	}
	if cfg.ExplainTimeoutMS < 1 {
		return fmt.Errorf("explain_timeout_ms must be positive, got %d", cfg.ExplainTimeoutMS)
	}
	if cfg.StatsCacheTTLS < 0 {
		return fmt.Errorf("stats_cache_ttl_s cannot be negative, got %d", cfg.StatsCacheTTLS)
	}
	if cfg.MaxWorkersPerBatch < 1 {
		return fmt.Errorf("max_workers_per_batch must be at least 1, got %d", cfg.MaxWorkersPerBatch)
	}
	if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", cfg.Database.Port)
	}
	return nil
}

// DSN renders the connection string lib/pq expects.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.Database, c.Database.User, c.Database.Password, c.Database.SSLMode)
}
