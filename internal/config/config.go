// Package config handles YAML configuration loading for the dbxray server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/dbxray/pkg/adapters"
)

// Config is the top-level configuration structure for dbxrayd.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // default ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default 30s
}

// DatabaseConfig describes the storage engine the server fronts.
type DatabaseConfig struct {
	Type     string        `yaml:"type"`      // postgres | mysql | sqlite | mssql | mongodb | redis
	DSN      string        `yaml:"dsn"`       // override via DBXRAY_DSN
	Database string        `yaml:"database"`  // mongodb/redis only
	Schema   string        `yaml:"schema"`    // postgres/mssql default schema
	Timeout  time.Duration `yaml:"timeout"`   // per-operation timeout, default 30s
	MaxConns int           `yaml:"max_conns"` // default 10
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error; default info
	JSON  bool   `yaml:"json"`  // machine-readable output instead of console
}

// AdapterConfig converts the database section into the adapter connection spec.
func (c *Config) AdapterConfig() adapters.Config {
	return adapters.Config{
		Type:     c.Database.Type,
		DSN:      c.Database.DSN,
		Database: c.Database.Database,
		Schema:   c.Database.Schema,
		Timeout:  c.Database.Timeout,
		MaxConns: c.Database.MaxConns,
	}
}

// Load reads and validates the YAML config at path, applying defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Defaults
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Database.Timeout = 30 * time.Second
	cfg.Database.MaxConns = 10
	cfg.Log.Level = "info"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	// DSN: config file takes precedence; env var is the fallback
	if cfg.Database.DSN == "" {
		if s := os.Getenv("DBXRAY_DSN"); s != "" {
			cfg.Database.DSN = s
		}
	}
	if cfg.Database.Type == "" {
		return nil, fmt.Errorf("config: database.type is required")
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config: database.dsn is required (or set DBXRAY_DSN)")
	}
	return cfg, nil
}
