// Package config handles runtime configuration: defaults, an optional JSON or
// YAML file overlay, and HYPERFEED_* environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config holds runtime settings for hyperfeed.
//
// Fields:
//   - Addr: HTTP listen address.
//   - DatabaseDSN: sqlite file path or postgres URL for the catalog (and the "sql" archive).
//   - ArchiveDSN: archive backend: "sql", "memory", "file:///dir" or "s3://bucket/prefix".
//   - JWTSecret: HS256 secret guarding mutating routes; empty disables the check.
//   - RenderLimit: item count used when a render request gives none.
//   - Scrap: fetch and store a scrap payload for every newly saved item.
//   - PollInterval: how often subscriptions are synced (at least 15 minutes).
type Config struct {
	Addr         string        `json:"addr" yaml:"addr"`
	DatabaseDSN  string        `json:"database_dsn" yaml:"database_dsn"`
	ArchiveDSN   string        `json:"archive_dsn" yaml:"archive_dsn"`
	JWTSecret    string        `json:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL     time.Duration `json:"-" yaml:"-"`
	RenderLimit  int           `json:"render_limit" yaml:"render_limit"`
	Scrap        bool          `json:"scrap" yaml:"scrap"`
	FetchTimeout time.Duration `json:"-" yaml:"-"`
	PollInterval time.Duration `json:"-" yaml:"-"`
	LogLevel     string        `json:"log_level" yaml:"log_level"`
	LogFormat    string        `json:"log_format" yaml:"log_format"`
	S3           S3Config      `json:"s3" yaml:"s3"`
}

// S3Config holds settings for the S3-compatible archive backend.
type S3Config struct {
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	AccessKey    string `json:"access_key" yaml:"access_key"`
	SecretKey    string `json:"secret_key" yaml:"secret_key"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// MinPollInterval is the smallest allowed sync interval.
const MinPollInterval = 15 * time.Minute

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.DatabaseDSN = "hyperfeed.db"
	c.ArchiveDSN = "sql"
	c.JWTSecret = ""
	c.TokenTTL = 24 * time.Hour
	c.RenderLimit = 10
	c.Scrap = false
	c.FetchTimeout = 30 * time.Second
	c.PollInterval = MinPollInterval
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.S3 = S3Config{Region: "us-east-1"}
}

// Load builds a Config by applying defaults, then the file at path (if
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.RenderLimit <= 0 {
		c.RenderLimit = 10
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}
