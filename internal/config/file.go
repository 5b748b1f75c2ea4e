package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("30s") or integer
// nanoseconds in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val)
	case int:
		d.Duration = time.Duration(val)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = parsed
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// fileConfig mirrors Config for decoding; durations go through Duration.
type fileConfig struct {
	Config       `yaml:",inline"`
	TokenTTL     *Duration `json:"token_ttl" yaml:"token_ttl"`
	FetchTimeout *Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	PollInterval *Duration `json:"poll_interval" yaml:"poll_interval"`
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fc := fileConfig{Config: *cfg}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return err
	}
	*cfg = fc.Config
	if fc.TokenTTL != nil {
		cfg.TokenTTL = fc.TokenTTL.Duration
	}
	if fc.FetchTimeout != nil {
		cfg.FetchTimeout = fc.FetchTimeout.Duration
	}
	if fc.PollInterval != nil {
		cfg.PollInterval = fc.PollInterval.Duration
	}
	return nil
}
