// Package config loads the small set of knobs this core needs — listen
// address, upstream kind and address, pool sizes, and timeouts — from
// either YAML or TOML, mirroring the teacher's multi-adapter config
// loading but scoped to this proxy's own settings rather than a full
// Caddyfile-style directive grammar.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so both YAML and TOML accept the usual
// "5s"/"2m30s" notation rather than a raw integer of nanoseconds; both
// encoders recognize encoding.TextUnmarshaler.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// UpstreamKind selects which client package handles upstream requests.
type UpstreamKind string

const (
	UpstreamFastCGI UpstreamKind = "fastcgi"
	UpstreamHTTP    UpstreamKind = "http"
)

// Config is the effective configuration for one proxy instance.
type Config struct {
	Listen string `yaml:"listen" toml:"listen"`

	Upstream struct {
		Kind    UpstreamKind `yaml:"kind" toml:"kind"`
		Address string       `yaml:"address" toml:"address"`
	} `yaml:"upstream" toml:"upstream"`

	Pool struct {
		MaxConnsPerUpstream int `yaml:"max_conns_per_upstream" toml:"max_conns_per_upstream"`
		SlabChunkSize       int `yaml:"slab_chunk_size" toml:"slab_chunk_size"`
	} `yaml:"pool" toml:"pool"`

	Timeouts struct {
		Connect Duration `yaml:"connect" toml:"connect"`
		Idle    Duration `yaml:"idle" toml:"idle"`
		Header  Duration `yaml:"header" toml:"header"`
	} `yaml:"timeouts" toml:"timeouts"`

	Log struct {
		Level string `yaml:"level" toml:"level"`
		File  string `yaml:"file" toml:"file"`
	} `yaml:"log" toml:"log"`
}

// Default returns a Config with reasonable standalone defaults, used
// when no file is given and as the base that a loaded file is merged
// onto by simply overwriting the zero-valued fields it sets.
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.Upstream.Kind = UpstreamHTTP
	c.Pool.MaxConnsPerUpstream = 16
	c.Pool.SlabChunkSize = 4096
	c.Timeouts.Connect = Duration(5 * time.Second)
	c.Timeouts.Idle = Duration(60 * time.Second)
	c.Timeouts.Header = Duration(10 * time.Second)
	c.Log.Level = "info"
	return c
}

// Load reads path, dispatching on its extension (.yaml/.yml vs .toml),
// and returns the parsed Config. Unset fields keep Default's values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s as yaml: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s as toml: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config: unrecognized extension for %s (want .yaml, .yml, or .toml)", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load's format-agnostic unmarshal can't
// express, such as the Upstream.Kind enum.
func (c Config) Validate() error {
	switch c.Upstream.Kind {
	case UpstreamFastCGI, UpstreamHTTP:
	case "":
		return fmt.Errorf("config: upstream.kind is required")
	default:
		return fmt.Errorf("config: unknown upstream.kind %q (want %q or %q)", c.Upstream.Kind, UpstreamFastCGI, UpstreamHTTP)
	}
	if c.Upstream.Address == "" {
		return fmt.Errorf("config: upstream.address is required")
	}
	return nil
}
