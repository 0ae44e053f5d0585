package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rzbill/tether/internal/errs"
	"github.com/rzbill/tether/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir      string `json:"dataDir" yaml:"dataDir" split_words:"true"`
	HTTPAddr     string `json:"httpAddr" yaml:"httpAddr" split_words:"true"`
	Upstream     string `json:"upstream" yaml:"upstream" split_words:"true"`
	TenantHeader string `json:"tenantHeader" yaml:"tenantHeader" split_words:"true"`
	// Store selects the queue backend: "pebble" or "sqlite".
	Store string `json:"store" yaml:"store" split_words:"true"`
	// Fsync is the Pebble WAL policy: "always", "interval" or "never".
	Fsync           string `json:"fsync" yaml:"fsync" split_words:"true"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs" split_words:"true"`
	// MaxBodyBytes bounds request bodies captured for queuing.
	MaxBodyBytes int64 `json:"maxBodyBytes" yaml:"maxBodyBytes" split_words:"true"`
	// Policy is an optional CEL expression deciding which offline writes queue.
	Policy string `json:"policy" yaml:"policy" split_words:"true"`

	Queue        QueueConfig        `json:"queue" yaml:"queue" split_words:"true"`
	Connectivity ConnectivityConfig `json:"connectivity" yaml:"connectivity" split_words:"true"`
	Replay       ReplayConfig       `json:"replay" yaml:"replay" split_words:"true"`
	Cache        CacheConfig        `json:"cache" yaml:"cache" split_words:"true"`
	Redis        RedisConfig        `json:"redis" yaml:"redis" split_words:"true"`
	Log          log.Config         `json:"log" yaml:"log" split_words:"true"`
}

// QueueConfig bounds the backlog.
type QueueConfig struct {
	MaxPerTenant int `json:"maxPerTenant" yaml:"maxPerTenant" split_words:"true"`
	// TTL is a Go duration; empty or "0" keeps records forever.
	TTL           string `json:"ttl" yaml:"ttl" split_words:"true"`
	SweepInterval string `json:"sweepInterval" yaml:"sweepInterval" split_words:"true"`
}

// ConnectivityConfig drives the upstream reachability probe.
type ConnectivityConfig struct {
	ProbeInterval string `json:"probeInterval" yaml:"probeInterval" split_words:"true"`
	ProbeTimeout  string `json:"probeTimeout" yaml:"probeTimeout" split_words:"true"`
	// ShortCircuit skips the network attempt while already known offline.
	ShortCircuit bool `json:"shortCircuit" yaml:"shortCircuit" split_words:"true"`
}

// ReplayConfig paces replay.
type ReplayConfig struct {
	Rate    float64 `json:"rate" yaml:"rate" split_words:"true"`
	Burst   int     `json:"burst" yaml:"burst" split_words:"true"`
	Timeout string  `json:"timeout" yaml:"timeout" split_words:"true"`
}

// CacheConfig controls the read fallback cache.
type CacheConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" split_words:"true"`
	MaxBodyBytes int  `json:"maxBodyBytes" yaml:"maxBodyBytes" split_words:"true"`
}

// RedisConfig enables cross-process sync-complete fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" split_words:"true"`
	Password string `json:"password" yaml:"password" split_words:"true"`
	DB       int    `json:"db" yaml:"db" split_words:"true"`
	Channel  string `json:"channel" yaml:"channel" split_words:"true"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		HTTPAddr:        ":8470",
		TenantHeader:    "X-Tenant-ID",
		Store:           "pebble",
		Fsync:           "always",
		FsyncIntervalMs: 5,
		MaxBodyBytes:    1 << 20,
		Queue: QueueConfig{
			MaxPerTenant:  10000,
			SweepInterval: "1m",
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: "5s",
			ProbeTimeout:  "2s",
		},
		Replay: ReplayConfig{
			Rate:    50,
			Burst:   10,
			Timeout: "30s",
		},
		Cache: CacheConfig{
			Enabled:      true,
			MaxBodyBytes: 4 << 20,
		},
		Redis: RedisConfig{
			Channel: "tether:sync",
		},
		Log: log.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrapf(err, "config: read %s", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errs.Wrapf(err, "config: parse %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errs.Wrapf(err, "config: parse %s", path)
		}
	}
	return cfg, nil
}

// Validate checks enumerations, durations and the upstream URL.
func (c Config) Validate() error {
	switch c.Store {
	case "pebble", "sqlite":
	default:
		return errs.Invalidf("config: store must be pebble or sqlite, got %q", c.Store)
	}
	switch c.Fsync {
	case "", "always", "interval", "never":
	default:
		return errs.Invalidf("config: fsync must be always, interval or never, got %q", c.Fsync)
	}
	if c.Queue.MaxPerTenant < 0 {
		return errs.Invalidf("config: queue.maxPerTenant must not be negative")
	}
	for name, v := range map[string]string{
		"queue.ttl":                  c.Queue.TTL,
		"queue.sweepInterval":        c.Queue.SweepInterval,
		"connectivity.probeInterval": c.Connectivity.ProbeInterval,
		"connectivity.probeTimeout":  c.Connectivity.ProbeTimeout,
		"replay.timeout":             c.Replay.Timeout,
	} {
		if _, err := ParseDuration(v); err != nil {
			return errs.Mark(errs.Wrapf(err, "config: %s", name), errs.ErrInvalid)
		}
	}
	if c.Upstream != "" {
		if _, err := c.UpstreamURL(); err != nil {
			return err
		}
	}
	return nil
}

// UpstreamURL parses Upstream, which must be an absolute http(s) URL.
func (c Config) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return nil, errs.Mark(errs.Wrap(err, "config: upstream"), errs.ErrInvalid)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.Invalidf("config: upstream must be an absolute http(s) URL, got %q", c.Upstream)
	}
	return u, nil
}

// ParseDuration parses a Go duration; the empty string means zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// MustDuration is ParseDuration for values already checked by Validate.
func MustDuration(s string) time.Duration {
	d, _ := ParseDuration(s)
	return d
}
