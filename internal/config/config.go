// Package config loads the mobile core configuration from an optional YAML
// file and AVZ_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avanzando/mobilecore/internal/errors"
)

// Rejection policies for actions the backend refuses.
const (
	RejectionDrop   = "drop"
	RejectionRetain = "retain"
)

// Config holds every tunable of the core.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	BaseURL    string `yaml:"base_url"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	SyncInterval   time.Duration `yaml:"sync_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbePath     string        `yaml:"probe_path"`

	RejectionPolicy string `yaml:"rejection_policy"`

	// TokenSecret encrypts the bearer token at rest when set.
	TokenSecret string `yaml:"token_secret"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         "./data",
		BaseURL:         "http://localhost:5000",
		ListenAddr:      "127.0.0.1:8090",
		LogLevel:        "info",
		SyncInterval:    30 * time.Second,
		RequestTimeout:  15 * time.Second,
		BackoffBase:     30 * time.Second,
		BackoffMax:      15 * time.Minute,
		ProbeInterval:   10 * time.Second,
		ProbePath:       "/api/health",
		RejectionPolicy: RejectionDrop,
	}
}

// Load reads path (if non-empty) over the defaults, then applies env
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "parse config file", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"AVZ_DATA_DIR":         &c.DataDir,
		"AVZ_BASE_URL":         &c.BaseURL,
		"AVZ_LISTEN_ADDR":      &c.ListenAddr,
		"AVZ_LOG_LEVEL":        &c.LogLevel,
		"AVZ_PROBE_PATH":       &c.ProbePath,
		"AVZ_REJECTION_POLICY": &c.RejectionPolicy,
		"AVZ_TOKEN_SECRET":     &c.TokenSecret,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"AVZ_SYNC_INTERVAL":   &c.SyncInterval,
		"AVZ_REQUEST_TIMEOUT": &c.RequestTimeout,
		"AVZ_BACKOFF_BASE":    &c.BackoffBase,
		"AVZ_BACKOFF_MAX":     &c.BackoffMax,
		"AVZ_PROBE_INTERVAL":  &c.ProbeInterval,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(errors.ErrConfig, fmt.Sprintf("parse %s", key), err)
		}
		*dst = d
	}
	return nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrConfig, "data_dir is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New(errors.ErrConfig, fmt.Sprintf("base_url must be an absolute URL, got %q", c.BaseURL))
	}
	if c.SyncInterval <= 0 {
		return errors.New(errors.ErrConfig, "sync_interval must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New(errors.ErrConfig, "request_timeout must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return errors.New(errors.ErrConfig, "backoff_base must be positive and not above backoff_max")
	}
	if c.ProbeInterval < 0 {
		return errors.New(errors.ErrConfig, "probe_interval must not be negative")
	}
	switch c.RejectionPolicy {
	case RejectionDrop, RejectionRetain:
	default:
		return errors.New(errors.ErrConfig, fmt.Sprintf("rejection_policy must be %q or %q", RejectionDrop, RejectionRetain))
	}
	return nil
}

// ProbeURL is the health endpoint used by the connectivity probe.
func (c *Config) ProbeURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(c.ProbePath, "/")
}
