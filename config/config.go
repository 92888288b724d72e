// Package config handles tabvol configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tabvol configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Store       StoreConfig       `yaml:"store"`
	Agent       AgentConfig       `yaml:"agent"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	Remote  string   `yaml:"remote"`  // ws:// URL or debugging port of a running Chrome
	Mode    string   `yaml:"mode"`    // headless | headful
	Bin     string   `yaml:"bin"`
	Stealth bool     `yaml:"stealth"`
	Open    []string `yaml:"open"` // URLs opened at start
}

// Headless reports whether a launched Chrome runs without a window.
func (b BrowserConfig) Headless() bool { return b.Mode != "headful" }

// StoreConfig locates the volume database.
type StoreConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BusyTimeout  int           `yaml:"busy_timeout_ms"`
}

// AgentConfig tunes the page agents.
type AgentConfig struct {
	Threshold float64       `yaml:"threshold"`
	Debounce  time.Duration `yaml:"debounce"`
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	PreviewRate      float64 `yaml:"preview_rate"` // live previews per tab and second, <0 = unlimited
	ProbeConcurrency int     `yaml:"probe_concurrency"`
}

// HTTPConfig controls the control surface listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // "-" disables the control surface
}

// Default returns the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	if c.Agent.Threshold < 0 || c.Agent.Threshold >= 1 {
		return fmt.Errorf("agent.threshold %v out of [0, 1)", c.Agent.Threshold)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Store.Path == "" {
		c.Store.Path = "tabvol.db"
	}
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 200 * time.Millisecond
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 10000
	}
	if c.Agent.Threshold == 0 {
		c.Agent.Threshold = 0.01
	}
	if c.Agent.Debounce <= 0 {
		c.Agent.Debounce = 250 * time.Millisecond
	}
	if c.Coordinator.PreviewRate == 0 {
		c.Coordinator.PreviewRate = 30
	}
	if c.Coordinator.ProbeConcurrency <= 0 {
		c.Coordinator.ProbeConcurrency = 8
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8787"
	}
}
