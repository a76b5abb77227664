package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models clipforge.yml.
type Config struct {
	Scheduler struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		RetryBudget         int `yaml:"retry_budget"`
		StepTimeoutSeconds  int `yaml:"step_timeout_seconds"`
	} `yaml:"scheduler"`
	Providers struct {
		MediaDir  string `yaml:"media_dir"`
		OutputDir string `yaml:"output_dir"`
	} `yaml:"providers"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
}

// PollInterval returns the poller tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// StepTimeout returns the per-capability call timeout.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Scheduler.StepTimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config.scheduler.poll_interval_seconds must be positive")
	}
	if c.Scheduler.RetryBudget <= 0 {
		return fmt.Errorf("config.scheduler.retry_budget must be positive")
	}
	if c.Scheduler.StepTimeoutSeconds <= 0 {
		return fmt.Errorf("config.scheduler.step_timeout_seconds must be positive")
	}
	if c.Providers.MediaDir == "" {
		return fmt.Errorf("config.providers.media_dir is required")
	}
	if c.Providers.OutputDir == "" {
		return fmt.Errorf("config.providers.output_dir is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "clipforge.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config for a workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.Scheduler.PollIntervalSeconds = 30
	cfg.Scheduler.RetryBudget = 3
	cfg.Scheduler.StepTimeoutSeconds = 300
	cfg.Providers.MediaDir = filepath.Join(workspace, "media")
	cfg.Providers.OutputDir = filepath.Join(workspace, "out")
	cfg.Server.Listen = "127.0.0.1:8081"
	return &cfg
}
