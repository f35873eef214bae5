package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Planner   PlannerConfig   `yaml:"planner"`
	Backends  BackendsConfig  `yaml:"backends"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ServerConfig struct {
	Port        string        `yaml:"port"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

type PlannerConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type BackendsConfig struct {
	Local LocalBackendConfig `yaml:"local"`
	Cloud CloudBackendConfig `yaml:"cloud"`
}

type LocalBackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

type CloudBackendConfig struct {
	BaseURL      string `yaml:"base_url"`
	Concurrency  int    `yaml:"concurrency"`   // backend-side quota, 1-10
	InstanceTier string `yaml:"instance_tier"` // "standard" or "plus"
}

type SchedulerConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit"` // 1-10, default 1
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PollIntervalMax  time.Duration `yaml:"poll_interval_max"`
}

type DefaultsConfig struct {
	MediaWorkflow string `yaml:"media_workflow"`
	TTSWorkflow   string `yaml:"tts_workflow"`
	FrameTemplate string `yaml:"frame_template"`
}

type PathsConfig struct {
	Output    string `yaml:"output"`
	Workflows string `yaml:"workflows"`
}

// Load reads config.yaml, fills defaults and validates ranges.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied, for tests and for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.SyncTimeout == 0 {
		c.Server.SyncTimeout = 30 * time.Minute
	}
	if c.Planner.Model == "" {
		c.Planner.Model = "gpt-4o-mini"
	}
	if c.Backends.Local.BaseURL == "" {
		c.Backends.Local.BaseURL = "http://localhost:8188"
	}
	if c.Backends.Cloud.Concurrency == 0 {
		c.Backends.Cloud.Concurrency = 1
	}
	if c.Backends.Cloud.InstanceTier == "" {
		c.Backends.Cloud.InstanceTier = "standard"
	}
	if c.Scheduler.ConcurrencyLimit == 0 {
		c.Scheduler.ConcurrencyLimit = 1
	}
	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = 3
	}
	if c.Scheduler.RetryBackoff == 0 {
		c.Scheduler.RetryBackoff = 2 * time.Second
	}
	if c.Scheduler.RetryBackoffMax == 0 {
		c.Scheduler.RetryBackoffMax = 30 * time.Second
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = time.Second
	}
	if c.Scheduler.PollIntervalMax == 0 {
		c.Scheduler.PollIntervalMax = 10 * time.Second
	}
	if c.Defaults.FrameTemplate == "" {
		c.Defaults.FrameTemplate = "image_1080x1920_default"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "output"
	}
	if c.Paths.Workflows == "" {
		c.Paths.Workflows = "workflows"
	}
}

func (c *Config) validate() error {
	if c.Scheduler.ConcurrencyLimit < 1 || c.Scheduler.ConcurrencyLimit > 10 {
		return fmt.Errorf("scheduler.concurrency_limit must be between 1 and 10, got %d", c.Scheduler.ConcurrencyLimit)
	}
	if c.Backends.Cloud.Concurrency < 1 || c.Backends.Cloud.Concurrency > 10 {
		return fmt.Errorf("backends.cloud.concurrency must be between 1 and 10, got %d", c.Backends.Cloud.Concurrency)
	}
	switch c.Backends.Cloud.InstanceTier {
	case "standard", "plus":
	default:
		return fmt.Errorf("backends.cloud.instance_tier must be %q or %q, got %q", "standard", "plus", c.Backends.Cloud.InstanceTier)
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}
	return nil
}
