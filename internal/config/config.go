// Package config loads the orchestrator deployment configuration from a
// yaml file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full deployment configuration.
type Config struct {
	ListenAddress string   `yaml:"listen_address"`
	LogLevel      string   `yaml:"log_level"`
	DatabaseURL   string   `yaml:"database_url"`
	Features      Features `yaml:"features"`
	Cleaner       Cleaner  `yaml:"cleaner"`
	Push          Push     `yaml:"push"`
	Registry      Registry `yaml:"registry"`
	Auth          Auth     `yaml:"auth"`
	RateLimit     Rate     `yaml:"rate_limit"`
}

// Features holds the deployment-level orchestration toggles.
type Features struct {
	InterCloudEnabled  bool `yaml:"intercloud_enabled"`
	TranslationEnabled bool `yaml:"translation_enabled"`
	QoSEnabled         bool `yaml:"qos_enabled"`
}

// Cleaner configures the orchestration history retention job.
type Cleaner struct {
	Interval   time.Duration `yaml:"interval"`
	MaxAgeDays int           `yaml:"max_age_days"`
}

// Push configures the push orchestration worker pool.
type Push struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Registry points at the service registry lookup endpoint.
type Registry struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Auth configures the requester identity middleware.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Rate configures per-system request rate limiting.
type Rate struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddress: ":8441",
		LogLevel:      "info",
		Features: Features{
			InterCloudEnabled:  false,
			TranslationEnabled: false,
			QoSEnabled:         false,
		},
		Cleaner: Cleaner{
			Interval:   30 * time.Second,
			MaxAgeDays: 15,
		},
		Push: Push{
			Workers:   5,
			QueueSize: 100,
		},
		Registry: Registry{
			Timeout: 5 * time.Second,
		},
		RateLimit: Rate{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist, then applies ORCH_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults apply
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.Cleaner.Interval <= 0 {
		return fmt.Errorf("cleaner.interval must be positive")
	}
	if c.Cleaner.MaxAgeDays <= 0 {
		return fmt.Errorf("cleaner.max_age_days must be positive")
	}
	if c.Push.Workers <= 0 {
		return fmt.Errorf("push.workers must be positive")
	}
	if c.Push.QueueSize <= 0 {
		return fmt.Errorf("push.queue_size must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ORCH_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("ORCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORCH_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ORCH_REGISTRY_ENDPOINT"); v != "" {
		cfg.Registry.Endpoint = v
	}
	if v := os.Getenv("ORCH_REGISTRY_API_KEY"); v != "" {
		cfg.Registry.APIKey = v
	}
	if v := os.Getenv("ORCH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := envBool("ORCH_INTERCLOUD_ENABLED"); ok {
		cfg.Features.InterCloudEnabled = v
	}
	if v, ok := envBool("ORCH_TRANSLATION_ENABLED"); ok {
		cfg.Features.TranslationEnabled = v
	}
	if v, ok := envBool("ORCH_QOS_ENABLED"); ok {
		cfg.Features.QoSEnabled = v
	}
	if v, ok := envInt("ORCH_HISTORY_MAX_AGE_DAYS"); ok {
		cfg.Cleaner.MaxAgeDays = v
	}
	if v, ok := envDuration("ORCH_CLEANER_INTERVAL"); ok {
		cfg.Cleaner.Interval = v
	}
	if v, ok := envInt("ORCH_PUSH_WORKERS"); ok {
		cfg.Push.Workers = v
	}
	if v, ok := envInt("ORCH_PUSH_QUEUE_SIZE"); ok {
		cfg.Push.QueueSize = v
	}
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
