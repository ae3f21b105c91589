package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models sourceline.yml.
type Config struct {
	Server struct {
		Address  string `yaml:"address"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Evaluation Weights `yaml:"evaluation"`
	Awards     struct {
		// FallbackApprover is stamped as reviewed_by when an internal path
		// accepts or rejects without an explicit actor. Injected policy,
		// never a hardcoded identity.
		FallbackApprover string `yaml:"fallback_approver"`
	} `yaml:"awards"`
	Cache    CacheConfig     `yaml:"cache"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// Weights are the evaluation sub-score weights. They must sum to 1.
type Weights struct {
	Technical  float64 `yaml:"technical"`
	Commercial float64 `yaml:"commercial"`
	Delivery   float64 `yaml:"delivery"`
}

// Overall applies the weighted formula to the three sub-scores.
func (w Weights) Overall(technical, commercial, delivery float64) float64 {
	return w.Technical*technical + w.Commercial*commercial + w.Delivery*delivery
}

// CacheConfig bounds the anonymized-listing cache.
type CacheConfig struct {
	Size       int `yaml:"size"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	sum := c.Evaluation.Technical + c.Evaluation.Commercial + c.Evaluation.Delivery
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("config.evaluation weights must sum to 1, got %g", sum)
	}
	if c.Evaluation.Technical < 0 || c.Evaluation.Commercial < 0 || c.Evaluation.Delivery < 0 {
		return fmt.Errorf("config.evaluation weights must be non-negative")
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("config.cache.size must be non-negative")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config.cache.ttl_seconds must be non-negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sourceline.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML document.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  address: :8080
  base_path: /v0

evaluation:
  technical: 0.4
  commercial: 0.3
  delivery: 0.3

awards:
  fallback_approver: system

cache:
  size: 256
  ttl_seconds: 30
`
