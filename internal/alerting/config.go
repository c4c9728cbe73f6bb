package alerting

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule types.
const (
	RuleErrorRate = "error_rate"
	RuleDelta     = "delta"
	RuleP95       = "p95"
)

// Rule is one alert condition over scraped metrics.
type Rule struct {
	Name        string  `yaml:"name"`
	Type        string  `yaml:"type"`
	Metric      string  `yaml:"metric,omitempty"`
	Numerator   string  `yaml:"numerator,omitempty"`
	Denominator string  `yaml:"denominator,omitempty"`
	Threshold   float64 `yaml:"threshold"`
	WindowSec   int     `yaml:"window_seconds"`
	SilenceSec  int     `yaml:"silence_seconds"`
}

// NotifyConfig selects the delivery mechanism. Webhook and script may both
// be set; both get called.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url,omitempty"`
	Script      string `yaml:"script,omitempty"`
	TimeoutSec  int    `yaml:"timeout_seconds"`
	MaxRetries  int    `yaml:"max_retries"`
	BackoffSec  int    `yaml:"backoff_seconds"`
}

// Config is the alerting runner configuration file.
type Config struct {
	ScrapeURL   string       `yaml:"scrape_url"`
	IntervalSec int          `yaml:"interval_seconds"`
	StatePath   string       `yaml:"state_path"`
	Rules       []Rule       `yaml:"rules"`
	Notify      NotifyConfig `yaml:"notify"`
}

// LoadConfig reads and validates the alerting YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse alert config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configs that would misfire silently.
func (c *Config) Validate() error {
	if c.ScrapeURL == "" {
		return fmt.Errorf("alert config: scrape_url is required")
	}
	if c.IntervalSec <= 0 {
		c.IntervalSec = 15
	}
	if c.StatePath == "" {
		c.StatePath = "alerter_state.json"
	}
	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("alert config: rule %d has no name", i)
		}
		switch r.Type {
		case RuleErrorRate:
			if r.Numerator == "" || r.Denominator == "" {
				return fmt.Errorf("alert config: rule %q needs numerator and denominator", r.Name)
			}
		case RuleDelta, RuleP95:
			if r.Metric == "" {
				return fmt.Errorf("alert config: rule %q needs a metric", r.Name)
			}
		default:
			return fmt.Errorf("alert config: rule %q has unknown type %q", r.Name, r.Type)
		}
		if r.WindowSec < 0 || r.SilenceSec < 0 {
			return fmt.Errorf("alert config: rule %q has negative window or silence", r.Name)
		}
	}
	return nil
}

// Interval is the scrape cadence.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}
