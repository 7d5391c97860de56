package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models callboard.yml.
type Config struct {
	Event struct {
		Name string `yaml:"name"`
	} `yaml:"event"`
	Telegram struct {
		Token              string `yaml:"token"`
		APIBase            string `yaml:"api_base"`
		PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
	} `yaml:"telegram"`
	Disciplines []string  `yaml:"disciplines"`
	Webhooks    []Webhook `yaml:"webhooks"`
}

// Webhook receives event envelopes for the listed event types.
type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Telegram.PollTimeoutSeconds < 0 {
		return fmt.Errorf("config.telegram.poll_timeout_seconds must not be negative")
	}
	seen := map[string]bool{}
	for i, d := range c.Disciplines {
		if d == "" {
			return fmt.Errorf("config.disciplines[%d] is empty", i)
		}
		if seen[d] {
			return fmt.Errorf("config.disciplines contains %q twice", d)
		}
		seen[d] = true
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// HasDiscipline reports whether a discipline is in the catalog. An empty
// catalog accepts anything.
func (c *Config) HasDiscipline(name string) bool {
	if len(c.Disciplines) == 0 {
		return true
	}
	for _, d := range c.Disciplines {
		if d == name {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "callboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(eventName string) string {
	return fmt.Sprintf(defaultTemplate, eventName)
}

// Default returns the default Config struct for an event.
func Default(eventName string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, eventName)), &cfg)
	return &cfg
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

const defaultTemplate = `event:
  name: %s

telegram:
  token: ""
  api_base: ""
  poll_timeout_seconds: 30

disciplines:
  - welding
  - electrical-installation
  - carpentry
  - joinery
  - bricklaying
  - painting-and-decorating
  - plumbing-and-heating
  - automobile-technology
  - cnc-milling
  - cnc-turning
  - mechatronics
  - mobile-robotics
  - web-technologies
  - it-network-systems
  - graphic-design
  - restaurant-service
  - cooking
`
