// Package config provides configuration management for the geminiweb client.
// It handles loading and parsing YAML configuration files and provides
// structured access to client settings: cookie file location, proxy, browser
// impersonation, rotation interval, and model selection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the client configuration, loaded from a YAML file.
type Config struct {
	// CookieFile is the path to the JSON cookie export holding the session
	// credentials.
	CookieFile string `yaml:"cookie-file"`

	// Proxy routes outbound requests. It accepts either a single URL string
	// or a per-scheme map, e.g. {http: ..., https: ...}.
	Proxy Proxy `yaml:"proxy"`

	// Impersonate selects the browser impersonation profile.
	Impersonate string `yaml:"impersonate"`

	// RotationInterval is the proactive cookie-rotation period, e.g. "1h".
	RotationInterval Duration `yaml:"rotation-interval"`

	// Model is the default model name for new conversations.
	Model string `yaml:"model"`

	// Advanced marks the account as entitled to advanced-only models.
	Advanced bool `yaml:"advanced"`

	// Timeout is the per-request timeout, e.g. "300s".
	Timeout Duration `yaml:"timeout"`

	// ConvStore is the path of the bolt database persisting conversation
	// continuation metadata. Empty disables persistence.
	ConvStore string `yaml:"conv-store"`

	// PersistCookies writes rotated cookie values back into the cookie file.
	PersistCookies bool `yaml:"persist-cookies"`

	// WatchCookieFile hot-reloads credentials when the cookie file changes.
	WatchCookieFile bool `yaml:"watch-cookie-file"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`
}

// Duration parses YAML strings like "1h" or "300s" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Proxy is either a single proxy URL or a per-scheme map in YAML.
type Proxy struct {
	URL       string
	PerScheme map[string]string
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (p *Proxy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&p.URL)
	case yaml.MappingNode:
		return value.Decode(&p.PerScheme)
	default:
		return fmt.Errorf("proxy must be a URL string or a scheme-to-URL map")
	}
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, and applies defaults.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Model == "" {
		config.Model = "unspecified"
	}
	if config.RotationInterval <= 0 {
		config.RotationInterval = Duration(time.Hour)
	}
	if config.Timeout <= 0 {
		config.Timeout = Duration(300 * time.Second)
	}
	return &config, nil
}
