package registry

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/infer/runtime/inference/model"
)

// DriverConfig is the opaque configuration value handed to a ProviderInit.
// The common fields cover every driver; provider-specific switches travel in
// Options. Decodable from YAML via ParseDriverConfig or built in code.
type DriverConfig struct {
	// APIKey authenticates against the provider. Constructors resolve it
	// into composed headers and do not retain the raw value.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint when set.
	BaseURL string `yaml:"base_url"`

	// Timeout overrides the per-attempt timeout when positive.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries overrides the retry budget when non-nil.
	MaxRetries *int `yaml:"max_retries"`

	// DefaultModel is the model identifier used when a request leaves Model
	// empty and the driver supports a default.
	DefaultModel string `yaml:"default_model"`

	// Options carries provider-specific switches (for example,
	// "anthropic_beta" or "organization").
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named provider-specific switch when it is a
// string.
func (c DriverConfig) StringOption(name string) (string, bool) {
	v, ok := c.Options[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolOption returns the named provider-specific switch when it is a bool.
func (c DriverConfig) BoolOption(name string) (bool, bool) {
	v, ok := c.Options[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// UnmarshalYAML decodes the config, accepting Go duration strings (for
// example, "30s") for the timeout field.
func (c *DriverConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		APIKey       string         `yaml:"api_key"`
		BaseURL      string         `yaml:"base_url"`
		Timeout      string         `yaml:"timeout"`
		MaxRetries   *int           `yaml:"max_retries"`
		DefaultModel string         `yaml:"default_model"`
		Options      map[string]any `yaml:"options"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	c.APIKey = r.APIKey
	c.BaseURL = r.BaseURL
	c.MaxRetries = r.MaxRetries
	c.DefaultModel = r.DefaultModel
	c.Options = r.Options
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

// ParseDriverConfig decodes a YAML document into a DriverConfig.
func ParseDriverConfig(data []byte) (DriverConfig, error) {
	var cfg DriverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DriverConfig{}, model.NewConfigError("driver config: " + err.Error())
	}
	return cfg, nil
}
