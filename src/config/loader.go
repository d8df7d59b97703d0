package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Loader handles loading configuration from disk over the defaults
type Loader struct {
	validator *Validator
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validator: NewValidator(),
	}
}

// Load reads the configuration file at path, merged over the defaults. An
// empty path falls back to the default XDG location; a missing file is not
// an error.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = GetDefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config from %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config from %s: %w", path, err)
	}

	if err := l.validator.Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// APIKey resolves the API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.API.APIKeyEnvVar == "" {
		return ""
	}
	return os.Getenv(c.API.APIKeyEnvVar)
}
