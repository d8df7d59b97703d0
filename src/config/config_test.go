package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:5001/v1", cfg.API.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Client.Message.Timeout)
	assert.Equal(t, 3, cfg.Client.Message.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Client.Workflow.Timeout)
	assert.Equal(t, 2, cfg.Client.Workflow.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Client.ExpiryWindow)
	assert.True(t, cfg.Diagnostics.Enabled)
	assert.Equal(t, 3, cfg.Diagnostics.MaxNodeExecutions)

	require.NoError(t, NewValidator().Validate(cfg))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().API.BaseURL, cfg.API.BaseURL)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api": {"base_url": "https://dify.example.com/v1", "user": "alice"},
		"log_level": "debug"
	}`), 0644))

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://dify.example.com/v1", cfg.API.BaseURL)
	assert.Equal(t, "alice", cfg.API.User)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Client.Message.MaxRetries)
	assert.True(t, cfg.Diagnostics.Enabled)
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	_, err := NewLoader().Load(path)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad url", func(c *Config) { c.API.BaseURL = "not a url" }},
		{"empty user", func(c *Config) { c.API.User = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"too many retries", func(c *Config) { c.Client.Message.MaxRetries = 99 }},
		{"zero node budget", func(c *Config) { c.Diagnostics.MaxNodeExecutions = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := NewValidator().Validate(cfg)
			require.Error(t, err)

			var verr ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.APIKeyEnvVar = "FLOWSCOPE_TEST_KEY"

	t.Setenv("FLOWSCOPE_TEST_KEY", "sk-123")
	assert.Equal(t, "sk-123", cfg.APIKey())

	cfg.API.APIKeyEnvVar = ""
	assert.Equal(t, "", cfg.APIKey())
}
