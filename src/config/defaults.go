package config

import (
	"time"
)

// DefaultConfig returns a default configuration with sensible defaults
func DefaultConfig() *Config {
	paths := GetDefaultStoragePaths()

	return &Config{
		Version: "1.0",
		API: APIConfig{
			BaseURL:      "http://localhost:5001/v1",
			APIKeyEnvVar: "FLOWSCOPE_API_KEY",
			User:         "flowscope",
		},

		Client: ClientConfig{
			Message: RetryConfig{
				Timeout:    2 * time.Minute,
				MaxRetries: 3,
				RetryDelay: 1 * time.Second,
			},
			// Workflow sends hit heavier backend paths: longer timeout,
			// fewer retries.
			Workflow: RetryConfig{
				Timeout:    5 * time.Minute,
				MaxRetries: 2,
				RetryDelay: 1 * time.Second,
			},
			ExpiryWindow: 24 * time.Hour,
		},

		Diagnostics: DiagnosticsConfig{
			Enabled:               true,
			MaxNodeExecutions:     3,
			MaxSessionDuration:    5 * time.Minute,
			MaxEventInterval:      30 * time.Second,
			DetectMemoryLeaks:     false,
			MemoryGrowthThreshold: 256 * 1024 * 1024,
			IssueHistorySize:      200,
			ComparisonHistorySize: 100,
		},

		Storage: StorageConfig{
			DatabasePath: paths.DatabasePath,
			ReportDir:    paths.ReportDir,
		},

		LogLevel: "warn",
	}
}
