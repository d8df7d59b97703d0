// Package config holds the application configuration: API endpoint, retry
// policies, diagnostics thresholds, and storage paths.
package config

import (
	"time"
)

// Config is the complete configuration for flowscope.
type Config struct {
	// Version of the configuration format
	Version string `json:"version"`

	// API endpoint configuration
	API APIConfig `json:"api"`

	// Client retry and timeout configuration
	Client ClientConfig `json:"client"`

	// Diagnostics thresholds
	Diagnostics DiagnosticsConfig `json:"diagnostics"`

	// Storage paths
	Storage StorageConfig `json:"storage"`

	// LogLevel controls logger verbosity
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// APIConfig describes the chat endpoint.
type APIConfig struct {
	// BaseURL of the chat API, without a trailing slash
	BaseURL string `json:"base_url" validate:"required,url"`

	// APIKeyEnvVar names the environment variable holding the API key
	APIKeyEnvVar string `json:"api_key_env_var,omitempty"`

	// User identifies the end user in requests
	User string `json:"user" validate:"required"`
}

// RetryConfig is one traffic class's timeout and retry policy.
type RetryConfig struct {
	// Timeout for a single attempt
	Timeout time.Duration `json:"timeout" validate:"min=0"`

	// MaxRetries after the first attempt
	MaxRetries int `json:"max_retries" validate:"min=0,max=10"`

	// RetryDelay is the base exponential backoff delay
	RetryDelay time.Duration `json:"retry_delay" validate:"min=0"`
}

// ClientConfig holds per-traffic-class policies and identity expiry.
type ClientConfig struct {
	// Message policy for regular sends
	Message RetryConfig `json:"message"`

	// Workflow policy for heavier workflow-class sends
	Workflow RetryConfig `json:"workflow"`

	// ExpiryWindow is how long a conversation id stays reusable
	ExpiryWindow time.Duration `json:"expiry_window" validate:"min=0"`
}

// DiagnosticsConfig holds the anomaly detection thresholds.
type DiagnosticsConfig struct {
	// Enabled toggles the whole diagnostics engine
	Enabled bool `json:"enabled"`

	// MaxNodeExecutions is the per-node execution budget
	MaxNodeExecutions int `json:"max_node_executions" validate:"min=1"`

	// MaxSessionDuration bounds active session age
	MaxSessionDuration time.Duration `json:"max_session_duration" validate:"min=0"`

	// MaxEventInterval bounds how long a node may run between starts
	MaxEventInterval time.Duration `json:"max_event_interval" validate:"min=0"`

	// DetectMemoryLeaks toggles process RSS sampling
	DetectMemoryLeaks bool `json:"detect_memory_leaks"`

	// MemoryGrowthThreshold in bytes for the memory leak rule
	MemoryGrowthThreshold uint64 `json:"memory_growth_threshold"`

	// IssueHistorySize bounds the global issue ring buffer
	IssueHistorySize int `json:"issue_history_size" validate:"min=1"`

	// ComparisonHistorySize bounds the parameter comparison ring buffer
	ComparisonHistorySize int `json:"comparison_history_size" validate:"min=1"`
}

// StorageConfig holds filesystem locations.
type StorageConfig struct {
	// DatabasePath is the sqlite database location
	DatabasePath string `json:"database_path,omitempty"`

	// ReportDir is where exported reports are written
	ReportDir string `json:"report_dir,omitempty"`
}
