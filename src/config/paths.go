package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// StoragePaths contains paths for application storage
type StoragePaths struct {
	DatabasePath string
	ReportDir    string
}

// GetDefaultStoragePaths returns default storage paths using XDG base directories
func GetDefaultStoragePaths() StoragePaths {
	// Use XDG_STATE_HOME for runtime state data
	return StoragePaths{
		DatabasePath: filepath.Join(xdg.StateHome, "flowscope", "flowscope.db"),
		ReportDir:    filepath.Join(xdg.StateHome, "flowscope", "reports"),
	}
}

// GetDefaultConfigPath returns the default config file location
func GetDefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "flowscope", "config.json")
}
