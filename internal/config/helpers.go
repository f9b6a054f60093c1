package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigHelpers provides convenient access to global configuration
type ConfigHelpers struct {
	config *GlobalConfig
}

// NewConfigHelpers creates a new config helpers instance
func NewConfigHelpers(config *GlobalConfig) *ConfigHelpers {
	return &ConfigHelpers{config: config}
}

// StoreDir returns the absolute path to the store directory
func (c *ConfigHelpers) StoreDir() (string, error) {
	return filepath.Abs(c.config.StoreDir)
}

// TempDir returns the temporary directory path
func (c *ConfigHelpers) TempDir() string {
	if c.config.TempDir == "" {
		return os.TempDir()
	}
	return c.config.TempDir
}

// CreateStoreDir ensures the store directory exists and returns its
// absolute path
func (c *ConfigHelpers) CreateStoreDir() (string, error) {
	storeDir, err := c.StoreDir()
	if err != nil {
		return "", fmt.Errorf("resolving store directory: %w", err)
	}
	return storeDir, createDirIfNotExists(storeDir)
}

// CreateTempDir ensures a temp subdirectory exists
func (c *ConfigHelpers) CreateTempDir(subdir string) (string, error) {
	tempDir := filepath.Join(c.TempDir(), subdir)
	err := createDirIfNotExists(tempDir)
	return tempDir, err
}

// Helper function to create directories
func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
