// Package config loads and persists the wallet's on-disk configuration:
// where its encrypted store lives, which validator backend to dial, and
// how it logs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a wallet process.
type Config struct {
	// Storage settings for the encrypted persistent store.
	Storage StorageConfig `yaml:"storage"`

	// Backend settings for the validator connection.
	Backend BackendConfig `yaml:"backend"`

	// Logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// RecordHoldTime is a record hold time in validator ticks, loaded from
	// and saved to the config file. The wallet engine does not read it:
	// its hold time is the length of the validator mirror's record-root
	// history.
	RecordHoldTime int `yaml:"record_hold_time"`
}

// StorageConfig holds encrypted-store settings.
type StorageConfig struct {
	// DataDir is the directory holding the wallet's sqlite-backed store.
	DataDir string `yaml:"data_dir"`
}

// BackendConfig holds validator-connection settings.
type BackendConfig struct {
	// URL is the websocket endpoint of the validator process to dial.
	// Empty means use the in-memory reference backend, for local testing.
	URL string `yaml:"url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stdout).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.cap-wallet",
		},
		Backend: BackendConfig{
			URL: "",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		RecordHoldTime: 100,
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file in dataDir. If the file
// doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# cap-wallet configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
