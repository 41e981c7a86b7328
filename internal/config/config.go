// Package config provides configuration management for batch-ping.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nashen-netdev/server-ping-test/internal/errors"
)

// Config represents the application configuration structure
type Config struct {
	Targets        string        `mapstructure:"targets"`         // Path to tabular CSV target file
	Hosts          string        `mapstructure:"hosts"`           // Comma-separated inline target specifications
	HostFile       string        `mapstructure:"hostfile"`        // Path to file with one target spec per line
	Inventory      string        `mapstructure:"inventory"`       // Path to YAML inventory file
	Filter         string        `mapstructure:"filter"`          // Restrict run to matching targets
	OutputDir      string        `mapstructure:"output-dir"`      // Directory for session logs and reports
	Concurrency    string        `mapstructure:"concurrency"`     // Concurrent session limit ("auto" or number)
	LaunchInterval time.Duration `mapstructure:"launch-interval"` // Stagger between session launches
	ConnectRetries int           `mapstructure:"connect-retries"` // Connect attempts per target before giving up
	PollInterval   time.Duration `mapstructure:"poll-interval"`   // Idle delay between channel polls
	DrainWindow    time.Duration `mapstructure:"drain-window"`    // Settle time after the interrupt byte
	StopTimeout    time.Duration `mapstructure:"stop-timeout"`    // Join window for workers after stop
	Report         string        `mapstructure:"report"`          // Report format (text, json)
	Quiet          bool          `mapstructure:"quiet"`           // Suppress non-error output
	DryRun         bool          `mapstructure:"dry-run"`         // Show probe plan without connecting
	LogLevel       string        `mapstructure:"log-level"`       // Log level (info, error)
	LogFormat      string        `mapstructure:"log-format"`      // Log format (json, text)
	ShowProgress   bool          `mapstructure:"progress"`        // Show stop-drain progress
	ShowStats      bool          `mapstructure:"stats"`           // Show live statistics dashboard
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars, CLI flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v *viper.Viper
}

// NewManager creates a new configuration manager
func NewManager() Manager {
	return &ViperManager{
		v: viper.New(),
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("output-dir", "results")
	m.v.SetDefault("concurrency", "auto")
	m.v.SetDefault("launch-interval", 300*time.Millisecond)
	m.v.SetDefault("connect-retries", 3)
	m.v.SetDefault("poll-interval", 100*time.Millisecond)
	m.v.SetDefault("drain-window", 500*time.Millisecond)
	m.v.SetDefault("stop-timeout", 3*time.Second)
	m.v.SetDefault("report", "text")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("dry-run", false)
	m.v.SetDefault("log-level", "info")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("progress", true)
	m.v.SetDefault("stats", false)
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	// Set defaults first
	m.SetDefaults()

	// Configure config file locations and formats
	m.v.SetConfigName("config")

	// Add config paths in precedence order (current dir highest, system lowest)
	m.v.AddConfigPath(".")

	// Add user config path
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "batch-ping")
		m.v.AddConfigPath(userConfigDir)
	}

	// Add system config path (lowest precedence)
	m.v.AddConfigPath("/etc/batch-ping/")

	// Set up environment variable handling
	m.v.SetEnvPrefix("BATCH_PING")
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	// Try to read config file with multiple formats
	formats := []string{"yaml", "yml", "json", "toml"}

	for _, format := range formats {
		m.v.SetConfigType(format)
		if err := m.v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading %s config file: %w", format, err)
			}
		} else {
			// Config file found and loaded successfully
			break
		}
	}

	// Unmarshal into Config struct
	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate the configuration
	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	// Validate concurrency
	if config.Concurrency != "auto" {
		if concurrency, err := strconv.Atoi(config.Concurrency); err != nil {
			return errors.NewSetupError(fmt.Sprintf("invalid concurrency value '%s': must be 'auto' or a positive integer", config.Concurrency), nil)
		} else if concurrency <= 0 {
			return errors.NewSetupError(fmt.Sprintf("concurrency must be positive, got %d", concurrency), nil)
		}
	}

	if config.ConnectRetries < 1 {
		return errors.NewSetupError(fmt.Sprintf("connect-retries must be at least 1, got %d", config.ConnectRetries), nil)
	}

	if config.LaunchInterval < 0 {
		return errors.NewSetupError(fmt.Sprintf("launch-interval must be non-negative, got %v", config.LaunchInterval), nil)
	}
	if config.PollInterval <= 0 {
		return errors.NewSetupError(fmt.Sprintf("poll-interval must be positive, got %v", config.PollInterval), nil)
	}
	if config.DrainWindow <= 0 {
		return errors.NewSetupError(fmt.Sprintf("drain-window must be positive, got %v", config.DrainWindow), nil)
	}
	if config.StopTimeout <= 0 {
		return errors.NewSetupError(fmt.Sprintf("stop-timeout must be positive, got %v", config.StopTimeout), nil)
	}

	if config.OutputDir == "" {
		return errors.NewSetupError("output-dir cannot be empty", nil)
	}

	// Validate report format
	validReports := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validReports[config.Report] {
		return errors.NewSetupError(fmt.Sprintf("invalid report format '%s': must be 'text' or 'json'", config.Report), nil)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"info":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return errors.NewSetupError(fmt.Sprintf("invalid log level '%s': must be one of 'info' or 'error'", config.LogLevel), nil)
	}

	// Validate log format
	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return errors.NewSetupError(fmt.Sprintf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat), nil)
	}

	return nil
}
