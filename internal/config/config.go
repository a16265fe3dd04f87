// Package config provides configuration management for ssh-commander.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SSH_COMMANDER_RETRIES
const EnvPrefix = "SSH_COMMANDER"

// Config represents the application configuration structure
type Config struct {
	Servers        string        `mapstructure:"servers"`         // Servers file (empty: resolved by inventory)
	KnownHosts     string        `mapstructure:"known-hosts"`     // known_hosts file for trust-on-first-use
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"` // Dial and handshake timeout
	PollInterval   time.Duration `mapstructure:"poll-interval"`   // Output and exit-status polling interval
	ChunkSize      int           `mapstructure:"chunk-size"`      // Bytes read per stream per poll
	Retries        int           `mapstructure:"retries"`         // Connect retries per target
	Output         string        `mapstructure:"output"`          // Summary format (text, json)
	LogLevel       string        `mapstructure:"log-level"`       // debug, info, warn, error
	LogFormat      string        `mapstructure:"log-format"`      // text, json
	Quiet          bool          `mapstructure:"quiet"`           // Suppress non-error logs
	NoColor        bool          `mapstructure:"no-color"`        // Disable colored output
	Template       bool          `mapstructure:"template"`        // Render commands as per-server templates
}

// Manager defines the interface for configuration management
type Manager interface {
	// Load reads configuration from all sources (files, env vars, CLI flags)
	Load() (*Config, error)

	// SetDefaults establishes default configuration values
	SetDefaults()

	// Validate ensures configuration values are valid and consistent
	Validate(config *Config) error

	// BindFlags lets set CLI flags override every other source
	BindFlags(flags *pflag.FlagSet) error

	// ConfigFile returns the config file that was read, if any
	ConfigFile() string
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v     *viper.Viper
	paths []string
}

// NewManager creates a new configuration manager reading config.{yaml,yml,json,toml}
// from ~/.config/ssh-commander and /etc/ssh-commander
func NewManager() Manager {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "ssh-commander"))
	}
	paths = append(paths, "/etc/ssh-commander/")
	return NewManagerWithPaths(paths...)
}

// NewManagerWithPaths creates a manager searching only the given directories
func NewManagerWithPaths(paths ...string) *ViperManager {
	return &ViperManager{
		v:     viper.New(),
		paths: paths,
	}
}

// SetDefaults establishes default configuration values
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("servers", "")
	m.v.SetDefault("known-hosts", "")
	m.v.SetDefault("connect-timeout", 30*time.Second)
	m.v.SetDefault("poll-interval", 100*time.Millisecond)
	m.v.SetDefault("chunk-size", 4096)
	m.v.SetDefault("retries", 0)
	m.v.SetDefault("output", "text")
	m.v.SetDefault("log-level", "warn")
	m.v.SetDefault("log-format", "text")
	m.v.SetDefault("quiet", false)
	m.v.SetDefault("no-color", false)
	m.v.SetDefault("template", false)
}

// BindFlags binds CLI flags to configuration keys of the same name
func (m *ViperManager) BindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if !isKey(f.Name) {
			return
		}
		if bindErr := m.v.BindPFlag(f.Name, f); bindErr != nil && err == nil {
			err = fmt.Errorf("failed to bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

func isKey(name string) bool {
	switch name {
	case "servers", "known-hosts", "connect-timeout", "poll-interval", "chunk-size",
		"retries", "output", "log-level", "log-format", "quiet", "no-color", "template":
		return true
	}
	return false
}

// Load reads configuration from all sources with proper precedence
func (m *ViperManager) Load() (*Config, error) {
	m.SetDefaults()

	m.v.SetConfigName("config")
	for _, p := range m.paths {
		m.v.AddConfigPath(p)
	}

	m.v.SetEnvPrefix(EnvPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AutomaticEnv()

	// The format follows the file extension: yaml, yml, json or toml
	if err := m.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := m.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := m.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ConfigFile returns the config file that was read, if any
func (m *ViperManager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// Validate ensures configuration values are valid and consistent
func (m *ViperManager) Validate(config *Config) error {
	if config.Retries < 0 {
		return fmt.Errorf("retries must be non-negative, got %d", config.Retries)
	}

	if config.ConnectTimeout <= 0 {
		return fmt.Errorf("connect-timeout must be positive, got %v", config.ConnectTimeout)
	}
	if config.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive, got %v", config.PollInterval)
	}
	if config.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive, got %d", config.ChunkSize)
	}

	validOutputs := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validOutputs[config.Output] {
		return fmt.Errorf("invalid output format '%s': must be one of 'text' or 'json'", config.Output)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info', 'warn' or 'error'", config.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[config.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'json' or 'text'", config.LogFormat)
	}

	return nil
}
