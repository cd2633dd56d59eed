package cliconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/bft-labs/e2ekit/pkg/log"
)

// Default file names, relative to the working directory.
const (
	DefaultEnvConfigFile = "e2e.toml"
	DefaultManifestFile  = "fixtures.toml"
)

// Config holds CLI configuration for e2ekit.
type Config struct {
	StateDir  string
	EnvConfig string
	Manifest  string

	LockTimeout time.Duration
	LogLevel    string

	WatchConfig bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		StateDir:    os.TempDir(),
		EnvConfig:   DefaultEnvConfigFile,
		Manifest:    DefaultManifestFile,
		LockTimeout: 10 * time.Second,
		LogLevel:    "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state-dir is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
