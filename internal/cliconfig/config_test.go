package cliconfig

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StateDir != os.TempDir() {
		t.Errorf("StateDir = %v, want %v", cfg.StateDir, os.TempDir())
	}
	if cfg.EnvConfig != DefaultEnvConfigFile {
		t.Errorf("EnvConfig = %v, want %v", cfg.EnvConfig, DefaultEnvConfigFile)
	}
	if cfg.LockTimeout != 10*time.Second {
		t.Errorf("LockTimeout = %v, want 10s", cfg.LockTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid",
			config: Config{StateDir: "/tmp/state", LockTimeout: time.Second, LogLevel: "debug"},
		},
		{
			name:   "empty log level means info",
			config: Config{StateDir: "/tmp/state", LockTimeout: time.Second},
		},
		{
			name:    "missing state dir",
			config:  Config{LockTimeout: time.Second},
			wantErr: true,
		},
		{
			name:    "zero lock timeout",
			config:  Config{StateDir: "/tmp/state"},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			config:  Config{StateDir: "/tmp/state", LockTimeout: time.Second, LogLevel: "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigSetter(t *testing.T) {
	s := newConfigSetter(map[string]bool{"locked": true})

	dst := "initial"
	s.setString("locked", "new", &dst)
	if dst != "initial" {
		t.Errorf("changed flag overwritten: %q", dst)
	}
	s.setString("free", "", &dst)
	if dst != "initial" {
		t.Errorf("empty value overwrote: %q", dst)
	}
	s.setString("free", "new", &dst)
	if dst != "new" {
		t.Errorf("setString = %q, want new", dst)
	}

	var d time.Duration
	if err := s.setDuration("free", "bogus", &d); err == nil {
		t.Error("setDuration accepted bogus value")
	}

	var b bool
	s.setBoolFromString("free", "1", &b)
	if !b {
		t.Error("setBoolFromString(1) = false")
	}
	s.setBoolFromString("free", "no", &b)
	if b {
		t.Error("setBoolFromString(no) = true")
	}
}
