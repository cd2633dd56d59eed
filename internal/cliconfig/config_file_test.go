package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				StateDir:    "/file/state",
				EnvConfig:   "tests/e2e.toml",
				Manifest:    "tests/fixtures.toml",
				LockTimeout: "30s",
				LogLevel:    "debug",
				WatchConfig: &trueVal,
			},
			changed: map[string]bool{},
			expected: Config{
				StateDir:    "/file/state",
				EnvConfig:   "tests/e2e.toml",
				Manifest:    "tests/fixtures.toml",
				LockTimeout: 30 * time.Second,
				LogLevel:    "debug",
				WatchConfig: true,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				StateDir: "/file/state",
				Manifest: "file.toml",
			},
			changed: map[string]bool{"state-dir": true},
			initial: Config{StateDir: "/flag/state"},
			expected: Config{
				StateDir: "/flag/state", // unchanged because flag was set
				Manifest: "file.toml",
			},
		},
		{
			name:       "empty values keep defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    DefaultConfig(),
			expected:   DefaultConfig(),
		},
		{
			name:       "invalid duration",
			fileConfig: FileConfig{LockTimeout: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
state_dir = "/var/tmp/e2e"
env_config = "tests/e2e.toml"
lock_timeout = "5s"
watch_config = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}
	if fc.StateDir != "/var/tmp/e2e" || fc.EnvConfig != "tests/e2e.toml" || fc.LockTimeout != "5s" {
		t.Errorf("LoadFileConfig() = %+v", fc)
	}
	if fc.WatchConfig == nil || *fc.WatchConfig {
		t.Errorf("WatchConfig = %v, want explicit false", fc.WatchConfig)
	}
	if fc.Manifest != "" {
		t.Errorf("Manifest = %q, want empty", fc.Manifest)
	}
}

func TestLoadFileConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFileConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("state_dir = [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(bad); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	if p == "" {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(p, filepath.Join(".e2ekit", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %v", p)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists(present) = false")
	}
	if FileExists(filepath.Join(dir, "absent")) {
		t.Error("FileExists(absent) = true")
	}
}
