package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (E2EKIT_*).
// It respects flags that have been explicitly set (changed map).
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("state-dir", os.Getenv("E2EKIT_STATE_DIR"), &cfg.StateDir)
	s.setString("env-config", os.Getenv("E2EKIT_ENV_CONFIG"), &cfg.EnvConfig)
	s.setString("manifest", os.Getenv("E2EKIT_MANIFEST"), &cfg.Manifest)
	s.setString("log-level", os.Getenv("E2EKIT_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("lock-timeout", os.Getenv("E2EKIT_LOCK_TIMEOUT"), &cfg.LockTimeout); err != nil {
		return err
	}

	s.setBoolFromString("watch-config", os.Getenv("E2EKIT_WATCH_CONFIG"), &cfg.WatchConfig)
	return nil
}
