package e2ekit

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

// priorValue is what an environment variable held before it was
// overwritten. set is false when the variable did not exist and must be
// removed on restore.
type priorValue struct {
	value string
	set   bool
}

// EnvSnapshot records environment variables before they are overwritten
// so they can be restored.
type EnvSnapshot struct {
	prior map[string]priorValue
	order []string
}

// ApplyEnv records the current value of every key in env and then sets it.
// On failure the variables already set are restored.
func ApplyEnv(env map[string]string) (*EnvSnapshot, error) {
	s := &EnvSnapshot{prior: make(map[string]priorValue, len(env))}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v, ok := os.LookupEnv(k)
		s.prior[k] = priorValue{value: v, set: ok}
		s.order = append(s.order, k)
		if err := os.Setenv(k, env[k]); err != nil {
			return nil, errors.Join(fmt.Errorf("set %s: %w", k, err), s.Restore())
		}
	}
	return s, nil
}

// Keys returns the recorded variable names.
func (s *EnvSnapshot) Keys() []string {
	return slices.Clone(s.order)
}

// Prior returns the recorded value of key and whether it was set.
func (s *EnvSnapshot) Prior(key string) (string, bool) {
	p := s.prior[key]
	return p.value, p.set
}

// Restore puts every recorded variable back, deleting those that did not
// exist. It is idempotent.
func (s *EnvSnapshot) Restore() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		k := s.order[i]
		p := s.prior[k]
		var err error
		if p.set {
			err = os.Setenv(k, p.value)
		} else {
			err = os.Unsetenv(k)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", k, err))
		}
	}
	s.order = nil
	clear(s.prior)
	return errors.Join(errs...)
}
