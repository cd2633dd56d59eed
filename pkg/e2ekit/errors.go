package e2ekit

import (
	"errors"
	"fmt"

	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/state"
)

// Errors returned by the coordinator and the fixture managers. They can be
// checked with errors.Is.
var (
	// ErrConfiguration is wrapped by ConfigurationError.
	ErrConfiguration = errors.New("e2ekit: configuration error")

	// ErrAlreadyUnloaded is returned by Unload when no table is loaded and
	// force is false.
	ErrAlreadyUnloaded = errors.New("e2ekit: fixtures already unloaded")

	// ErrNoActiveClass is returned when test events arrive outside a class.
	ErrNoActiveClass = errors.New("e2ekit: no active test class")

	// ErrUnknownAlias is returned by fixture accessors for unknown aliases.
	ErrUnknownAlias = errors.New("e2ekit: unknown fixture alias")
)

// Errors of the underlying packages, re-exported for convenience.
var (
	ErrAlreadyLoaded      = fixture.ErrAlreadyLoaded
	ErrCircularDependency = fixture.ErrCircularDependency
	ErrStoreUnavailable   = state.ErrStoreUnavailable
	ErrUnknownEvent       = lifecycle.ErrUnknownEvent
	ErrMissingHandler     = lifecycle.ErrMissingHandler
	ErrDuplicateObserver  = lifecycle.ErrDuplicateObserver
	ErrInvalidTransition  = lifecycle.ErrInvalidTransition
)

// ConfigurationError reports required wiring that is missing. It is raised
// before any fixture is touched.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("e2ekit: configuration error: %s: %s", e.Component, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configError(component, format string, args ...any) error {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}
