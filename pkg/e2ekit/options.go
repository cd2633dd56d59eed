package e2ekit

import (
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/log"
	"github.com/bft-labs/e2ekit/pkg/state"
)

// Logger is the interface for structured logging.
type Logger = log.Logger

// Observer is an additional lifecycle observer. It receives the events
// whose handler interfaces it implements, such as
// lifecycle.ClassSetupHandler[*Context].
type Observer = lifecycle.Observer

// PhaseEmitter is notified of phase transitions.
type PhaseEmitter = lifecycle.PhaseEmitter

// Option configures optional behavior of a Coordinator.
type Option func(*options)

// options holds the optional configuration for a Coordinator.
type options struct {
	logger        log.Logger
	store         state.Store
	resolver      ConfigResolver
	appFactory    AppFactory
	appFactorySet bool
	opener        StorageOpener
	pid           int
	phaseEmitter  lifecycle.PhaseEmitter
	observers     []Observer
	watchConfig   bool
	spawner       Spawner
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
		opener: OpenSQLStorage,
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStore sets the cross-process store. If not provided, a file store in
// Config.StateDir is used.
func WithStore(s state.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithResolver sets the environment resolver. If not provided, a resolver
// over Config.EnvConfigFile is used.
func WithResolver(r ConfigResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithAppFactory sets the application factory. If not provided, the default
// factory opens storage through the configured StorageOpener.
func WithAppFactory(f AppFactory) Option {
	return func(o *options) {
		o.appFactory = f
		o.appFactorySet = true
	}
}

// WithStorageOpener sets how the default factory opens fixture storage.
func WithStorageOpener(open StorageOpener) Option {
	return func(o *options) {
		o.opener = open
	}
}

// WithProcessID overrides the process id used for role detection.
func WithProcessID(pid int) Option {
	return func(o *options) {
		o.pid = pid
	}
}

// WithPhaseEmitter sets a handler for phase transitions.
func WithPhaseEmitter(e PhaseEmitter) Option {
	return func(o *options) {
		o.phaseEmitter = e
	}
}

// WithObserver registers an additional observer after the built-in ones.
// On class teardown it runs before the shared record is destroyed.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithConfigWatch reloads the environment config file when it changes.
// It only applies to file-backed resolvers.
func WithConfigWatch(enabled bool) Option {
	return func(o *options) {
		o.watchConfig = enabled
	}
}

// WithSpawner sets how Run executes isolated tests. Without a spawner they
// run in the current process.
func WithSpawner(sp Spawner) Option {
	return func(o *options) {
		o.spawner = sp
	}
}
