package e2ekit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/log"
	"github.com/bft-labs/e2ekit/pkg/state"
)

// Config holds the settings of a Coordinator.
type Config struct {
	// StateDir is the directory of the shared state file. Used when no
	// store is injected with WithStore.
	StateDir string

	// LockTimeout bounds lock acquisition on the shared state file.
	LockTimeout time.Duration

	// EnvConfigFile is the scope file of the environment resolver. Used
	// when no resolver is injected with WithResolver.
	EnvConfigFile string
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	if c.LockTimeout <= 0 {
		c.LockTimeout = state.DefaultLockTimeout
	}
}

// ConfigResolver resolves the environment of a test class path.
type ConfigResolver interface {
	Resolve(classPath string) (envconfig.Config, error)
}

// Coordinator drives the lifecycle of one test class at a time. It decides
// whether the process is the main one or a secondary one and dispatches
// each event to the config provider and the fixture managers in order.
type Coordinator struct {
	config Config
	opts   options
	logger log.Logger
	pid    int

	bus    *lifecycle.Bus[*Context]
	phases *lifecycle.Phases
	store  state.Store

	app *AppFixtureManager
	db  *DBFixtureManager

	mu      sync.Mutex
	current *Context
	watcher *envconfig.Watcher
}

// New creates a coordinator. Missing wiring is reported as a
// ConfigurationError before anything touches the store.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	cfg.SetDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	if o.store == nil && cfg.StateDir != "" {
		o.store = state.NewFileStore(
			filepath.Join(cfg.StateDir, state.DefaultFileName),
			state.WithLockTimeout(cfg.LockTimeout),
			state.WithLogger(log.Named(logger, "state")),
		)
	}
	if o.store == nil {
		return nil, configError("store", "set Config.StateDir or use WithStore")
	}

	if o.resolver == nil && cfg.EnvConfigFile != "" {
		o.resolver = envconfig.NewResolver(cfg.EnvConfigFile,
			envconfig.WithLogger(log.Named(logger, "envconfig")))
	}
	if o.resolver == nil {
		return nil, configError("resolver", "set Config.EnvConfigFile or use WithResolver")
	}

	if !o.appFactorySet {
		o.appFactory = DefaultAppFactory(o.opener)
	}
	if o.appFactory == nil {
		return nil, configError("app factory", "nil AppFactory")
	}

	pid := o.pid
	if pid == 0 {
		pid = os.Getpid()
	}

	c := &Coordinator{
		config: cfg,
		opts:   o,
		logger: logger,
		pid:    pid,
		bus:    lifecycle.NewBus[*Context](log.Named(logger, "bus")),
		phases: lifecycle.NewPhases(log.Named(logger, "phase"), o.phaseEmitter),
		store:  o.store,
		app:    NewAppFixtureManager(o.appFactory, log.Named(logger, "app-fixture")),
		db:     NewDBFixtureManager(o.store, log.Named(logger, "db-fixtures")),
	}
	if err := c.register(); err != nil {
		return nil, err
	}
	return c, nil
}

// register wires observers in dispatch order: the config provider before
// the application, the application before the database on setup, and the
// reverse on teardown. The coordinator runs last on class teardown.
func (c *Coordinator) register() error {
	provider := &configProvider{resolver: c.opts.resolver}

	order := []struct {
		ev        lifecycle.Event
		observers []lifecycle.Observer
	}{
		{lifecycle.EventClassSetup, []lifecycle.Observer{provider, c.app, c.db}},
		{lifecycle.EventTestSetup, []lifecycle.Observer{c.app, c.db}},
		{lifecycle.EventTestTeardown, []lifecycle.Observer{c.db, c.app}},
		{lifecycle.EventClassTeardown, []lifecycle.Observer{c.db, c.app}},
	}
	for _, step := range order {
		for _, o := range step.observers {
			if err := c.bus.Register(step.ev, o); err != nil {
				return err
			}
		}
		for _, o := range c.opts.observers {
			if handles(o, step.ev) {
				if err := c.bus.Register(step.ev, o); err != nil {
					return err
				}
			}
		}
	}
	return c.bus.Register(lifecycle.EventClassTeardown, c)
}

// handles reports whether o implements the handler for ev.
func handles(o lifecycle.Observer, ev lifecycle.Event) bool {
	switch ev {
	case lifecycle.EventClassSetup:
		_, ok := o.(lifecycle.ClassSetupHandler[*Context])
		return ok
	case lifecycle.EventTestSetup:
		_, ok := o.(lifecycle.TestSetupHandler[*Context])
		return ok
	case lifecycle.EventTestTeardown:
		_, ok := o.(lifecycle.TestTeardownHandler[*Context])
		return ok
	case lifecycle.EventClassTeardown:
		_, ok := o.(lifecycle.ClassTeardownHandler[*Context])
		return ok
	}
	return false
}

// Name returns the observer name of the coordinator.
func (c *Coordinator) Name() string { return "coordinator" }

// ClassSetup starts a test class. The process becomes the main one if it
// creates the shared record, a secondary one otherwise. Failing to reach
// the store is fatal.
func (c *Coordinator) ClassSetup(ctx context.Context, class TestClass) error {
	if err := c.phases.Check(lifecycle.EventClassSetup); err != nil {
		return err
	}
	if class.ID == "" {
		return configError("class", "empty class id")
	}

	rec, created, err := c.store.Init(ctx, class.ID, c.pid)
	if err != nil {
		c.phases.Break("shared state unavailable")
		return fmt.Errorf("class setup %s: %w", class.ID, err)
	}

	role := RoleSecondary
	if created {
		role = RoleMain
	}
	cc := &Context{
		Class:     class,
		Role:      role,
		ProcessID: c.pid,
		Record:    rec,
		Store:     c.store,
		Logger:    c.logger,
	}
	c.mu.Lock()
	c.current = cc
	c.mu.Unlock()

	c.logger.Info("class setup",
		log.String("class", class.ID),
		log.String("role", role.String()),
		log.Int("pid", c.pid),
		log.Int("start_pid", rec.StartProcessID),
	)

	if err := c.startWatcher(ctx); err != nil {
		c.phases.Break("config watcher failed")
		return err
	}

	if err := c.bus.Dispatch(ctx, lifecycle.ClassSetup[*Context]{Ctx: cc}); err != nil {
		c.phases.Break(err.Error())
		return fmt.Errorf("class setup %s: %w", class.ID, err)
	}
	return c.phases.Advance(lifecycle.EventClassSetup)
}

// TestSetup prepares one test.
func (c *Coordinator) TestSetup(ctx context.Context, tc TestCase) error {
	cc, err := c.active(lifecycle.EventTestSetup)
	if err != nil {
		return err
	}
	cc.Test = tc

	msg := lifecycle.TestSetup[*Context]{Ctx: cc, Test: c.test(cc, tc)}
	if err := c.bus.Dispatch(ctx, msg); err != nil {
		c.phases.Break(err.Error())
		return fmt.Errorf("test setup %s: %w", tc.Name, err)
	}
	return c.phases.Advance(lifecycle.EventTestSetup)
}

// TestTeardown cleans up after one test. classBoundary is true for the last
// test of the class.
func (c *Coordinator) TestTeardown(ctx context.Context, tc TestCase, classBoundary bool) error {
	cc, err := c.active(lifecycle.EventTestTeardown)
	if err != nil {
		return err
	}

	msg := lifecycle.TestTeardown[*Context]{Ctx: cc, Test: c.test(cc, tc), ClassBoundary: classBoundary}
	if err := c.bus.Dispatch(ctx, msg); err != nil {
		c.phases.Break(err.Error())
		return fmt.Errorf("test teardown %s: %w", tc.Name, err)
	}
	cc.Test = TestCase{}
	return c.phases.Advance(lifecycle.EventTestTeardown)
}

// ClassTeardown ends the class. The shared record is destroyed only by the
// process that created it.
func (c *Coordinator) ClassTeardown(ctx context.Context) error {
	if err := c.phases.Check(lifecycle.EventClassTeardown); err != nil {
		return err
	}

	c.mu.Lock()
	cc := c.current
	c.mu.Unlock()

	if cc != nil {
		if err := c.bus.Dispatch(ctx, lifecycle.ClassTeardown[*Context]{Ctx: cc}); err != nil {
			c.phases.Break(err.Error())
			return fmt.Errorf("class teardown %s: %w", cc.Class.ID, err)
		}
	}

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	return c.phases.Advance(lifecycle.EventClassTeardown)
}

// OnClassTeardown destroys the shared record when this process created it.
func (c *Coordinator) OnClassTeardown(ctx context.Context, msg lifecycle.ClassTeardown[*Context]) error {
	rec, ok, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("read shared state: %w", err)
	}
	if !ok {
		return nil
	}
	if rec.StartProcessID != c.pid {
		c.logger.Debug("keeping shared state owned by another process",
			log.Int("start_pid", rec.StartProcessID),
			log.Int("pid", c.pid),
		)
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("destroy shared state: %w", err)
	}
	c.logger.Info("shared state destroyed", log.String("class", msg.Ctx.Class.ID))
	return nil
}

// TestFunc is the body of a test.
type TestFunc func(ctx context.Context, cc *Context, tc TestCase) error

// Spawner runs an isolated test in a separate process. The child process
// performs its own class setup, which makes it a secondary process.
type Spawner func(ctx context.Context, class TestClass, tc TestCase, classBoundary bool) error

// Run drives a whole class: class setup, each test wrapped in setup and
// teardown, then class teardown. Isolated tests are handed to the spawner
// configured with WithSpawner and get no local test events. Class teardown
// runs even when a step fails.
func (c *Coordinator) Run(ctx context.Context, class TestClass, tests []TestCase, fn TestFunc) (err error) {
	if err := c.ClassSetup(ctx, class); err != nil {
		if c.phases.Phase() == lifecycle.PhaseBroken {
			if terr := c.ClassTeardown(ctx); terr != nil {
				return errors.Join(err, terr)
			}
		}
		return err
	}
	defer func() {
		if terr := c.ClassTeardown(ctx); terr != nil && err == nil {
			err = terr
		}
	}()

	for i, tc := range tests {
		boundary := i == len(tests)-1
		if tc.Isolated && c.opts.spawner != nil {
			c.logger.Info("spawning isolated test", log.String("test", tc.Name))
			if err := c.opts.spawner(ctx, class, tc, boundary); err != nil {
				return fmt.Errorf("isolated test %s: %w", tc.Name, err)
			}
			continue
		}
		if err := c.RunTest(ctx, tc, boundary, fn); err != nil {
			return err
		}
	}
	return nil
}

// RunTest runs one test of the current class between its setup and
// teardown. Teardown runs even when the body fails.
func (c *Coordinator) RunTest(ctx context.Context, tc TestCase, classBoundary bool, fn TestFunc) error {
	if err := c.TestSetup(ctx, tc); err != nil {
		return err
	}
	var runErr error
	if fn != nil {
		runErr = fn(ctx, c.Context(), tc)
	}
	if err := c.TestTeardown(ctx, tc, classBoundary); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("test %s: %w", tc.Name, runErr)
	}
	return nil
}

// Close stops the config watcher, if any.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	return nil
}

// Role returns the role of this process for the current class.
func (c *Coordinator) Role() Role {
	if cc := c.Context(); cc != nil {
		return cc.Role
	}
	return RoleUnknown
}

// Context returns the current class context, nil outside a class.
func (c *Coordinator) Context() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// App returns the current application, nil when none exists.
func (c *Coordinator) App() *Application {
	if cc := c.Context(); cc != nil {
		return cc.App
	}
	return nil
}

// Fixtures returns the db fixture manager.
func (c *Coordinator) Fixtures() *DBFixtureManager { return c.db }

// Phase returns the lifecycle phase.
func (c *Coordinator) Phase() lifecycle.Phase { return c.phases.Phase() }

// Store returns the shared state store.
func (c *Coordinator) Store() state.Store { return c.store }

// ProcessID returns the process id used for role detection.
func (c *Coordinator) ProcessID() int { return c.pid }

func (c *Coordinator) active(ev lifecycle.Event) (*Context, error) {
	if err := c.phases.Check(ev); err != nil {
		return nil, err
	}
	cc := c.Context()
	if cc == nil {
		return nil, ErrNoActiveClass
	}
	return cc, nil
}

func (c *Coordinator) test(cc *Context, tc TestCase) lifecycle.Test {
	return lifecycle.Test{ClassID: cc.Class.ID, Name: tc.Name, Isolated: tc.Isolated}
}

func (c *Coordinator) startWatcher(ctx context.Context) error {
	if !c.opts.watchConfig {
		return nil
	}
	r, ok := c.opts.resolver.(*envconfig.Resolver)
	if !ok || r.File() == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return nil
	}
	w := envconfig.NewWatcher(r, envconfig.WithWatcherLogger(log.Named(c.logger, "envconfig")))
	// The watcher outlives a single class; it stops on Close.
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("watch env config: %w", err)
	}
	c.watcher = w
	return nil
}

// configProvider resolves the environment before the application exists.
type configProvider struct {
	resolver ConfigResolver
}

func (p *configProvider) Name() string { return "config-provider" }

func (p *configProvider) OnClassSetup(_ context.Context, msg lifecycle.ClassSetup[*Context]) error {
	cfg, err := p.resolver.Resolve(msg.Ctx.Class.path())
	if err != nil {
		return fmt.Errorf("resolve environment: %w", err)
	}
	msg.Ctx.Env = cfg
	return nil
}
