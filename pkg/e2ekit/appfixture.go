package e2ekit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/e2ekit/internal/adapters/sqlstore"
	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/log"
)

// Storage is fixture storage owned by an application.
type Storage interface {
	fixture.Storage
	Close() error
}

// StorageOpener opens fixture storage for a driver and DSN.
type StorageOpener func(ctx context.Context, driver, dsn string) (Storage, error)

// OpenSQLStorage opens SQLite or PostgreSQL storage.
func OpenSQLStorage(ctx context.Context, driver, dsn string) (Storage, error) {
	s, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Application is the application instance the tests of a class run
// against.
type Application struct {
	ID    uuid.UUID
	Class string
	Env   envconfig.Config

	// Params are the resolved parameters with bootstrap files merged in.
	Params map[string]any

	// Storage is nil when no db.driver parameter is configured.
	Storage Storage
}

// Param looks up a dotted parameter path such as "db.dsn".
func (a *Application) Param(key string) (any, bool) {
	return envconfig.Config{Params: a.Params}.Param(key)
}

// Close releases the application storage.
func (a *Application) Close() error {
	if a.Storage == nil {
		return nil
	}
	return a.Storage.Close()
}

// AppSpec is what an AppFactory builds an application from.
type AppSpec struct {
	Class  TestClass
	Role   Role
	Env    envconfig.Config
	Params map[string]any
}

// AppFactory creates application instances.
type AppFactory func(ctx context.Context, spec AppSpec) (*Application, error)

// schemaExecer is implemented by storages that can run a schema script.
type schemaExecer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// DefaultAppFactory builds applications whose storage is opened from the
// db.driver and db.dsn parameters. When the process is the main one and
// db.schema names a file, that SQL script is run once the storage is open.
func DefaultAppFactory(open StorageOpener) AppFactory {
	return func(ctx context.Context, spec AppSpec) (*Application, error) {
		app := &Application{
			ID:     uuid.New(),
			Class:  spec.Class.ID,
			Env:    spec.Env,
			Params: spec.Params,
		}

		driver := app.stringParam("db.driver")
		if driver == "" {
			return app, nil
		}
		if open == nil {
			return nil, configError("storage", "no storage opener for driver %q", driver)
		}
		st, err := open(ctx, driver, app.stringParam("db.dsn"))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		app.Storage = st

		if schema := app.stringParam("db.schema"); schema != "" && spec.Role == RoleMain {
			if err := runSchema(ctx, st, schema); err != nil {
				return nil, errors.Join(err, st.Close())
			}
		}
		return app, nil
	}
}

func (a *Application) stringParam(key string) string {
	v, _ := a.Param(key)
	s, _ := v.(string)
	return s
}

func runSchema(ctx context.Context, st Storage, path string) error {
	ex, ok := st.(schemaExecer)
	if !ok {
		return configError("storage", "storage %T cannot run schema %s", st, path)
	}
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if err := ex.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply schema %s: %w", path, err)
	}
	return nil
}

// AppFixtureManager creates and destroys the application of a test class.
type AppFixtureManager struct {
	factory  AppFactory
	logger   log.Logger
	snapshot *EnvSnapshot
}

// NewAppFixtureManager creates a manager using factory.
func NewAppFixtureManager(factory AppFactory, logger log.Logger) *AppFixtureManager {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &AppFixtureManager{factory: factory, logger: logger}
}

// Name returns the observer name.
func (m *AppFixtureManager) Name() string { return "app-fixture" }

func (m *AppFixtureManager) OnClassSetup(ctx context.Context, msg lifecycle.ClassSetup[*Context]) error {
	c := msg.Ctx
	c.appProvider = func(ctx context.Context) (*Application, error) { return m.create(ctx, c) }
	if c.Class.AppScope != AppPerClass {
		return nil
	}
	_, err := m.create(ctx, c)
	return err
}

func (m *AppFixtureManager) OnTestSetup(ctx context.Context, msg lifecycle.TestSetup[*Context]) error {
	_, err := msg.Ctx.Application(ctx)
	return err
}

func (m *AppFixtureManager) OnTestTeardown(ctx context.Context, msg lifecycle.TestTeardown[*Context]) error {
	if msg.Ctx.Class.AppScope != AppPerTest {
		return nil
	}
	return m.destroy(msg.Ctx)
}

func (m *AppFixtureManager) OnClassTeardown(ctx context.Context, msg lifecycle.ClassTeardown[*Context]) error {
	err := m.destroy(msg.Ctx)
	msg.Ctx.appProvider = nil
	return err
}

// create applies the environment, merges bootstrap files into the
// parameters and builds the application.
func (m *AppFixtureManager) create(ctx context.Context, c *Context) (*Application, error) {
	if c.App != nil {
		return c.App, nil
	}

	snap, err := ApplyEnv(c.Env.Env)
	if err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	params, err := mergeBootstrap(c.Env)
	if err != nil {
		return nil, errors.Join(err, snap.Restore())
	}

	app, err := m.factory(ctx, AppSpec{
		Class:  c.Class,
		Role:   c.Role,
		Env:    c.Env,
		Params: params,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create application: %w", err), snap.Restore())
	}

	m.snapshot = snap
	c.App = app
	m.logger.Info("application created",
		log.String("class", c.Class.ID),
		log.String("app", app.ID.String()),
		log.Strings("env", snap.Keys()),
	)
	return app, nil
}

// destroy closes the application and restores the environment.
func (m *AppFixtureManager) destroy(c *Context) error {
	if c.App == nil {
		return nil
	}
	app := c.App
	c.App = nil

	err := app.Close()
	if rerr := m.snapshot.Restore(); rerr != nil {
		err = errors.Join(err, rerr)
	}
	m.snapshot = nil

	m.logger.Info("application destroyed",
		log.String("class", c.Class.ID),
		log.String("app", app.ID.String()),
	)
	return err
}

// mergeBootstrap deep-merges the bootstrap parameter files, in order, over
// the resolved parameters.
func mergeBootstrap(env envconfig.Config) (map[string]any, error) {
	params := make(map[string]any)
	envconfig.MergeParams(params, env.Params)

	for _, path := range env.Bootstrap {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read bootstrap file: %w", err)
		}
		var p map[string]any
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse bootstrap file %s: %w", path, err)
		}
		envconfig.MergeParams(params, p)
	}
	return params, nil
}
