package e2ekit

import (
	"context"
	"fmt"

	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/log"
	"github.com/bft-labs/e2ekit/pkg/state"
)

// DBFixtureManager loads and unloads the fixture tables of a test class and
// keeps the loaded set in agreement with the shared record.
type DBFixtureManager struct {
	store  state.Store
	logger log.Logger

	graph    *fixture.Graph
	fixtures []*fixture.Fixture
	byAlias  map[string]*fixture.Fixture
	c        *Context
}

// NewDBFixtureManager creates a manager recording its state in store.
func NewDBFixtureManager(store state.Store, logger log.Logger) *DBFixtureManager {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &DBFixtureManager{
		store:   store,
		logger:  logger,
		graph:   fixture.NewGraph(),
		byAlias: make(map[string]*fixture.Fixture),
	}
}

// Name returns the observer name.
func (m *DBFixtureManager) Name() string { return "db-fixtures" }

// Graph returns the fixture graph of the current class.
func (m *DBFixtureManager) Graph() *fixture.Graph { return m.graph }

// Fixture returns the fixture with the given alias.
func (m *DBFixtureManager) Fixture(alias string) (*fixture.Fixture, error) {
	f, ok := m.byAlias[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	return f, nil
}

// Row returns a row loaded by this process.
func (m *DBFixtureManager) Row(alias, row string) (fixture.Row, error) {
	f, err := m.Fixture(alias)
	if err != nil {
		return nil, err
	}
	r, ok := f.Row(row)
	if !ok {
		return nil, fmt.Errorf("%w: row %q of %q not loaded by this process", ErrUnknownAlias, row, alias)
	}
	return r, nil
}

// LoadedTables returns the resource keys of loaded fixtures in graph order.
func (m *DBFixtureManager) LoadedTables() []string {
	var out []string
	for _, f := range m.fixtures {
		if f.Loaded() {
			out = append(out, f.Key())
		}
	}
	return out
}

func (m *DBFixtureManager) OnClassSetup(ctx context.Context, msg lifecycle.ClassSetup[*Context]) error {
	c := msg.Ctx
	m.reset()
	m.c = c
	c.Fixtures = m

	if err := m.graph.AddAll(c.Class.Fixtures); err != nil {
		return fmt.Errorf("resolve fixtures of %s: %w", c.Class.ID, err)
	}
	for _, n := range m.graph.Nodes() {
		f := fixture.New(n)
		m.fixtures = append(m.fixtures, f)
		m.byAlias[n.Alias] = f
	}
	m.logger.Debug("fixture graph resolved",
		log.String("class", c.Class.ID),
		log.Strings("aliases", m.graph.Aliases()),
	)

	_, err := m.reconcile(ctx)
	return err
}

func (m *DBFixtureManager) OnTestSetup(ctx context.Context, msg lifecycle.TestSetup[*Context]) error {
	rec, err := m.record(ctx)
	if err != nil {
		return err
	}
	if msg.Ctx.Role == RoleSecondary || rec.PreviousTestWasIsolated {
		m.apply(rec)
	}
	return m.Load(ctx)
}

func (m *DBFixtureManager) OnTestTeardown(ctx context.Context, msg lifecycle.TestTeardown[*Context]) error {
	c := msg.Ctx
	if c.Class.CleanupPerTest && !msg.ClassBoundary && len(m.LoadedTables()) > 0 {
		if err := m.Unload(ctx, false); err != nil {
			return err
		}
	}

	isolated := c.Role == RoleSecondary
	loaded := m.LoadedTables()
	err := m.store.Update(ctx, func(r *state.Record) error {
		r.SetLoadedTables(loaded)
		r.PreviousTestWasIsolated = isolated
		return nil
	})
	if err != nil {
		return fmt.Errorf("record loaded tables: %w", err)
	}
	return nil
}

func (m *DBFixtureManager) OnClassTeardown(ctx context.Context, msg lifecycle.ClassTeardown[*Context]) error {
	c := msg.Ctx
	defer m.reset()

	// The main process still owns the tables while an isolated process
	// finishes; it unloads them at its own class teardown.
	if c.Role != RoleMain {
		return nil
	}

	if _, err := m.reconcile(ctx); err != nil {
		return err
	}
	if len(m.LoadedTables()) > 0 {
		if err := m.Unload(ctx, false); err != nil {
			return err
		}
	}
	err := m.store.Update(ctx, func(r *state.Record) error {
		r.SetLoadedTables(nil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record loaded tables: %w", err)
	}
	return nil
}

// Load loads every fixture not yet loaded, in graph order.
func (m *DBFixtureManager) Load(ctx context.Context) error {
	var pending []*fixture.Fixture
	for _, f := range m.fixtures {
		if !f.Loaded() {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	storage, err := m.storage(ctx)
	if err != nil {
		return err
	}
	for _, f := range pending {
		if err := f.Load(ctx, storage, refs{m}); err != nil {
			return err
		}
		m.logger.Info("fixture loaded",
			log.String("fixture", f.Key()),
			log.String("table", f.Table()),
			log.Int("rows", len(f.RowAliases())),
		)
		if err := m.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Unload truncates fixture tables in reverse graph order. Without force only
// loaded tables are truncated, and ErrAlreadyUnloaded is returned when none
// is loaded.
func (m *DBFixtureManager) Unload(ctx context.Context, force bool) error {
	if !force && len(m.LoadedTables()) == 0 {
		return ErrAlreadyUnloaded
	}
	if len(m.fixtures) == 0 {
		return nil
	}

	storage, err := m.storage(ctx)
	if err != nil {
		return err
	}
	for i := len(m.fixtures) - 1; i >= 0; i-- {
		f := m.fixtures[i]
		if !force && !f.Loaded() {
			continue
		}
		if err := f.Unload(ctx, storage); err != nil {
			return err
		}
		m.logger.Info("fixture unloaded",
			log.String("fixture", f.Key()),
			log.String("table", f.Table()),
		)
		if err := m.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// persist writes the local loaded set to the record after each table, so a
// failure part way through leaves the record naming every populated table.
func (m *DBFixtureManager) persist(ctx context.Context) error {
	loaded := m.LoadedTables()
	err := m.store.Update(ctx, func(r *state.Record) error {
		r.SetLoadedTables(loaded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record loaded tables: %w", err)
	}
	return nil
}

func (m *DBFixtureManager) refRow(alias, row string) (fixture.Row, bool) {
	f, ok := m.byAlias[alias]
	if !ok {
		return nil, false
	}
	return f.Row(row)
}

// reconcile overwrites local loaded flags with the shared record.
func (m *DBFixtureManager) reconcile(ctx context.Context) (state.Record, error) {
	rec, err := m.record(ctx)
	if err != nil {
		return rec, err
	}
	m.apply(rec)
	return rec, nil
}

func (m *DBFixtureManager) record(ctx context.Context) (state.Record, error) {
	rec, _, err := m.store.Load(ctx)
	if err != nil {
		return rec, fmt.Errorf("read shared state: %w", err)
	}
	return rec, nil
}

func (m *DBFixtureManager) apply(rec state.Record) {
	for _, f := range m.fixtures {
		loaded := rec.IsLoaded(f.Key())
		if loaded != f.Loaded() {
			m.logger.Debug("reconciled fixture state",
				log.String("fixture", f.Key()),
				log.Bool("loaded", loaded),
			)
		}
		if loaded && f.Loaded() {
			continue
		}
		f.SetLoaded(loaded)
	}
}

func (m *DBFixtureManager) storage(ctx context.Context) (fixture.Storage, error) {
	if m.c == nil {
		return nil, ErrNoActiveClass
	}
	app, err := m.c.Application(ctx)
	if err != nil {
		return nil, err
	}
	if app.Storage == nil {
		return nil, configError("storage", "class %s declares fixtures but the application has no storage (set db.driver)", m.c.Class.ID)
	}
	return app.Storage, nil
}

func (m *DBFixtureManager) reset() {
	m.graph.Clear()
	m.fixtures = nil
	clear(m.byAlias)
	if m.c != nil {
		m.c.Fixtures = nil
	}
	m.c = nil
}

// refs adapts the manager to fixture.Refs.
type refs struct{ m *DBFixtureManager }

func (r refs) Row(alias, row string) (fixture.Row, bool) { return r.m.refRow(alias, row) }
