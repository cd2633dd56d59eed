package e2ekit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/lifecycle"
	"github.com/bft-labs/e2ekit/pkg/state"
)

func TestNew_ConfigurationErrors(t *testing.T) {
	store := state.NewFileStore(filepath.Join(t.TempDir(), state.DefaultFileName))
	resolver := envconfig.NewStaticResolver(nil, "")

	tests := []struct {
		name      string
		cfg       Config
		opts      []Option
		component string
	}{
		{"no store", Config{}, []Option{WithResolver(resolver)}, "store"},
		{"no resolver", Config{}, []Option{WithStore(store)}, "resolver"},
		{"nil app factory", Config{}, []Option{WithStore(store), WithResolver(resolver), WithAppFactory(nil)}, "app factory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.opts...)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
			if cfgErr.Component != tt.component {
				t.Errorf("component = %q, want %q", cfgErr.Component, tt.component)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("errors.Is(err, ErrConfiguration) = false")
			}
		})
	}
}

func TestNew_DefaultsFromConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "e2e.toml")
	if err := os.WriteFile(envFile, []byte("[[scope]]\npath = \"tests\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := New(Config{StateDir: dir, EnvConfigFile: envFile})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fs, ok := c.Store().(*state.FileStore)
	if !ok {
		t.Fatalf("store = %T, want *state.FileStore", c.Store())
	}
	if fs.Path() != filepath.Join(dir, state.DefaultFileName) {
		t.Errorf("store path = %q", fs.Path())
	}
	if c.ProcessID() != os.Getpid() {
		t.Errorf("pid = %d, want %d", c.ProcessID(), os.Getpid())
	}
}

func TestCoordinator_RoleDetection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mem := newMemStorage("countries", "users")
	class := TestClass{ID: "tests/e2e/T"}

	p1 := newTestCoordinator(t, dir, 1001, mem)
	if err := p1.ClassSetup(ctx, class); err != nil {
		t.Fatalf("P1 ClassSetup: %v", err)
	}
	if p1.Role() != RoleMain {
		t.Fatalf("P1 role = %v, want main", p1.Role())
	}

	rec, ok, err := p1.Store().Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load: %v, %v", ok, err)
	}
	if !rec.TestCaseStarted || rec.StartProcessID != 1001 {
		t.Errorf("record = %+v", rec)
	}

	p2 := newTestCoordinator(t, dir, 2002, mem)
	if err := p2.ClassSetup(ctx, class); err != nil {
		t.Fatalf("P2 ClassSetup: %v", err)
	}
	if p2.Role() != RoleSecondary {
		t.Fatalf("P2 role = %v, want secondary", p2.Role())
	}

	if err := p2.ClassTeardown(ctx); err != nil {
		t.Fatalf("P2 ClassTeardown: %v", err)
	}
	if _, ok, _ := p1.Store().Load(ctx); !ok {
		t.Fatal("secondary teardown destroyed the shared record")
	}

	if err := p1.ClassTeardown(ctx); err != nil {
		t.Fatalf("P1 ClassTeardown: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, state.DefaultFileName)); !os.IsNotExist(err) {
		t.Errorf("state file still present: %v", err)
	}
	if p1.Role() != RoleUnknown || p1.Phase() != lifecycle.PhaseIdle {
		t.Errorf("after teardown role = %v phase = %v", p1.Role(), p1.Phase())
	}
}

func TestCoordinator_IsolationReconciliation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mem := newMemStorage("countries", "users")
	class := TestClass{ID: "tests/e2e/UsersTest", Fixtures: usersFixtures()}

	p1 := newTestCoordinator(t, dir, 1001, mem)
	if err := p1.ClassSetup(ctx, class); err != nil {
		t.Fatal(err)
	}

	// test1 runs in the main process and loads both tables.
	if err := p1.TestSetup(ctx, TestCase{Name: "testList"}); err != nil {
		t.Fatal(err)
	}
	if got := mem.insertLog(); !reflect.DeepEqual(got, []string{"countries", "users"}) {
		t.Fatalf("inserts = %v, want [countries users]", got)
	}
	admin, err := p1.Fixtures().Row("UsersFixture", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if admin["country_id"] != 1 {
		t.Errorf("country_id = %v, want 1", admin["country_id"])
	}
	if err := p1.TestTeardown(ctx, TestCase{Name: "testList"}, false); err != nil {
		t.Fatal(err)
	}

	rec, _, _ := p1.Store().Load(ctx)
	if want := []string{"CountriesFixture", "UsersFixture"}; !reflect.DeepEqual(rec.LoadedTables, want) {
		t.Fatalf("loaded tables = %v, want %v", rec.LoadedTables, want)
	}

	// test2 runs isolated in a spawned process.
	p2 := newTestCoordinator(t, dir, 2002, mem)
	isolated := TestCase{Name: "testEdit", Isolated: true}
	if err := p2.ClassSetup(ctx, class); err != nil {
		t.Fatal(err)
	}
	if err := p2.TestSetup(ctx, isolated); err != nil {
		t.Fatal(err)
	}
	if got := len(mem.insertLog()); got != 2 {
		t.Errorf("secondary re-inserted rows: %v", mem.insertLog())
	}
	if got := p2.Fixtures().LoadedTables(); len(got) != 2 {
		t.Errorf("secondary loaded tables = %v", got)
	}
	if err := p2.TestTeardown(ctx, isolated, false); err != nil {
		t.Fatal(err)
	}
	if err := p2.ClassTeardown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mem.truncateLog(); len(got) != 0 {
		t.Errorf("secondary truncated tables: %v", got)
	}

	rec, ok, _ := p1.Store().Load(ctx)
	if !ok || !rec.PreviousTestWasIsolated {
		t.Fatalf("record after isolated test = %+v, %v", rec, ok)
	}

	// test3 back in the main process reconciles and loads nothing.
	if err := p1.TestSetup(ctx, TestCase{Name: "testDelete"}); err != nil {
		t.Fatal(err)
	}
	if got := len(mem.insertLog()); got != 2 {
		t.Errorf("main re-inserted rows after isolated test: %v", mem.insertLog())
	}
	if err := p1.TestTeardown(ctx, TestCase{Name: "testDelete"}, true); err != nil {
		t.Fatal(err)
	}
	rec, _, _ = p1.Store().Load(ctx)
	if rec.PreviousTestWasIsolated {
		t.Error("previous_test_was_isolated still set after main test")
	}

	if err := p1.ClassTeardown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mem.truncateLog(); !reflect.DeepEqual(got, []string{"users", "countries"}) {
		t.Errorf("truncates = %v, want [users countries]", got)
	}
	if mem.rows("users") != 0 || mem.rows("countries") != 0 {
		t.Error("tables not empty after class teardown")
	}
	if _, ok, _ := p1.Store().Load(ctx); ok {
		t.Error("record survived main class teardown")
	}
}

func TestCoordinator_SecondaryReconcilesUnloadedTables(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mem := newMemStorage("countries", "users")
	class := TestClass{ID: "tests/e2e/UsersTest", Fixtures: usersFixtures(), CleanupPerTest: true}

	p1 := newTestCoordinator(t, dir, 1001, mem)
	if err := p1.ClassSetup(ctx, class); err != nil {
		t.Fatal(err)
	}

	// The isolated test loads, then unloads because of per-test cleanup.
	p2 := newTestCoordinator(t, dir, 2002, mem)
	tc := TestCase{Name: "testIsolated", Isolated: true}
	if err := p2.ClassSetup(ctx, class); err != nil {
		t.Fatal(err)
	}
	if err := p2.RunTest(ctx, tc, false, nil); err != nil {
		t.Fatal(err)
	}
	if err := p2.ClassTeardown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mem.truncateLog(); !reflect.DeepEqual(got, []string{"users", "countries"}) {
		t.Fatalf("truncates = %v", got)
	}

	// The isolated process left the tables empty; the main process loads again.
	if err := p1.TestSetup(ctx, TestCase{Name: "testNext"}); err != nil {
		t.Fatal(err)
	}
	if got := len(mem.insertLog()); got != 4 {
		t.Errorf("inserts = %v, want a reload", mem.insertLog())
	}
	if err := p1.TestTeardown(ctx, TestCase{Name: "testNext"}, true); err != nil {
		t.Fatal(err)
	}
	if err := p1.ClassTeardown(ctx); err != nil {
		t.Fatal(err)
	}
}

// recorder is an extra observer handling every event.
type recorder struct {
	mu     sync.Mutex
	events []string
	store  state.Store
	sawRec bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnClassSetup(_ context.Context, msg lifecycle.ClassSetup[*Context]) error {
	if msg.Ctx.App == nil {
		r.add("class-setup:no-app")
		return nil
	}
	r.add("class-setup")
	return nil
}

func (r *recorder) OnTestSetup(context.Context, lifecycle.TestSetup[*Context]) error {
	r.add("test-setup")
	return nil
}

func (r *recorder) OnTestTeardown(context.Context, lifecycle.TestTeardown[*Context]) error {
	r.add("test-teardown")
	return nil
}

func (r *recorder) OnClassTeardown(ctx context.Context, _ lifecycle.ClassTeardown[*Context]) error {
	_, ok, err := r.store.Load(ctx)
	r.sawRec = ok && err == nil
	r.add("class-teardown")
	return nil
}

func TestCoordinator_ExtraObserverOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rec := &recorder{store: state.NewFileStore(filepath.Join(dir, state.DefaultFileName))}
	c := newTestCoordinator(t, dir, 1001, newMemStorage(), WithObserver(rec))

	if err := c.Run(ctx, TestClass{ID: "T"}, []TestCase{{Name: "a"}}, nil); err != nil {
		t.Fatal(err)
	}

	want := []string{"class-setup", "test-setup", "test-teardown", "class-teardown"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
	if !rec.sawRec {
		t.Error("extra observer ran after the shared record was destroyed")
	}
	names := func(ev lifecycle.Event) []string {
		var out []string
		for _, o := range c.bus.Observers(ev) {
			out = append(out, o.Name())
		}
		return out
	}
	if got := names(lifecycle.EventClassSetup); !reflect.DeepEqual(got, []string{"config-provider", "app-fixture", "db-fixtures", "recorder"}) {
		t.Errorf("class setup order = %v", got)
	}
	if got := names(lifecycle.EventClassTeardown); !reflect.DeepEqual(got, []string{"db-fixtures", "app-fixture", "recorder", "coordinator"}) {
		t.Errorf("class teardown order = %v", got)
	}
}

// failingStore fails every operation as if the lock could not be taken.
type failingStore struct{ state.Store }

func (failingStore) Init(context.Context, string, int) (state.Record, bool, error) {
	return state.Record{}, false, state.ErrStoreUnavailable
}

func TestCoordinator_StoreUnavailableIsFatal(t *testing.T) {
	c, err := New(Config{}, WithStore(failingStore{}), WithResolver(memResolver(nil)))
	if err != nil {
		t.Fatal(err)
	}

	err = c.ClassSetup(context.Background(), TestClass{ID: "T"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if c.Phase() != lifecycle.PhaseBroken {
		t.Errorf("phase = %v, want Broken", c.Phase())
	}
	if err := c.TestSetup(context.Background(), TestCase{Name: "a"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("TestSetup err = %v, want ErrInvalidTransition", err)
	}
	if err := c.ClassTeardown(context.Background()); err != nil {
		t.Errorf("ClassTeardown from broken: %v", err)
	}
}

func TestCoordinator_OutOfOrderEvents(t *testing.T) {
	c := newTestCoordinator(t, t.TempDir(), 1, newMemStorage())
	ctx := context.Background()

	if err := c.TestSetup(ctx, TestCase{Name: "a"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("TestSetup before ClassSetup: %v", err)
	}
	if err := c.ClassTeardown(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ClassTeardown before ClassSetup: %v", err)
	}
}

func TestCoordinator_CycleAbortsClassSetup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newTestCoordinator(t, dir, 1, newMemStorage())

	class := TestClass{ID: "T", Fixtures: cyclicFixtures()}
	err := c.Run(ctx, class, []TestCase{{Name: "a"}}, nil)
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("err = %v, want ErrCircularDependency", err)
	}
	if _, err := os.Stat(filepath.Join(dir, state.DefaultFileName)); !os.IsNotExist(err) {
		t.Errorf("state file left after broken class: %v", err)
	}
}

// failingTeardown fails every class teardown.
type failingTeardown struct{ err error }

func (f *failingTeardown) Name() string { return "failing-teardown" }

func (f *failingTeardown) OnClassTeardown(context.Context, lifecycle.ClassTeardown[*Context]) error {
	return f.err
}

func TestCoordinator_BrokenSetupReportsTeardownError(t *testing.T) {
	ctx := context.Background()
	teardownErr := errors.New("teardown failed")
	c := newTestCoordinator(t, t.TempDir(), 1, newMemStorage(),
		WithObserver(&failingTeardown{err: teardownErr}))

	err := c.Run(ctx, TestClass{ID: "T", Fixtures: cyclicFixtures()}, []TestCase{{Name: "a"}}, nil)
	if !errors.Is(err, ErrCircularDependency) {
		t.Errorf("err = %v, want ErrCircularDependency", err)
	}
	if !errors.Is(err, teardownErr) {
		t.Errorf("err = %v, want the class teardown error too", err)
	}
}

func TestCoordinator_RunWithSpawner(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mem := newMemStorage("countries", "users")
	class := TestClass{ID: "tests/e2e/UsersTest", Fixtures: usersFixtures()}

	var spawned []string
	spawner := func(ctx context.Context, cl TestClass, tc TestCase, boundary bool) error {
		spawned = append(spawned, tc.Name)
		child := newTestCoordinator(t, dir, 2002, mem)
		if err := child.ClassSetup(ctx, cl); err != nil {
			return err
		}
		if child.Role() != RoleSecondary {
			t.Errorf("child role = %v", child.Role())
		}
		if err := child.RunTest(ctx, tc, boundary, nil); err != nil {
			return err
		}
		return child.ClassTeardown(ctx)
	}

	var ran []string
	body := func(_ context.Context, cc *Context, tc TestCase) error {
		ran = append(ran, tc.Name)
		if cc.App == nil {
			t.Error("no application during test")
		}
		return nil
	}

	p1 := newTestCoordinator(t, dir, 1001, mem, WithSpawner(spawner))
	tests := []TestCase{{Name: "a"}, {Name: "b", Isolated: true}, {Name: "c"}}
	if err := p1.Run(ctx, class, tests, body); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(spawned, []string{"b"}) || !reflect.DeepEqual(ran, []string{"a", "c"}) {
		t.Errorf("spawned = %v, ran = %v", spawned, ran)
	}
	if got := len(mem.insertLog()); got != 2 {
		t.Errorf("inserts = %v, want one load", mem.insertLog())
	}
	if _, err := os.Stat(filepath.Join(dir, state.DefaultFileName)); !os.IsNotExist(err) {
		t.Errorf("state file left after run: %v", err)
	}
}

func TestCoordinator_TestFailureStillTearsDown(t *testing.T) {
	ctx := context.Background()
	mem := newMemStorage("countries", "users")
	c := newTestCoordinator(t, t.TempDir(), 1, mem)
	boom := errors.New("assertion failed")

	err := c.Run(ctx, TestClass{ID: "T", Fixtures: usersFixtures()}, []TestCase{{Name: "a"}}, func(context.Context, *Context, TestCase) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if mem.rows("users") != 0 {
		t.Error("tables not unloaded after failing test")
	}
	if c.Phase() != lifecycle.PhaseIdle {
		t.Errorf("phase = %v, want Idle", c.Phase())
	}
}
