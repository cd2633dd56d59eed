package e2ekit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/fixture"
)

// memStorage is an in-memory Storage shared by the coordinators of a test,
// standing in for a database both processes connect to.
type memStorage struct {
	mu        sync.Mutex
	tables    map[string][]fixture.Row
	seq       map[string]int
	inserted  []string
	truncated []string
}

func newMemStorage(tables ...string) *memStorage {
	m := &memStorage{tables: map[string][]fixture.Row{}, seq: map[string]int{}}
	for _, t := range tables {
		m.tables[t] = nil
	}
	return m
}

func (m *memStorage) Insert(_ context.Context, table string, row fixture.Row) (fixture.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[table]++
	out := fixture.Row{"id": m.seq[table]}
	for k, v := range row {
		out[k] = v
	}
	m.tables[table] = append(m.tables[table], out)
	m.inserted = append(m.inserted, table)
	return out, nil
}

func (m *memStorage) Truncate(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = nil
	m.seq[table] = 0
	m.truncated = append(m.truncated, table)
	return nil
}

func (m *memStorage) Exists(_ context.Context, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[table]
	return ok, nil
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) rows(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

func (m *memStorage) insertLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.inserted...)
}

func (m *memStorage) truncateLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.truncated...)
}

// usersFixtures declares users depending on countries under alias "country".
func usersFixtures() []fixture.Declaration {
	countries := &fixture.Descriptor{
		ResourceKey: "CountriesFixture",
		Table:       "countries",
		Source:      fixture.InlineSource{{Alias: "fr", Values: fixture.Row{"code": "FR"}}},
	}
	users := &fixture.Descriptor{
		ResourceKey: "UsersFixture",
		Table:       "users",
		Source: fixture.InlineSource{
			{Alias: "admin", Values: fixture.Row{"name": "Admin", "country_id": "@country.fr.id"}},
		},
		Dependencies: []fixture.Dependency{
			{Alias: "country", Declaration: fixture.Declare(countries)},
		},
	}
	return []fixture.Declaration{fixture.Declare(users)}
}

func memResolver(env map[string]string) *envconfig.Resolver {
	return envconfig.NewStaticResolver([]envconfig.Scope{{
		Path:   ".",
		Env:    env,
		Params: map[string]any{"db": map[string]any{"driver": "mem"}},
	}}, "")
}

// newTestCoordinator simulates one process sharing dir and mem with the
// other coordinators of the test.
func newTestCoordinator(t *testing.T, dir string, pid int, mem *memStorage, opts ...Option) *Coordinator {
	t.Helper()
	base := []Option{
		WithProcessID(pid),
		WithResolver(memResolver(nil)),
		WithStorageOpener(func(_ context.Context, driver, _ string) (Storage, error) {
			if driver != "mem" {
				return nil, fmt.Errorf("unexpected driver %q", driver)
			}
			return mem, nil
		}),
	}
	c, err := New(Config{StateDir: dir}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// cyclicFixtures declares A -> B -> A.
func cyclicFixtures() []fixture.Declaration {
	a := &fixture.Descriptor{ResourceKey: "A", Source: fixture.InlineSource{}}
	b := &fixture.Descriptor{
		ResourceKey:  "B",
		Source:       fixture.InlineSource{},
		Dependencies: []fixture.Dependency{{Alias: "a", Declaration: fixture.Declare(a)}},
	}
	a.Dependencies = []fixture.Dependency{{Alias: "b", Declaration: fixture.Declare(b)}}
	return []fixture.Declaration{fixture.Declare(a)}
}
