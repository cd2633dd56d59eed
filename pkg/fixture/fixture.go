package fixture

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// Storage is the row-insertion primitive fixtures load through.
type Storage interface {
	// Insert stores row in table and returns the stored row, including
	// generated columns.
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Truncate deletes every row of table and resets its identity sequence.
	Truncate(ctx context.Context, table string) error

	Exists(ctx context.Context, table string) (bool, error)
}

// Refs resolves rows of other fixtures for "@alias.row.column" values.
type Refs interface {
	Row(alias, row string) (Row, bool)
}

// Fixture is the runtime state of one graph node.
type Fixture struct {
	node   Node
	loaded bool
	rows   map[string]Row
	order  []string
}

// New creates an unloaded fixture for node.
func New(node Node) *Fixture {
	return &Fixture{node: node}
}

func (f *Fixture) Key() string   { return f.node.Key }
func (f *Fixture) Table() string { return f.node.Table }
func (f *Fixture) Alias() string { return f.node.Alias }

// Loaded reports whether the table is populated.
func (f *Fixture) Loaded() bool { return f.loaded }

// SetLoaded overwrites the loaded flag, for reconciling with state recorded
// by another process. Clearing it also drops the cached rows.
func (f *Fixture) SetLoaded(loaded bool) {
	f.loaded = loaded
	if !loaded {
		f.rows = nil
		f.order = nil
	}
}

// Load inserts the fixture rows into s.
func (f *Fixture) Load(ctx context.Context, s Storage, refs Refs) error {
	if f.loaded {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, f.node.Key)
	}

	table := f.node.Table
	ok, err := s.Exists(ctx, table)
	if err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s (fixture %s)", ErrMissingTable, table, f.node.Key)
	}

	var specs []RowSpec
	if src := f.node.Descriptor.Source; src != nil {
		if specs, err = src.Rows(); err != nil {
			return fmt.Errorf("fixture %s: %w", f.node.Key, err)
		}
	}

	rows := make(map[string]Row, len(specs))
	order := make([]string, 0, len(specs))
	local := localRefs{alias: f.node.Alias, rows: rows, next: refs}
	for _, spec := range specs {
		values, err := resolveRefs(spec.Values, local)
		if err != nil {
			return fmt.Errorf("fixture %s row %s: %w", f.node.Key, spec.Alias, err)
		}
		stored, err := s.Insert(ctx, table, values)
		if err != nil {
			return fmt.Errorf("insert %s row %s: %w", table, spec.Alias, err)
		}
		rows[spec.Alias] = stored
		order = append(order, spec.Alias)
	}

	f.rows = rows
	f.order = order
	f.loaded = true
	return nil
}

// Unload truncates the table and marks the fixture unloaded.
func (f *Fixture) Unload(ctx context.Context, s Storage) error {
	if err := s.Truncate(ctx, f.node.Table); err != nil {
		return fmt.Errorf("truncate %s: %w", f.node.Table, err)
	}
	f.SetLoaded(false)
	return nil
}

// Row returns a loaded row by alias. Rows are only known to the process
// that loaded them.
func (f *Fixture) Row(alias string) (Row, bool) {
	r, ok := f.rows[alias]
	return r, ok
}

// RowAliases returns loaded row aliases in insertion order.
func (f *Fixture) RowAliases() []string {
	return append([]string(nil), f.order...)
}

// localRefs lets a row reference earlier rows of the same fixture.
type localRefs struct {
	alias string
	rows  map[string]Row
	next  Refs
}

func (l localRefs) Row(alias, row string) (Row, bool) {
	if alias == l.alias {
		r, ok := l.rows[row]
		return r, ok
	}
	if l.next == nil {
		return nil, false
	}
	return l.next.Row(alias, row)
}

func resolveRefs(values Row, refs Refs) (Row, error) {
	out := maps.Clone(values)
	if out == nil {
		out = Row{}
	}
	for col, v := range out {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "@") {
			continue
		}
		if strings.HasPrefix(s, "@@") {
			out[col] = s[1:]
			continue
		}
		parts := strings.SplitN(s[1:], ".", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %q in column %s", ErrUnresolvedReference, s, col)
		}
		row, ok := refs.Row(parts[0], parts[1])
		if !ok {
			return nil, fmt.Errorf("%w: %q in column %s", ErrUnresolvedReference, s, col)
		}
		val, ok := row[parts[2]]
		if !ok {
			return nil, fmt.Errorf("%w: %q in column %s", ErrUnresolvedReference, s, col)
		}
		out[col] = val
	}
	return out, nil
}
