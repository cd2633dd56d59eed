package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// Registry maps resource keys to descriptor factories.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for key.
func (r *Registry) Register(key string, f Factory) error {
	if key == "" {
		return fmt.Errorf("%w: empty resource key", ErrInvalidDescriptor)
	}
	if f == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrInvalidDescriptor, key)
	}
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("%w: %s registered twice", ErrInvalidDescriptor, key)
	}
	r.factories[key] = f
	r.order = append(r.order, key)
	return nil
}

// Declaration returns a lazy declaration for key.
func (r *Registry) Declaration(key string) (Declaration, error) {
	f, ok := r.factories[key]
	if !ok {
		return Declaration{}, fmt.Errorf("%w: %s", ErrUnknownFixture, key)
	}
	return Lazy(key, f), nil
}

// Declarations resolves several keys.
func (r *Registry) Declarations(keys ...string) ([]Declaration, error) {
	out := make([]Declaration, 0, len(keys))
	for _, k := range keys {
		d, err := r.Declaration(k)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Keys returns registered keys in registration order.
func (r *Registry) Keys() []string {
	return slices.Clone(r.order)
}

// manifest is the TOML layout of a fixture manifest.
type manifest struct {
	Fixtures []manifestEntry `toml:"fixture"`
}

type manifestEntry struct {
	Key     string                    `toml:"key"`
	Table   string                    `toml:"table"`
	Alias   string                    `toml:"alias"`
	Data    string                    `toml:"data"`
	Rows    map[string]map[string]any `toml:"rows"`
	Depends []manifestDep             `toml:"depends"`
}

type manifestDep struct {
	Key   string `toml:"key"`
	Alias string `toml:"alias"`
}

// LoadManifest reads a TOML manifest. Relative data paths resolve against
// the manifest directory.
func LoadManifest(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	r, err := ParseManifest(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return r, nil
}

// ParseManifest builds a registry from manifest bytes.
func ParseManifest(data []byte, baseDir string) (*Registry, error) {
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	r := NewRegistry()
	for i, e := range m.Fixtures {
		if e.Key == "" {
			return nil, fmt.Errorf("%w: fixture #%d has no key", ErrInvalidDescriptor, i+1)
		}
		if e.Data != "" && len(e.Rows) > 0 {
			return nil, fmt.Errorf("%w: fixture %s sets both data and rows", ErrInvalidDescriptor, e.Key)
		}
		if err := r.Register(e.Key, r.entryFactory(e, baseDir)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// entryFactory builds descriptors for e. Dependencies are looked up when
// the factory runs, so manifest order does not matter.
func (r *Registry) entryFactory(e manifestEntry, baseDir string) Factory {
	return func() (*Descriptor, error) {
		d := &Descriptor{
			ResourceKey: e.Key,
			Table:       e.Table,
			Alias:       e.Alias,
		}

		switch {
		case e.Data != "":
			path := e.Data
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			d.Source = FileSource{Path: path}
		case len(e.Rows) > 0:
			d.Source = inlineRows(e.Rows)
		}

		for _, dep := range e.Depends {
			decl, err := r.Declaration(dep.Key)
			if err != nil {
				return nil, fmt.Errorf("dependency of %s: %w", e.Key, err)
			}
			d.Dependencies = append(d.Dependencies, Dependency{Alias: dep.Alias, Declaration: decl})
		}
		return d, nil
	}
}

// inlineRows orders manifest rows by alias since TOML tables are unordered.
func inlineRows(rows map[string]map[string]any) InlineSource {
	aliases := make([]string, 0, len(rows))
	for a := range rows {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	out := make(InlineSource, 0, len(rows))
	for _, a := range aliases {
		out = append(out, RowSpec{Alias: a, Values: Row(rows[a])})
	}
	return out
}
