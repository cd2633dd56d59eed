package fixture

import "fmt"

// Descriptor describes one fixture table.
type Descriptor struct {
	// ResourceKey identifies the fixture. Two declarations with the same key
	// are the same node.
	ResourceKey string

	// Table defaults to ResourceKey.
	Table string

	// Alias is the alias used when the caller does not give one. Defaults to
	// ResourceKey.
	Alias string

	Source       DataSource
	Dependencies []Dependency
}

// TableName returns Table, or ResourceKey when Table is empty.
func (d *Descriptor) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return d.ResourceKey
}

// DefaultAlias returns Alias, or ResourceKey when Alias is empty.
func (d *Descriptor) DefaultAlias() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.ResourceKey
}

// Factory builds a descriptor on demand.
type Factory func() (*Descriptor, error)

// Declaration is either a ready descriptor or a factory producing one. Key,
// when set, lets a graph skip the factory for nodes it already holds.
type Declaration struct {
	Key        string
	Descriptor *Descriptor
	Factory    Factory
}

// Dependency is a declaration plus the alias the dependent gives it.
type Dependency struct {
	Alias string
	Declaration
}

// Declare wraps a ready descriptor.
func Declare(d *Descriptor) Declaration {
	return Declaration{Key: d.ResourceKey, Descriptor: d}
}

// Lazy wraps a factory for the fixture identified by key.
func Lazy(key string, f Factory) Declaration {
	return Declaration{Key: key, Factory: f}
}

// key returns the resource key if it is known without instantiation.
func (d Declaration) key() string {
	if d.Key != "" {
		return d.Key
	}
	if d.Descriptor != nil {
		return d.Descriptor.ResourceKey
	}
	return ""
}

func (d Declaration) resolve() (*Descriptor, error) {
	desc := d.Descriptor
	if desc == nil {
		if d.Factory == nil {
			return nil, fmt.Errorf("%w: declaration %q has neither descriptor nor factory", ErrInvalidDescriptor, d.Key)
		}
		var err error
		if desc, err = d.Factory(); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", d.Key, err)
		}
	}
	if desc == nil || desc.ResourceKey == "" {
		return nil, fmt.Errorf("%w: empty resource key", ErrInvalidDescriptor)
	}
	if d.Key != "" && d.Key != desc.ResourceKey {
		return nil, fmt.Errorf("%w: declared as %q but factory built %q", ErrInvalidDescriptor, d.Key, desc.ResourceKey)
	}
	return desc, nil
}
