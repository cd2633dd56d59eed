package fixture

import (
	"errors"
	"strings"
)

var (
	// ErrCircularDependency is wrapped by CircularDependencyError.
	ErrCircularDependency = errors.New("fixture: circular dependency")

	// ErrAliasConflict is returned when an alias is already owned by another node.
	ErrAliasConflict = errors.New("fixture: alias already in use")

	// ErrUnknownFixture is returned for resource keys missing from a Registry.
	ErrUnknownFixture = errors.New("fixture: unknown fixture")

	// ErrAlreadyLoaded is returned by Load on a loaded fixture.
	ErrAlreadyLoaded = errors.New("fixture: already loaded")

	// ErrMissingTable is returned when the storage has no such table.
	ErrMissingTable = errors.New("fixture: table does not exist")

	// ErrUnresolvedReference is returned when a row reference names an unknown
	// fixture, row or column.
	ErrUnresolvedReference = errors.New("fixture: unresolved row reference")

	// ErrInvalidDescriptor is returned for descriptors without a resource key.
	ErrInvalidDescriptor = errors.New("fixture: invalid descriptor")
)

// CircularDependencyError carries the resolving stack that led back to a
// key already being resolved. The last element repeats an earlier one.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return "fixture: circular dependency: " + strings.Join(e.Cycle, " -> ")
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }
