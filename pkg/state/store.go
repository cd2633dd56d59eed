package state

import (
	"context"
	"errors"
	"fmt"
)

// Store errors. All of them are fatal for the test run.
var (
	// ErrStoreUnavailable is returned when the record cannot be locked,
	// read or written.
	ErrStoreUnavailable = errors.New("state: store unavailable")

	// ErrUnknownKey is returned for keys outside the fixed schema.
	ErrUnknownKey = errors.New("state: unknown key")

	// ErrInvalidValue is returned when a value has the wrong type for its key.
	ErrInvalidValue = errors.New("state: invalid value")

	// ErrIncompatibleRecord is returned when the record was written by a
	// version of this package that cannot read or write it safely.
	ErrIncompatibleRecord = errors.New("state: incompatible record version")
)

// Store is the cross-process record shared by the processes of one test class.
type Store interface {
	// Init atomically creates the record for classID if it does not exist
	// (or was left behind by another class) and reports whether this call
	// created it.
	Init(ctx context.Context, classID string, pid int) (Record, bool, error)

	// Load returns the current record and whether it exists.
	Load(ctx context.Context) (Record, bool, error)

	// Update applies fn to the record under the lock and persists the result.
	// A missing record is passed to fn as the zero Record.
	Update(ctx context.Context, fn func(*Record) error) error

	// Get returns the value stored under key, or def when it is absent.
	Get(ctx context.Context, key Key, def any) (any, error)

	// Set stores value under key.
	Set(ctx context.Context, key Key, value any) error

	// Remove deletes key from the record.
	Remove(ctx context.Context, key Key) error

	// Clear deletes the whole backing resource. Only the creator calls it.
	Clear(ctx context.Context) error
}

func unknownKey(key Key) error {
	return fmt.Errorf("%w: %q", ErrUnknownKey, string(key))
}

func invalidValue(key Key, value any) error {
	return fmt.Errorf("%w: %T for key %q", ErrInvalidValue, value, string(key))
}
