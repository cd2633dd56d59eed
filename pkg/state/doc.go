// Package state provides the cross-process record shared by every OS process
// that cooperates on one test class.
//
// The record has a fixed schema ([Record]) and lives in a single JSON file
// colocated with the test tree. A freshly spawned isolated-test process has
// no memory of what the main process did; it reads the record to learn
// whether it is the main process and which fixture tables are populated.
//
// # Locking
//
// Every operation on a [FileStore] takes an exclusive advisory lock on a
// sibling ".lock" file for the whole read-modify-write. Acquisition is
// non-blocking with exponential backoff and is bounded by the store's lock
// timeout and the caller's context; on expiry the operation fails with
// [ErrStoreUnavailable]. Writes go to a temporary file that is renamed over
// the record, so a reader never observes a torn write.
//
// # Usage
//
//	store := state.NewFileStore(filepath.Join(testsDir, state.DefaultFileName))
//
//	rec, created, err := store.Init(ctx, "UsersTest", os.Getpid())
//	if err != nil {
//	    return err // fatal: the role cannot be decided
//	}
//	if created {
//	    // this process is the main process for the class
//	}
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
//
// Every record carries the version that wrote it. Reading a record outside
// [MinCompatibleVersion, 3.0.0) fails with [ErrIncompatibleRecord].
package state
