package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/e2ekit/pkg/log"
)

// DefaultFileName is the record file name used next to the test tree.
const DefaultFileName = ".e2ekit-state.json"

// DefaultLockTimeout bounds lock acquisition when no timeout is configured.
const DefaultLockTimeout = 10 * time.Second

var errLockWouldBlock = errors.New("lock would block")

// FileStore implements Store using a JSON file guarded by an advisory lock.
type FileStore struct {
	path        string
	lockTimeout time.Duration
	logger      log.Logger
	now         func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithLockTimeout bounds how long each operation waits for the lock.
func WithLockTimeout(d time.Duration) FileStoreOption {
	return func(s *FileStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for lock contention and stale records.
func WithLogger(logger log.Logger) FileStoreOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileStore creates a store backed by the file at path. Nothing is
// created on disk until the first write.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		logger:      log.NewNoopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the full path to the record file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// Init creates the record for classID unless one already exists for it.
func (s *FileStore) Init(ctx context.Context, classID string, pid int) (Record, bool, error) {
	var (
		rec     Record
		created bool
	)
	err := s.withLock(ctx, func() error {
		doc, ok, err := s.read()
		if err != nil {
			return err
		}
		if ok {
			rec = doc.record()
			if rec.TestCaseStarted && rec.ClassID == classID {
				return nil
			}
			if rec.TestCaseStarted {
				s.logger.Warn("replacing record left by another class",
					log.String("path", s.path),
					log.String("stale_class", rec.ClassID),
					log.Int("stale_pid", rec.StartProcessID),
					log.String("class", classID))
				rec = Record{}
			}
		}

		token, err := uuid.NewV7()
		if err != nil {
			token = uuid.New()
		}
		now := s.now()
		rec.ClassID = classID
		rec.CreatorToken = token.String()
		rec.TestCaseStarted = true
		rec.StartProcessID = pid
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		created = true
		return s.write(documentOf(rec))
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, created, nil
}

// Load returns the current record and whether it exists.
func (s *FileStore) Load(ctx context.Context) (Record, bool, error) {
	var (
		rec Record
		ok  bool
	)
	err := s.withLock(ctx, func() error {
		doc, exists, err := s.read()
		if err != nil {
			return err
		}
		rec, ok = doc.record(), exists
		return nil
	})
	return rec, ok, err
}

// Update applies fn to the record under the lock and writes the result.
func (s *FileStore) Update(ctx context.Context, fn func(*Record) error) error {
	return s.withLock(ctx, func() error {
		doc, _, err := s.read()
		if err != nil {
			return err
		}
		rec := doc.record()
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = s.now()
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.UpdatedAt
		}
		return s.write(documentOf(rec))
	})
}

// Get returns the value stored under key, or def when the key or the whole
// record is absent.
func (s *FileStore) Get(ctx context.Context, key Key, def any) (any, error) {
	if !knownKey(key) {
		return nil, unknownKey(key)
	}
	var value any
	err := s.withLock(ctx, func() error {
		doc, _, err := s.read()
		if err != nil {
			return err
		}
		v, ok := doc.get(key)
		if !ok {
			value = def
			return nil
		}
		value = v
		return nil
	})
	return value, err
}

// Set stores value under key.
func (s *FileStore) Set(ctx context.Context, key Key, value any) error {
	return s.withLock(ctx, func() error {
		doc, _, err := s.read()
		if err != nil {
			return err
		}
		if err := doc.set(key, value); err != nil {
			return err
		}
		s.touch(&doc)
		return s.write(doc)
	})
}

// Remove deletes key from the record. Removing from a missing record is a no-op.
func (s *FileStore) Remove(ctx context.Context, key Key) error {
	return s.withLock(ctx, func() error {
		doc, ok, err := s.read()
		if err != nil {
			return err
		}
		if err := doc.remove(key); err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.touch(&doc)
		return s.write(doc)
	})
}

// Clear deletes the record. The lock file stays in place so every process
// keeps contending on the same inode.
func (s *FileStore) Clear(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %w", ErrStoreUnavailable, s.path, err)
		}
		return nil
	})
}

func (s *FileStore) touch(doc *document) {
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
}

// withLock runs fn while holding the exclusive lock.
func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open lock: %w", ErrStoreUnavailable, err)
	}
	defer f.Close()

	if err := s.acquire(ctx, f); err != nil {
		return err
	}
	defer func() {
		if err := unlockFile(f); err != nil {
			s.logger.Warn("failed to release lock", log.String("path", s.lockPath()), log.Err(err))
		}
	}()

	return fn()
}

// acquire polls the lock with backoff until it is held, the lock timeout
// expires or ctx is done.
func (s *FileStore) acquire(ctx context.Context, f *os.File) error {
	start := s.now()
	deadline := start.Add(s.lockTimeout)
	b := newBackoff(lockBackoffInitial, lockBackoffMax)

	for attempt := 1; ; attempt++ {
		err := tryLockFile(f)
		if err == nil {
			if attempt > 1 {
				s.logger.Debug("lock acquired after contention",
					log.String("path", s.lockPath()),
					log.Int("attempts", attempt),
					log.Duration("waited", s.now().Sub(start)))
			}
			return nil
		}
		if !errors.Is(err, errLockWouldBlock) {
			return fmt.Errorf("%w: lock %s: %w", ErrStoreUnavailable, s.lockPath(), err)
		}

		wait := b.Next()
		if remaining := deadline.Sub(s.now()); remaining <= 0 {
			return fmt.Errorf("%w: lock %s not acquired within %s", ErrStoreUnavailable, s.lockPath(), s.lockTimeout)
		} else if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
}

// read loads the document. A missing or empty file yields an empty document.
func (s *FileStore) read() (document, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, false, nil
		}
		return document{}, false, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, s.path, err)
	}
	if len(data) == 0 {
		return document{}, false, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, false, fmt.Errorf("%w: decode %s: %w", ErrStoreUnavailable, s.path, err)
	}
	if err := checkRecordVersion(doc.Version); err != nil {
		return document{}, false, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, true, nil
}

// write persists doc atomically (temp file, then rename).
func (s *FileStore) write(doc document) error {
	doc.Version = Version
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStoreUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrStoreUnavailable, tmp, err)
	}
	return nil
}

func knownKey(key Key) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
