package envconfig

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/e2ekit/pkg/log"
)

// DefaultDebounceDelay is the delay between the last file event and the
// cache invalidation.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher invalidates a Resolver when its scope file changes.
type Watcher struct {
	mu sync.Mutex

	resolver      *Resolver
	debounceDelay time.Duration
	onChange      func()
	logger        log.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithOnChange registers a callback run after each invalidation.
func WithOnChange(fn func()) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(l log.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher creates a watcher for r. It does nothing until Start.
func NewWatcher(r *Resolver, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		resolver:      r,
		debounceDelay: DefaultDebounceDelay,
		logger:        log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the directory of the scope file.
func (w *Watcher) Start(ctx context.Context) error {
	file := w.resolver.File()
	if file == "" {
		return errors.New("envconfig: static resolver has no file to watch")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := fw.Add(filepath.Dir(file)); err != nil {
		fw.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watchLoop(watchCtx, fw, filepath.Base(file))

	w.logger.Info("watching env config", log.String("file", file))
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher, name string) {
	defer w.wg.Done()
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.debounceInvalidate(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("env config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceInvalidate(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		w.resolver.Invalidate()
		w.logger.Info("env config changed", log.String("file", w.resolver.File()))
		if w.onChange != nil {
			w.onChange()
		}
	})
}
