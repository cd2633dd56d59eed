package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/bft-labs/e2ekit/pkg/log"
)

var (
	// ErrDuplicateObserver is returned when an observer is registered twice
	// for the same event.
	ErrDuplicateObserver = errors.New("lifecycle: observer already registered")

	// ErrInvalidObserver is returned when an observer cannot be told apart
	// from others, which happens when its dynamic type is not comparable.
	ErrInvalidObserver = errors.New("lifecycle: observer type is not comparable")

	// ErrMissingHandler is wrapped by MissingHandlerError.
	ErrMissingHandler = errors.New("lifecycle: observer has no handler for event")
)

// MissingHandlerError reports an observer registered for an event whose
// handler interface it does not implement.
type MissingHandlerError struct {
	Observer string
	Event    Event
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("lifecycle: observer %q has no handler for %s", e.Observer, e.Event)
}

func (e *MissingHandlerError) Unwrap() error { return ErrMissingHandler }

// Bus dispatches lifecycle messages to observers in registration order.
// The zero value is not usable; create one with NewBus.
type Bus[C any] struct {
	mu        sync.RWMutex
	observers map[Event][]Observer
	logger    log.Logger
}

// NewBus creates an empty bus. A nil logger discards output.
func NewBus[C any](logger log.Logger) *Bus[C] {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Bus[C]{
		observers: make(map[Event][]Observer),
		logger:    logger,
	}
}

// Register appends o to the observer list of ev. Observers are identified
// with ==, so o must be a pointer or another comparable value.
func (b *Bus[C]) Register(ev Event, o Observer) error {
	if !ev.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}
	if o == nil {
		return errors.New("lifecycle: nil observer")
	}
	if !reflect.TypeOf(o).Comparable() {
		return fmt.Errorf("%w: %s (%T)", ErrInvalidObserver, o.Name(), o)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.observers[ev] {
		if sameObserver(existing, o) {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateObserver, o.Name(), ev)
		}
	}
	b.observers[ev] = append(b.observers[ev], o)
	return nil
}

// RegisterNamed is Register with the event given by name.
func (b *Bus[C]) RegisterNamed(name string, o Observer) error {
	ev, err := ParseEvent(name)
	if err != nil {
		return err
	}
	return b.Register(ev, o)
}

// Unregister removes o from the given events, or from every event when none
// are given.
func (b *Bus[C]) Unregister(o Observer, events ...Event) {
	if len(events) == 0 {
		events = Events
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ev := range events {
		list := b.observers[ev]
		kept := list[:0]
		for _, existing := range list {
			if !sameObserver(existing, o) {
				kept = append(kept, existing)
			}
		}
		b.observers[ev] = kept
	}
}

// Observers returns a copy of the observer list for ev.
func (b *Bus[C]) Observers(ev Event) []Observer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Observer, len(b.observers[ev]))
	copy(out, b.observers[ev])
	return out
}

// Dispatch delivers msg to every observer registered for its event. It
// stops at the first observer that lacks the handler or returns an error.
func (b *Bus[C]) Dispatch(ctx context.Context, msg Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrUnknownEvent)
	}
	ev := msg.Event()
	if !ev.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}

	observers := b.Observers(ev)
	for _, o := range observers {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.logger.Debug("dispatch",
			log.String("event", ev.String()),
			log.String("observer", o.Name()),
		)
		if err := b.deliver(ctx, o, msg); err != nil {
			var missing *MissingHandlerError
			if errors.As(err, &missing) || errors.Is(err, ErrUnknownEvent) {
				return err
			}
			return fmt.Errorf("%s %s: %w", o.Name(), ev, err)
		}
	}
	return nil
}

func (b *Bus[C]) deliver(ctx context.Context, o Observer, msg Message) error {
	missing := &MissingHandlerError{Observer: o.Name(), Event: msg.Event()}

	switch m := msg.(type) {
	case ClassSetup[C]:
		h, ok := o.(ClassSetupHandler[C])
		if !ok {
			return missing
		}
		return h.OnClassSetup(ctx, m)
	case TestSetup[C]:
		h, ok := o.(TestSetupHandler[C])
		if !ok {
			return missing
		}
		return h.OnTestSetup(ctx, m)
	case TestTeardown[C]:
		h, ok := o.(TestTeardownHandler[C])
		if !ok {
			return missing
		}
		return h.OnTestTeardown(ctx, m)
	case ClassTeardown[C]:
		h, ok := o.(ClassTeardownHandler[C])
		if !ok {
			return missing
		}
		return h.OnClassTeardown(ctx, m)
	default:
		return fmt.Errorf("%w: message %T", ErrUnknownEvent, msg)
	}
}

// sameObserver compares identity without panicking on non-comparable
// dynamic types.
func sameObserver(a, b Observer) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
