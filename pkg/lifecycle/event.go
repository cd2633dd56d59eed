package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Event is one of the four lifecycle events.
type Event int

const (
	EventClassSetup Event = iota + 1
	EventTestSetup
	EventTestTeardown
	EventClassTeardown
)

// Events lists the closed event set in lifecycle order.
var Events = []Event{
	EventClassSetup,
	EventTestSetup,
	EventTestTeardown,
	EventClassTeardown,
}

// ErrUnknownEvent is returned for events outside the closed set.
var ErrUnknownEvent = errors.New("lifecycle: unknown event")

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventClassSetup:
		return "ClassSetup"
	case EventTestSetup:
		return "TestSetup"
	case EventTestTeardown:
		return "TestTeardown"
	case EventClassTeardown:
		return "ClassTeardown"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Valid reports whether e belongs to the closed event set.
func (e Event) Valid() bool {
	return e >= EventClassSetup && e <= EventClassTeardown
}

// ParseEvent resolves an event name. Case, dashes, underscores and spaces are
// ignored, so "ClassSetup", "class-setup" and "class_setup" are equivalent.
func ParseEvent(name string) (Event, error) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(name))

	for _, e := range Events {
		if strings.ToLower(e.String()) == norm {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// Test identifies one test method.
type Test struct {
	ClassID string
	Name    string

	// Isolated is true when the method runs in its own OS process.
	Isolated bool
}

// Message is a lifecycle event payload.
type Message interface {
	Event() Event
}

// ClassSetup is dispatched once per class before any test runs.
type ClassSetup[C any] struct {
	Ctx C
}

// TestSetup is dispatched before each test method.
type TestSetup[C any] struct {
	Ctx  C
	Test Test
}

// TestTeardown is dispatched after each test method. ClassBoundary is true
// when the class teardown follows immediately.
type TestTeardown[C any] struct {
	Ctx           C
	Test          Test
	ClassBoundary bool
}

// ClassTeardown is dispatched once per class after the last test.
type ClassTeardown[C any] struct {
	Ctx C
}

func (ClassSetup[C]) Event() Event    { return EventClassSetup }
func (TestSetup[C]) Event() Event     { return EventTestSetup }
func (TestTeardown[C]) Event() Event  { return EventTestTeardown }
func (ClassTeardown[C]) Event() Event { return EventClassTeardown }

// Observer is anything registered on a Bus. A Bus tells observers apart
// with ==, so implementations are usually pointers.
type Observer interface {
	Name() string
}

type ClassSetupHandler[C any] interface {
	OnClassSetup(ctx context.Context, msg ClassSetup[C]) error
}

type TestSetupHandler[C any] interface {
	OnTestSetup(ctx context.Context, msg TestSetup[C]) error
}

type TestTeardownHandler[C any] interface {
	OnTestTeardown(ctx context.Context, msg TestTeardown[C]) error
}

type ClassTeardownHandler[C any] interface {
	OnClassTeardown(ctx context.Context, msg ClassTeardown[C]) error
}
