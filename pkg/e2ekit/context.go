package e2ekit

import (
	"context"

	"github.com/bft-labs/e2ekit/pkg/envconfig"
	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/log"
	"github.com/bft-labs/e2ekit/pkg/state"
)

// Role is the part a process plays for a test class.
type Role int

const (
	RoleUnknown Role = iota

	// RoleMain is the process that created the shared record.
	RoleMain

	// RoleSecondary is a process spawned for an isolated test.
	RoleSecondary
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// AppScope controls how long an application instance lives.
type AppScope int

const (
	// AppPerClass shares one application across the tests of a class.
	AppPerClass AppScope = iota

	// AppPerTest creates a fresh application for every test.
	AppPerTest
)

// TestClass describes one test class.
type TestClass struct {
	// ID identifies the class in the shared record.
	ID string

	// Path is used to resolve the environment. Defaults to ID.
	Path string

	Fixtures []fixture.Declaration

	AppScope AppScope

	// CleanupPerTest unloads fixtures after every test except the last.
	CleanupPerTest bool
}

func (c TestClass) path() string {
	if c.Path != "" {
		return c.Path
	}
	return c.ID
}

// TestCase identifies one test method.
type TestCase struct {
	Name string

	// Isolated is true when the test runs in its own process.
	Isolated bool
}

// Context is the state of one test class, owned by the Coordinator and
// passed to every observer.
type Context struct {
	Class     TestClass
	Role      Role
	ProcessID int

	// Record is the shared record as seen at class setup.
	Record state.Record

	// Env is the resolved environment, set by the config provider.
	Env envconfig.Config

	// Test is the running test, zero between tests.
	Test TestCase

	// App is the current application, nil when none exists.
	App *Application

	Store  state.Store
	Logger log.Logger

	// Fixtures is set by the db fixture manager.
	Fixtures *DBFixtureManager

	appProvider func(ctx context.Context) (*Application, error)
}

// Application returns the current application, creating it if the class
// has none yet.
func (c *Context) Application(ctx context.Context) (*Application, error) {
	if c.App != nil {
		return c.App, nil
	}
	if c.appProvider == nil {
		return nil, configError("app", "no application provider")
	}
	return c.appProvider(ctx)
}
