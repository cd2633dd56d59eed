// Package e2ekit orchestrates fixtures for end-to-end test classes whose
// tests may run in several processes.
//
// Example usage:
//
//	users := &e2ekit.Descriptor{
//	    ResourceKey: "UsersFixture",
//	    Table:       "users",
//	    Source:      e2ekit.FileSource("testdata/users.yaml"),
//	}
//	c, err := e2ekit.New(e2ekit.Config{StateDir: os.TempDir(), EnvConfigFile: "e2e.toml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	class := e2ekit.TestClass{ID: "tests/e2e/UsersTest", Fixtures: e2ekit.Declare(users)}
//	if err := c.Run(ctx, class, tests, body); err != nil {
//	    log.Fatal(err)
//	}
//
// The full API lives in package github.com/bft-labs/e2ekit/pkg/e2ekit.
package e2ekit

import (
	"slices"

	core "github.com/bft-labs/e2ekit/pkg/e2ekit"
	"github.com/bft-labs/e2ekit/pkg/fixture"
)

// Config holds the settings of a Coordinator.
type Config = core.Config

// Coordinator drives the lifecycle of a test class.
type Coordinator = core.Coordinator

// Option configures a Coordinator.
type Option = core.Option

// TestClass describes a test class and its fixtures.
type TestClass = core.TestClass

// TestCase identifies one test of a class.
type TestCase = core.TestCase

// Context is the per-class context passed to observers and test bodies.
type Context = core.Context

// Descriptor describes one fixture table.
type Descriptor = fixture.Descriptor

// Dependency is a fixture another fixture depends on, under an alias.
type Dependency = fixture.Dependency

// Declaration is a fixture reference, ready or lazy.
type Declaration = fixture.Declaration

// Row is one fixture row.
type Row = fixture.Row

// New creates a coordinator. See core.New.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	return core.New(cfg, opts...)
}

// Declare wraps ready descriptors into declarations.
func Declare(ds ...*Descriptor) []Declaration {
	out := make([]Declaration, len(ds))
	for i, d := range ds {
		out[i] = fixture.Declare(d)
	}
	return out
}

// FileSource reads fixture rows from a YAML file.
func FileSource(path string) fixture.DataSource {
	return fixture.FileSource{Path: path}
}

// Rows builds an inline data source from rows keyed by alias. Rows are
// inserted in alias order.
func Rows(rows map[string]Row) fixture.DataSource {
	aliases := make([]string, 0, len(rows))
	for a := range rows {
		aliases = append(aliases, a)
	}
	slices.Sort(aliases)

	src := make(fixture.InlineSource, 0, len(rows))
	for _, a := range aliases {
		src = append(src, fixture.RowSpec{Alias: a, Values: rows[a]})
	}
	return src
}
