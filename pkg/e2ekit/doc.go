// Package e2ekit coordinates fixtures around end-to-end test classes whose
// tests may run in separate processes.
//
// A [Coordinator] receives the four lifecycle events of a test class (class
// setup, test setup, test teardown, class teardown) and dispatches them to
// an ordered set of observers: the environment resolver, the
// [AppFixtureManager] and the [DBFixtureManager]. Processes of the same
// class share a small record on disk. The process that creates it is the
// main process; any process started later for an isolated test finds the
// record and becomes a secondary process.
//
// # Basic Usage
//
//	c, err := e2ekit.New(e2ekit.Config{
//	    StateDir:      os.TempDir(),
//	    EnvConfigFile: "tests/e2e.toml",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	class := e2ekit.TestClass{
//	    ID:       "tests/e2e/UsersTest",
//	    Fixtures: []fixture.Declaration{fixture.Declare(usersFixture)},
//	}
//	err = c.Run(ctx, class, tests, func(ctx context.Context, cc *e2ekit.Context, tc e2ekit.TestCase) error {
//	    admin, err := cc.Fixtures.Row("UsersFixture", "admin")
//	    ...
//	})
//
// # Isolated Tests
//
// Tests marked Isolated are handed to the [Spawner] set with [WithSpawner].
// The spawned process runs class setup, the test, and class teardown with
// its own coordinator. It reuses the tables the main process loaded and
// never destroys the shared record.
//
// # Environment
//
// The environment of a class is resolved from its path. Variables are set
// when the application is created and restored when it is destroyed.
// Bootstrap files are TOML documents deep-merged into the application
// parameters.
//
// # Storage
//
// The default application factory opens its fixture storage from the
// db.driver and db.dsn parameters. Drivers "sqlite" and "postgres" are
// supported; use [WithStorageOpener] or [WithAppFactory] for anything else.
package e2ekit
