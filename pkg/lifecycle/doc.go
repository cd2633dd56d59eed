// Package lifecycle provides the typed event bus and phase state machine
// that sequence fixture managers around a test class.
//
// The event set is closed: [EventClassSetup], [EventTestSetup],
// [EventTestTeardown] and [EventClassTeardown]. Each event has a message
// type carrying a caller-defined context value C, and a handler interface an
// observer implements to receive it:
//
//	type dbManager struct{ ... }
//
//	func (m *dbManager) Name() string { return "db-fixtures" }
//	func (m *dbManager) OnClassSetup(ctx context.Context, msg lifecycle.ClassSetup[*Scope]) error { ... }
//
//	bus := lifecycle.NewBus[*Scope](logger)
//	if err := bus.Register(lifecycle.EventClassSetup, m); err != nil {
//	    return err
//	}
//	err := bus.Dispatch(ctx, lifecycle.ClassSetup[*Scope]{Ctx: scope})
//
// Observers run in registration order. Dispatch is fail-fast: an observer
// that does not implement the handler for the event, or whose handler
// returns an error, stops the dispatch and no later observer runs. Register
// rejects observers whose dynamic type is not comparable.
//
// # Phases
//
// [Phases] rejects events that arrive out of order:
//   - Idle -> ClassReady (class setup)
//   - ClassReady -> TestRunning (test setup)
//   - TestRunning -> ClassReady (test teardown)
//   - ClassReady -> Idle (class teardown)
//   - any -> Broken; Broken -> Idle (class teardown)
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
package lifecycle
