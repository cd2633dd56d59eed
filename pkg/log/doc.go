// Package log provides the logging port used by e2ekit components.
//
// Library packages accept a [Logger] and never write to a global logger.
// Two implementations ship with the package: [ZerologAdapter], used by the
// e2ekit command, and [NoopLogger], the default for library callers that do
// not inject one.
//
// # Usage
//
//	logger := log.NewZerologAdapter(log.LevelInfo)
//	logger.Info("class setup", log.String("class", "UsersTest"), log.String("role", "main"))
//
// Use [Named] to scope a logger to a component; the name is attached to
// every record as the "component" field.
package log
