// Package envconfig resolves the environment a test class runs in: the
// environment variables to set, the bootstrap parameter files to load and
// the application parameters.
//
// The configuration is a TOML file of scopes:
//
//	[[scope]]
//	path = "tests/e2e"
//	bootstrap = ["bootstrap/base.toml"]
//	[scope.env]
//	APP_ENV = "test"
//	[scope.params]
//	db = { driver = "sqlite", dsn = "file:e2e.db" }
//
//	[[scope]]
//	path = "tests/**/admin"
//	[scope.env]
//	APP_DEBUG = "1"
//
// A scope path is either a directory prefix or a doublestar glob. Every scope
// matching a class path applies, from the most general (fewest path
// segments) to the most specific, ties broken by declaration order. Later
// scopes override env keys, deep-merge params and append bootstrap files.
//
// A [Watcher] drops cached resolutions when the file changes on disk.
package envconfig
