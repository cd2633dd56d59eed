//go:build mage

// Package main provides build targets for e2ekit using Mage.
//
// Usage:
//
//	mage build            Compile the e2ekit binary to bin/
//	mage test             Run unit tests
//	mage testIntegration  Run tests tagged integration (needs Docker)
//	mage lint             Run golangci-lint
//	mage clean            Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "e2ekit"
	binaryDir  = "bin"
	cmdDir     = "./cmd/e2ekit"
)

// Build compiles the e2ekit binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// TestIntegration runs the Postgres-backed tests through testcontainers.
func TestIntegration() error {
	mg.Deps(Build)
	return sh.RunV("go", "test", "-tags", "integration", "./internal/adapters/sqlstore/...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV("go", "clean")
}
