//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bft-labs/e2ekit/pkg/fixture"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	// PostgreSQL logs "ready" once during bootstrap and once when it accepts
	// connections, so wait for the second occurrence.
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("e2ekit_test"),
		postgres.WithUsername("e2ekit_test"),
		postgres.WithPassword("e2ekit_test"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Exec(ctx, `
		CREATE TABLE countries (id SERIAL PRIMARY KEY, code TEXT NOT NULL);
		CREATE TABLE users (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			country_id INTEGER REFERENCES countries(id)
		);
	`))
	return s
}

func TestPostgres_InsertTruncateExists(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	ok, err := s.Exists(ctx, "users")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "public.missing")
	require.NoError(t, err)
	assert.False(t, ok)

	fr, err := s.Insert(ctx, "countries", fixture.Row{"code": "FR"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, fr["id"])

	_, err = s.Insert(ctx, "users", fixture.Row{"name": "Admin", "country_id": fr["id"]})
	require.NoError(t, err)

	// A referenced table is not emptied behind the back of its dependents.
	require.Error(t, s.Truncate(ctx, "countries"))
	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT count(*) FROM users").Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, s.Truncate(ctx, "users"))
	require.NoError(t, s.Truncate(ctx, "countries"))
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT count(*) FROM countries").Scan(&n))
	assert.Zero(t, n)

	de, err := s.Insert(ctx, "countries", fixture.Row{"code": "DE"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, de["id"])
}

func TestPostgres_TruncateLeavesUnrelatedDependents(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)

	require.NoError(t, s.Exec(ctx, `
		CREATE TABLE audit (
			id SERIAL PRIMARY KEY,
			country_id INTEGER REFERENCES countries(id) ON DELETE SET NULL
		);
	`))
	fr, err := s.Insert(ctx, "countries", fixture.Row{"code": "FR"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "audit", fixture.Row{"country_id": fr["id"]})
	require.NoError(t, err)

	require.NoError(t, s.Truncate(ctx, "countries"))

	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT count(*) FROM audit").Scan(&n))
	assert.Equal(t, 1, n, "truncating countries must not empty audit")
}
