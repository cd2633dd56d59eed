// Package sqlstore implements fixture storage over database/sql for SQLite
// and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql
	_ "modernc.org/sqlite"             // SQLite driver for database/sql

	"github.com/bft-labs/e2ekit/pkg/fixture"
	"github.com/bft-labs/e2ekit/pkg/log"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite and postgres.
var ErrUnsupportedDriver = errors.New("sqlstore: unsupported driver")

// Store inserts and truncates fixture rows.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  log.Logger
	owned   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to dsn and verifies the connection. The store owns the
// connection pool and closes it on Close.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.name, err)
	}
	if d.name == DriverSQLite {
		// Serialise writers on one connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", d.name, err)
	}

	s := newStore(db, d, opts)
	s.owned = true
	s.logger.Debug("opened fixture storage", log.String("driver", d.name))
	return s, nil
}

// New wraps an existing pool. Close does not close db.
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, opts), nil
}

func newStore(db *sql.DB, d dialect, opts []Option) *Store {
	s := &Store{db: db, dialect: d, logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.dialect.name }

// Close closes the pool if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Exec runs a statement, typically schema setup.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Insert writes row into table and returns the stored row including
// generated columns. Columns are written in sorted order.
func (s *Store) Insert(ctx context.Context, table string, row fixture.Row) (fixture.Row, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	slices.Sort(cols)

	var q strings.Builder
	q.WriteString("INSERT INTO ")
	q.WriteString(quoteIdent(table))
	args := make([]any, 0, len(cols))
	if len(cols) == 0 {
		q.WriteString(" DEFAULT VALUES")
	} else {
		q.WriteString(" (")
		for i, c := range cols {
			if i > 0 {
				q.WriteString(", ")
			}
			q.WriteString(quoteIdent(c))
		}
		q.WriteString(") VALUES (")
		for i, c := range cols {
			if i > 0 {
				q.WriteString(", ")
			}
			q.WriteString(s.dialect.placeholder(i + 1))
			args = append(args, row[c])
		}
		q.WriteString(")")
	}
	q.WriteString(" RETURNING *")

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("insert into %s returned no row", table)
	}
	stored, err := scanRow(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("inserted fixture row", log.String("table", table))
	return stored, nil
}

// Truncate deletes every row of table and resets its identity sequence.
func (s *Store) Truncate(ctx context.Context, table string) error {
	if err := s.dialect.truncate(ctx, s.db, table); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	s.logger.Debug("truncated table", log.String("table", table))
	return nil
}

// Exists reports whether table exists.
func (s *Store) Exists(ctx context.Context, table string) (bool, error) {
	ok, err := s.dialect.exists(ctx, s.db, table)
	if err != nil {
		return false, fmt.Errorf("lookup table %s: %w", table, err)
	}
	return ok, nil
}

func scanRow(rows *sql.Rows) (fixture.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	out := make(fixture.Row, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			out[c] = string(b)
			continue
		}
		out[c] = values[i]
	}
	return out, nil
}

var _ fixture.Storage = (*Store)(nil)
