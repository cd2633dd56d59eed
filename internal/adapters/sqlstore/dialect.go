package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name string

	// sqlDriver is the database/sql driver name.
	sqlDriver string

	placeholder func(n int) string
	truncate    func(ctx context.Context, db *sql.DB, table string) error
	exists      func(ctx context.Context, db *sql.DB, table string) (bool, error)
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

var sqliteDialect = dialect{
	name:        DriverSQLite,
	sqlDriver:   "sqlite",
	placeholder: func(int) string { return "?" },
	truncate: func(ctx context.Context, db *sql.DB, table string) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
			return err
		}

		// sqlite_sequence only exists once an AUTOINCREMENT table was created.
		var n int
		err = tx.QueryRowContext(ctx,
			"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = ?", unqualified(table)); err != nil {
				return err
			}
		}
		return tx.Commit()
	},
	exists: func(ctx context.Context, db *sql.DB, table string) (bool, error) {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", unqualified(table)).Scan(&n)
		return n > 0, err
	},
}

var postgresDialect = dialect{
	name:        DriverPostgres,
	sqlDriver:   "pgx",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	// TRUNCATE refuses tables referenced by a foreign key unless it cascades
	// into tables no fixture owns, so rows are deleted instead. Rows that are
	// still referenced make the delete fail.
	truncate: func(ctx context.Context, db *sql.DB, table string) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
			return err
		}
		// Restart the sequences behind serial and identity columns.
		_, err = tx.ExecContext(ctx, `SELECT setval(d.objid::regclass, s.seqstart, false)
			FROM pg_depend d
			JOIN pg_sequence s ON s.seqrelid = d.objid
			WHERE d.classid = 'pg_class'::regclass
			  AND d.refobjid = $1::regclass
			  AND d.deptype IN ('a', 'i')`, quoteIdent(table))
		if err != nil {
			return err
		}
		return tx.Commit()
	},
	exists: func(ctx context.Context, db *sql.DB, table string) (bool, error) {
		var ok bool
		err := db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", quoteIdent(table)).Scan(&ok)
		return ok, err
	},
}

// quoteIdent quotes each dot-separated part of a possibly schema-qualified
// name.
func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func unqualified(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
