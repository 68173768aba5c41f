// Package store is the Event Store Gateway and the home of every derived row:
// sessions, workflow instances, templates, experiments, rules and tenants.
//
// One SQL text serves both drivers. Queries are written with $N placeholders and
// rebound to ?N for SQLite; timestamps are BIGINT unix milliseconds and JSON
// lives in TEXT columns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects the few statements that differ between drivers.
type Dialect int

const (
	DialectPostgres Dialect = iota + 1
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	}
	return "unknown"
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders for drivers that do not take them.
func (d Dialect) rebind(query string) string {
	if d != DialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?${1}")
}

// Store provides access to the analytics database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with driver "pgx" (alias "postgres") or "sqlite" and pings.
// For sqlite, dsn is a file path; its directory is created if missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch driver {
	case "pgx", "postgres":
		dialect = DialectPostgres
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case "sqlite":
		dialect = DialectSQLite
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("Open: create data dir %s: %w", dir, err)
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		db, err = sql.Open("sqlite", dsn+sep+"_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		// Single connection: SQLite serializes writers anyway, and this keeps
		// per-actor transactions from failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("Open: unsupported driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Dialect reports the backing driver family.
func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn rebinds every statement for the store's dialect.
type conn struct {
	q       queryer
	dialect Dialect
}

func (s *Store) conn() conn { return conn{q: s.db, dialect: s.dialect} }

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.rebind(query), args...)
}

// withTx runs fn in a transaction, committing only when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(c conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(conn{q: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

// filter accumulates AND-ed conditions, numbering placeholders as it goes.
type filter struct {
	conds []string
	args  []any
}

// add appends cond with its single "?" replaced by the next $N.
func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(f.args)), 1))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// next is the placeholder number following the filter's arguments.
func (f *filter) next() string {
	return "$" + strconv.Itoa(len(f.args)+1)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
