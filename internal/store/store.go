// Package store is the persistence layer. One Store serves both SQLite
// (modernc.org/sqlite, CGo-free) and PostgreSQL (lib/pq); the dialect is
// chosen from the DATABASE_URL scheme. Queries are written with `?`
// placeholders and rebound to `$N` for Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Sentinel errors handlers translate to HTTP statuses.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entity")
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// Store wraps the SQL connection pool.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *log.Logger
}

// Open connects to the database named by databaseURL and verifies the
// connection. Supported schemes: sqlite:// (three slashes for a path),
// postgresql:// and postgres://.
func Open(databaseURL string) (*Store, error) {
	driver, dsn, dialect, err := resolveDSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	switch dialect {
	case dialectSQLite:
		// One writer connection keeps SQLite serialization honest.
		db.SetMaxOpenConns(1)
	case dialectPostgres:
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(15)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
	s.logger.Printf("✅ Connected (%s)", dialect)
	return s, nil
}

func resolveDSN(databaseURL string) (driver, dsn, dialect string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite:///"):
		path := strings.TrimPrefix(databaseURL, "sqlite:///")
		if path == "" {
			return "", "", "", fmt.Errorf("sqlite DATABASE_URL has empty path")
		}
		// FOREIGN KEYS must be on for every connection (cascade deletes,
		// junction integrity).
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		return "sqlite", dsn, dialectSQLite, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "", "", "", fmt.Errorf("sqlite DATABASE_URL needs three slashes: sqlite:///path/to.db")
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return "postgres", databaseURL, dialectPostgres, nil
	default:
		return "", "", "", fmt.Errorf("unsupported DATABASE_URL scheme (want sqlite:/// or postgresql://): %s", redact(databaseURL))
	}
}

// redact hides credentials when a bad URL ends up in a log line.
func redact(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is still usable; /health reports on it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts `?` placeholders to `$N` for Postgres. Query text in this
// package never contains a literal question mark.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ---- column helpers -------------------------------------------------------

// Timestamps are stored as RFC 3339 UTC text in both dialects. The fraction
// is fixed-width so lexicographic ORDER BY matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// JSON columns (string slices, port lists, open maps) are TEXT.

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalInts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
