package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Dialect captures the differences between supported SQL backends.
type Dialect interface {
	Name() string
	DriverName() string
	// Rebind rewrites '?' placeholders into the dialect's native form.
	Rebind(query string) string
	IsUniqueViolation(err error) bool
	TableExistsQuery() string
	IndexExistsQuery() string
	migrationsDir() string
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q (want sqlite or postgres)", driver)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return DialectSQLite }
func (sqliteDialect) DriverName() string         { return "sqlite3" }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) migrationsDir() string      { return "migrations/sqlite" }

func (sqliteDialect) IsUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (sqliteDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (sqliteDialect) IndexExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`
}

type postgresDialect struct{}

func (postgresDialect) Name() string          { return DialectPostgres }
func (postgresDialect) DriverName() string    { return "pgx" }
func (postgresDialect) migrationsDir() string { return "migrations/postgres" }

// Rebind turns '?' into $1, $2, ... skipping quoted literals.
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func (postgresDialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?`
}

func (postgresDialect) IndexExistsQuery() string {
	return `SELECT COUNT(*) FROM pg_indexes WHERE indexname = ?`
}
