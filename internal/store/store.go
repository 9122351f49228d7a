// Package store provides the persistence layer for the canonical registry.
// Sub-store methods take a db.Executor so callers control the transaction
// boundary; WithTx is the usual way to get one.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
)

// Store is the root store that provides access to domain-specific stores.
type Store struct {
	db  *db.DB
	now func() time.Time

	Teams    *TeamStore
	Mappings *MappingStore
	Matches  *MatchStore
}

// New creates a new Store wrapping the given database connection.
func New(database *db.DB) *Store {
	s := &Store{db: database, now: time.Now}
	s.Teams = &TeamStore{store: s}
	s.Mappings = &MappingStore{store: s}
	s.Matches = &MatchStore{store: s}
	return s
}

// DB returns the underlying database connection (for read-only queries).
func (s *Store) DB() *db.DB {
	return s.db
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time from the store clock.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func (s *Store) stamp() string {
	return db.FormatTime(s.Now())
}

// WithTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *db.Tx) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// inClause returns "col IN (?, ?, ...)" and its args. An empty list yields
// a clause that matches nothing.
func inClause(col string, ids []string) (string, []any) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	return fmt.Sprintf("%s IN (%s)", col, db.Placeholders(len(ids))), db.Args(ids)
}

func parseStamp(s string) time.Time {
	t, err := db.ParseTime(s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ErrDuplicate marks a write rejected by a unique constraint.
var ErrDuplicate = errors.New("duplicate key")

// writeErr wraps a failed write, tagging unique violations with
// ErrDuplicate.
func writeErr(ex db.Executor, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if ex.Dialect().IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
