// Package lease implements the cooperative write-authorization gate. A
// lease is a row in write_leases; holding its token authorizes mutations.
// Every mutating call receives the *Lease and re-checks it inside its own
// transaction.
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
)

// RegistryGate guards every write to the canonical registry.
const RegistryGate = "registry"

// DefaultTTL bounds how long a crashed holder can block other writers.
const DefaultTTL = 10 * time.Minute

// Lease is a held write authorization.
type Lease struct {
	Gate       string    `json:"gate"`
	Holder     string    `json:"holder"`
	Token      string    `json:"-"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager acquires and releases leases.
type Manager struct {
	db  *db.DB
	ttl time.Duration
	now func() time.Time
	log logrus.FieldLogger
}

// NewManager creates a manager issuing leases valid for ttl.
func NewManager(database *db.DB, ttl time.Duration, log logrus.FieldLogger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{db: database, ttl: ttl, now: time.Now, log: logging.OrDiscard(log)}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// HolderName builds a descriptive holder string: actor@host:pid.
func HolderName(actor string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if actor == "" {
		actor = "teamq"
	}
	return fmt.Sprintf("%s@%s:%d", actor, host, os.Getpid())
}

// Acquire takes the gate for holder. It fails with an
// *domain.AuthorizationDeniedError if another unexpired lease exists.
func (m *Manager) Acquire(ctx context.Context, gate, holder string) (*Lease, error) {
	now := m.now().UTC()
	l := &Lease{
		Gate:       gate,
		Holder:     holder,
		Token:      id.New(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	// One statement: insert, or take over only an expired row.
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO write_leases (name, holder, token, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			holder = excluded.holder,
			token = excluded.token,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE write_leases.expires_at <= ?
	`, gate, holder, l.Token, db.FormatTime(l.AcquiredAt), db.FormatTime(l.ExpiresAt), db.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %q: %w", gate, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, ok, err := m.Status(ctx, gate)
		if err != nil {
			return nil, err
		}
		denied := &domain.AuthorizationDeniedError{Gate: gate, Reason: "gate is held"}
		if ok {
			denied.Holder = current.Holder
			denied.ExpiresAt = current.ExpiresAt
		}
		return nil, denied
	}

	m.log.WithFields(logrus.Fields{"gate": gate, "holder": holder, "expires_at": l.ExpiresAt}).Debug("lease acquired")
	return l, nil
}

// Renew pushes the expiry of a held lease forward.
func (m *Manager) Renew(ctx context.Context, l *Lease) error {
	if l == nil {
		return &domain.AuthorizationDeniedError{Gate: RegistryGate, Reason: "no lease"}
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	res, err := m.db.ExecContext(ctx, `
		UPDATE write_leases SET expires_at = ?
		WHERE name = ? AND token = ? AND expires_at > ?
	`, db.FormatTime(expires), l.Gate, l.Token, db.FormatTime(now))
	if err != nil {
		return fmt.Errorf("failed to renew lease %q: %w", l.Gate, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.AuthorizationDeniedError{Gate: l.Gate, Holder: l.Holder, Reason: "lease lost or expired"}
	}
	l.ExpiresAt = expires
	return nil
}

// Release gives the gate back. Releasing a lease that was already lost
// or released is not an error.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	// The release must happen even if ctx was cancelled.
	rctx := context.WithoutCancel(ctx)
	if _, err := m.db.ExecContext(rctx, "DELETE FROM write_leases WHERE name = ? AND token = ?", l.Gate, l.Token); err != nil {
		return fmt.Errorf("failed to release lease %q: %w", l.Gate, err)
	}
	m.log.WithFields(logrus.Fields{"gate": l.Gate, "holder": l.Holder}).Debug("lease released")
	return nil
}

// ForceRelease removes the gate regardless of holder.
func (m *Manager) ForceRelease(ctx context.Context, gate string) (bool, error) {
	res, err := m.db.ExecContext(ctx, "DELETE FROM write_leases WHERE name = ?", gate)
	if err != nil {
		return false, fmt.Errorf("failed to force-release lease %q: %w", gate, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Status returns the current lease row for gate, expired or not.
func (m *Manager) Status(ctx context.Context, gate string) (*Lease, bool, error) {
	var l Lease
	var acquired, expires string
	err := m.db.QueryRowContext(ctx, `
		SELECT name, holder, token, acquired_at, expires_at FROM write_leases WHERE name = ?
	`, gate).Scan(&l.Gate, &l.Holder, &l.Token, &acquired, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read lease %q: %w", gate, err)
	}
	l.AcquiredAt, _ = db.ParseTime(acquired)
	l.ExpiresAt, _ = db.ParseTime(expires)
	return &l, true, nil
}

// Expired reports whether the lease is past its expiry at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Do acquires the gate, runs fn, and releases the gate on every exit path.
func (m *Manager) Do(ctx context.Context, gate, holder string, fn func(ctx context.Context, l *Lease) error) (err error) {
	l, err := m.Acquire(ctx, gate, holder)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := m.Release(ctx, l); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx, l)
}

// Verify checks, inside the caller's transaction, that l is still the
// current unexpired holder of its gate.
func (m *Manager) Verify(ctx context.Context, ex db.Executor, l *Lease) error {
	return Verify(ctx, ex, l, m.now())
}

// Verify checks l against the write_leases row at time now.
func Verify(ctx context.Context, ex db.Executor, l *Lease, now time.Time) error {
	if l == nil {
		return &domain.AuthorizationDeniedError{Gate: RegistryGate, Reason: "no lease held"}
	}
	var token, holder, expires string
	err := ex.QueryRowContext(ctx, "SELECT token, holder, expires_at FROM write_leases WHERE name = ?", l.Gate).
		Scan(&token, &holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.AuthorizationDeniedError{Gate: l.Gate, Reason: "lease released"}
	}
	if err != nil {
		return fmt.Errorf("failed to verify lease %q: %w", l.Gate, err)
	}
	if token != l.Token {
		exp, _ := db.ParseTime(expires)
		return &domain.AuthorizationDeniedError{Gate: l.Gate, Holder: holder, ExpiresAt: exp, Reason: "lease taken over"}
	}
	if expires <= db.FormatTime(now) {
		return &domain.AuthorizationDeniedError{Gate: l.Gate, Holder: holder, Reason: "lease expired"}
	}
	return nil
}
