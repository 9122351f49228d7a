// Package audit writes and reads the append-only audit log.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
)

const (
	TableTeams     = "teams"
	TableMatches   = "matches"
	TableSourceMap = "source_entity_map"
)

// Writer appends audit records. It is always called with the transaction
// performing the mutation so the record commits or rolls back with it.
type Writer struct {
	actor string
	now   func() time.Time
}

// NewWriter creates a writer attributing records to actor.
func NewWriter(actor string) *Writer {
	if actor == "" {
		actor = "system"
	}
	return &Writer{actor: actor, now: time.Now}
}

// Actor returns the attributed actor.
func (w *Writer) Actor() string {
	return w.actor
}

// Log writes one audit record.
func (w *Writer) Log(ctx context.Context, ex db.Executor, batchID, table, recordID string, action domain.AuditAction, snapshot, summary any) error {
	snap, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode audit snapshot for %s: %w", recordID, err)
	}
	sum, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode audit summary for %s: %w", recordID, err)
	}

	var batch any
	if batchID != "" {
		batch = batchID
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_log (id, batch_id, table_name, record_id, action, snapshot, summary, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.New(), batch, table, recordID, string(action), string(snap), string(sum), w.actor, db.FormatTime(w.now()))
	if err != nil {
		return fmt.Errorf("failed to write audit record for %s %s: %w", table, recordID, err)
	}
	return nil
}

// TeamSnapshot is the full pre-merge state of a destroyed team.
type TeamSnapshot struct {
	Team     *domain.Team           `json:"team"`
	Mappings []domain.SourceMapping `json:"mappings,omitempty"`
}

// LogMerge records that team was destroyed by merging it into summary.MergedInto.
func (w *Writer) LogMerge(ctx context.Context, ex db.Executor, batchID string, snap TeamSnapshot, summary domain.MergeSummary) error {
	return w.Log(ctx, ex, batchID, TableTeams, snap.Team.ID, domain.AuditActionMerge, snap, summary)
}

// LogSoftDelete records a match being soft-deleted.
func (w *Writer) LogSoftDelete(ctx context.Context, ex db.Executor, batchID string, m *domain.Match, reason string) error {
	return w.Log(ctx, ex, batchID, TableMatches, m.ID, domain.AuditActionSoftDelete, m, map[string]string{"reason": reason})
}

// LogRepoint records a match moving from one team reference to another.
func (w *Writer) LogRepoint(ctx context.Context, ex db.Executor, batchID string, m *domain.Match, from, to string) error {
	return w.Log(ctx, ex, batchID, TableMatches, m.ID, domain.AuditActionRepoint, m, map[string]string{"from": from, "to": to})
}

// LogRedirect records a source mapping being redirected to a new team.
func (w *Writer) LogRedirect(ctx context.Context, ex db.Executor, batchID string, m *domain.SourceMapping, to string) error {
	key := m.SourceID + ":" + m.SourceEntityID
	return w.Log(ctx, ex, batchID, TableSourceMap, key, domain.AuditActionRedirect, m, map[string]string{"from": m.TeamID, "to": to})
}

// Filter narrows List.
type Filter struct {
	RecordID string
	Action   domain.AuditAction
	BatchID  string
	Limit    int

	// BeforeCreated and BeforeID resume a listing after the last record
	// of the previous page.
	BeforeCreated string
	BeforeID      string
}

// List returns audit records, newest first.
func List(ctx context.Context, ex db.Executor, f Filter) ([]domain.AuditRecord, error) {
	var where []string
	var args []any
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	if f.BatchID != "" {
		where = append(where, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.BeforeID != "" {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.BeforeCreated, f.BeforeCreated, f.BeforeID)
	}

	query := `SELECT id, COALESCE(batch_id, ''), table_name, record_id, action, snapshot, summary, actor, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var action, snap, sum, created string
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.TableName, &rec.RecordID, &action, &snap, &sum, &rec.Actor, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Action = domain.AuditAction(action)
		rec.Snapshot = json.RawMessage(snap)
		rec.Summary = json.RawMessage(sum)
		if rec.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, fmt.Errorf("bad audit timestamp %q: %w", created, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MergedInto returns the team a destroyed team was merged into.
func MergedInto(ctx context.Context, ex db.Executor, teamID string) (string, bool, error) {
	var raw string
	err := ex.QueryRowContext(ctx, `
		SELECT summary FROM audit_log
		WHERE table_name = ? AND record_id = ? AND action = ?
		ORDER BY created_at DESC LIMIT 1
	`, TableTeams, teamID, string(domain.AuditActionMerge)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up merge record for %s: %w", teamID, err)
	}
	var sum domain.MergeSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return "", false, fmt.Errorf("bad merge summary for %s: %w", teamID, err)
	}
	return sum.MergedInto, sum.MergedInto != "", nil
}

// maxRedirectHops bounds Follow on corrupted (cyclic) audit data.
const maxRedirectHops = 64

// Follow walks merge redirects from teamID until it reaches an id with no
// MERGE record. The returned id may still be absent from teams if the log
// is incomplete; callers check.
func Follow(ctx context.Context, ex db.Executor, teamID string) (string, error) {
	current := teamID
	for i := 0; i < maxRedirectHops; i++ {
		next, ok, err := MergedInto(ctx, ex, current)
		if err != nil {
			return "", err
		}
		if !ok {
			return current, nil
		}
		current = next
	}
	return "", fmt.Errorf("merge redirect chain from %s exceeds %d hops", teamID, maxRedirectHops)
}
