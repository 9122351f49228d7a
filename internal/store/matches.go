package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// MatchStore handles match persistence.
type MatchStore struct {
	store *Store
}

const matchColumns = `id, source_id, source_match_key, match_date, home_team_id, away_team_id,
	home_score, away_score, legacy, deleted_at, deleted_reason, created_at`

func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	var home, away sql.NullInt64
	var legacy int
	var deletedAt, reason sql.NullString
	var created string
	if err := row.Scan(&m.ID, &m.SourceID, &m.SourceMatchKey, &m.Date, &m.HomeTeamID, &m.AwayTeamID,
		&home, &away, &legacy, &deletedAt, &reason, &created); err != nil {
		return nil, err
	}
	if home.Valid {
		v := int(home.Int64)
		m.HomeScore = &v
	}
	if away.Valid {
		v := int(away.Int64)
		m.AwayScore = &v
	}
	m.Legacy = legacy != 0
	if deletedAt.Valid {
		t := parseStamp(deletedAt.String)
		m.DeletedAt = &t
	}
	if reason.Valid {
		m.DeletedReason = &reason.String
	}
	m.CreatedAt = parseStamp(created)
	return &m, nil
}

func (ms *MatchStore) list(ctx context.Context, ex db.Executor, where string, args ...any) ([]*domain.Match, error) {
	q := "SELECT " + matchColumns + " FROM matches"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY match_date, created_at, id"
	rows, err := ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()
	var out []*domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ms *MatchStore) one(ctx context.Context, ex db.Executor, where string, args ...any) (*domain.Match, bool, error) {
	row := ex.QueryRowContext(ctx, "SELECT "+matchColumns+" FROM matches WHERE "+where, args...)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load match: %w", err)
	}
	return m, true, nil
}

// Get loads a match by id.
func (ms *MatchStore) Get(ctx context.Context, ex db.Executor, id string) (*domain.Match, error) {
	m, ok, err := ms.one(ctx, ex, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.NotFoundError{Resource: "match", ID: id}
	}
	return m, nil
}

// BySourceKey loads the match a source reported under key.
func (ms *MatchStore) BySourceKey(ctx context.Context, ex db.Executor, sourceID, key string) (*domain.Match, bool, error) {
	return ms.one(ctx, ex, "source_id = ? AND source_match_key = ?", sourceID, key)
}

// LiveByTuple loads the live match occupying (date, home, away).
func (ms *MatchStore) LiveByTuple(ctx context.Context, ex db.Executor, date, home, away string) (*domain.Match, bool, error) {
	return ms.one(ctx, ex, "deleted_at IS NULL AND match_date = ? AND home_team_id = ? AND away_team_id = ?", date, home, away)
}

// Insert stores a new match. A match inserted with DeletedAt set is
// stored already soft-deleted.
func (ms *MatchStore) Insert(ctx context.Context, ex db.Executor, m *domain.Match) error {
	m.CreatedAt = ms.store.Now()
	var deletedAt any
	if m.DeletedAt != nil {
		deletedAt = db.FormatTime(*m.DeletedAt)
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO matches (id, source_id, source_match_key, match_date, home_team_id, away_team_id,
			home_score, away_score, legacy, deleted_at, deleted_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SourceID, m.SourceMatchKey, m.Date, m.HomeTeamID, m.AwayTeamID,
		nullInt(m.HomeScore), nullInt(m.AwayScore), boolInt(m.Legacy), deletedAt, nullString(m.DeletedReason),
		db.FormatTime(m.CreatedAt))
	if err != nil {
		return writeErr(ex, err, "failed to insert match %s/%s", m.SourceID, m.SourceMatchKey)
	}
	return nil
}

// UpdateScores sets the score of a match, keeping known scores when the
// new report has none.
func (ms *MatchStore) UpdateScores(ctx context.Context, ex db.Executor, id string, home, away *int) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE matches SET home_score = COALESCE(?, home_score), away_score = COALESCE(?, away_score)
		WHERE id = ?
	`, nullInt(home), nullInt(away), id)
	if err != nil {
		return fmt.Errorf("failed to update scores on %s: %w", id, err)
	}
	return nil
}

// LiveReferencing lists live matches with either side in ids.
func (ms *MatchStore) LiveReferencing(ctx context.Context, ex db.Executor, ids []string) ([]*domain.Match, error) {
	home, hargs := inClause("home_team_id", ids)
	away, aargs := inClause("away_team_id", ids)
	return ms.list(ctx, ex, "deleted_at IS NULL AND ("+home+" OR "+away+")", append(hargs, aargs...)...)
}

// Referencing lists all matches, live or not, with either side in ids.
func (ms *MatchStore) Referencing(ctx context.Context, ex db.Executor, ids []string) ([]*domain.Match, error) {
	home, hargs := inClause("home_team_id", ids)
	away, aargs := inClause("away_team_id", ids)
	return ms.list(ctx, ex, home+" OR "+away, append(hargs, aargs...)...)
}

// CountReferencing counts live matches with either side in ids.
func (ms *MatchStore) CountReferencing(ctx context.Context, ex db.Executor, ids []string) (int, error) {
	home, hargs := inClause("home_team_id", ids)
	away, aargs := inClause("away_team_id", ids)
	var n int
	err := ex.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches WHERE deleted_at IS NULL AND ("+home+" OR "+away+")",
		append(hargs, aargs...)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return n, nil
}

// Repoint moves every reference (live or soft-deleted) from ids to to.
// Soft-deleted matches are repointed too so no row keeps a dangling reference.
func (ms *MatchStore) Repoint(ctx context.Context, ex db.Executor, from []string, to string) (int64, error) {
	var total int64
	for _, col := range []string{"home_team_id", "away_team_id"} {
		clause, args := inClause(col, from)
		res, err := ex.ExecContext(ctx, "UPDATE matches SET "+col+" = ? WHERE "+clause, append([]any{to}, args...)...)
		if err != nil {
			return total, fmt.Errorf("failed to repoint %s to %s: %w", col, to, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// LiveDegenerate lists live matches whose two sides are the same team.
// A nil scope checks the whole table.
func (ms *MatchStore) LiveDegenerate(ctx context.Context, ex db.Executor, scope []string) ([]*domain.Match, error) {
	where := "deleted_at IS NULL AND home_team_id = away_team_id"
	var args []any
	if scope != nil {
		clause, cargs := inClause("home_team_id", scope)
		where += " AND " + clause
		args = cargs
	}
	return ms.list(ctx, ex, where, args...)
}

// LiveDuplicateGroups returns groups of live matches sharing
// (date, home, away). A nil scope checks the whole table.
func (ms *MatchStore) LiveDuplicateGroups(ctx context.Context, ex db.Executor, scope []string) ([][]*domain.Match, error) {
	where := `deleted_at IS NULL AND EXISTS (SELECT 1 FROM matches o WHERE o.deleted_at IS NULL AND o.id <> matches.id
		AND o.match_date = matches.match_date AND o.home_team_id = matches.home_team_id
		AND o.away_team_id = matches.away_team_id)`
	var args []any
	if scope != nil {
		home, hargs := inClause("home_team_id", scope)
		away, aargs := inClause("away_team_id", scope)
		where += " AND (" + home + " OR " + away + ")"
		args = append(hargs, aargs...)
	}
	matches, err := ms.list(ctx, ex, where, args...)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]*domain.Match)
	var keys []string
	for _, m := range matches {
		key := m.Date + "|" + m.HomeTeamID + "|" + m.AwayTeamID
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], m)
	}
	sort.Strings(keys)
	out := make([][]*domain.Match, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out, nil
}

// SoftDelete marks a live match deleted with a reason.
func (ms *MatchStore) SoftDelete(ctx context.Context, ex db.Executor, id, reason string) (time.Time, error) {
	at := ms.store.Now()
	res, err := ex.ExecContext(ctx, `
		UPDATE matches SET deleted_at = ?, deleted_reason = ? WHERE id = ? AND deleted_at IS NULL
	`, db.FormatTime(at), reason, id)
	if err != nil {
		return at, fmt.Errorf("failed to soft-delete match %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return at, fmt.Errorf("match %s is not live", id)
	}
	return at, nil
}

// Live returns every live match.
func (ms *MatchStore) Live(ctx context.Context, ex db.Executor) ([]*domain.Match, error) {
	return ms.list(ctx, ex, "deleted_at IS NULL")
}

// Orphaned lists matches referencing a team id that no longer exists.
func (ms *MatchStore) Orphaned(ctx context.Context, ex db.Executor) ([]*domain.Match, error) {
	return ms.list(ctx, ex, "home_team_id NOT IN (SELECT id FROM teams) OR away_team_id NOT IN (SELECT id FROM teams)")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
