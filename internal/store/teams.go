package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// TeamStore handles canonical team persistence.
type TeamStore struct {
	store *Store
}

const teamColumns = `t.id, t.canonical_name, t.display_name, t.birth_year, t.gender, t.region,
	t.matches_played, t.wins, t.losses, t.draws, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM matches m WHERE m.deleted_at IS NULL
		AND (m.home_team_id = t.id OR m.away_team_id = t.id)) AS live_matches`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*domain.Team, error) {
	var t domain.Team
	var birth sql.NullInt64
	var gender, region sql.NullString
	var created, updated string
	if err := row.Scan(&t.ID, &t.CanonicalName, &t.DisplayName, &birth, &gender, &region,
		&t.MatchesPlayed, &t.Wins, &t.Losses, &t.Draws, &created, &updated, &t.LiveMatches); err != nil {
		return nil, err
	}
	if birth.Valid {
		v := int(birth.Int64)
		t.BirthYear = &v
	}
	if gender.Valid {
		t.Gender = &gender.String
	}
	if region.Valid {
		t.Region = &region.String
	}
	t.CreatedAt = parseStamp(created)
	t.UpdatedAt = parseStamp(updated)
	return &t, nil
}

func (ts *TeamStore) query(ctx context.Context, ex db.Executor, where string, args ...any) ([]*domain.Team, error) {
	q := "SELECT " + teamColumns + " FROM teams t"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY t.created_at, t.id"
	rows, err := ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams: %w", err)
	}
	defer rows.Close()

	var out []*domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get loads one team with its aliases.
func (ts *TeamStore) Get(ctx context.Context, ex db.Executor, id string) (*domain.Team, error) {
	row := ex.QueryRowContext(ctx, "SELECT "+teamColumns+" FROM teams t WHERE t.id = ?", id)
	t, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "team", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load team %s: %w", id, err)
	}
	if t.Aliases, err = ts.Aliases(ctx, ex, id); err != nil {
		return nil, err
	}
	return t, nil
}

// Exists reports whether a team row is present.
func (ts *TeamStore) Exists(ctx context.Context, ex db.Executor, id string) (bool, error) {
	var n int
	if err := ex.QueryRowContext(ctx, "SELECT COUNT(*) FROM teams WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check team %s: %w", id, err)
	}
	return n > 0, nil
}

// GetMany loads the listed teams (with aliases) keyed by id. Missing ids
// are simply absent from the result.
func (ts *TeamStore) GetMany(ctx context.Context, ex db.Executor, ids []string) (map[string]*domain.Team, error) {
	clause, args := inClause("t.id", dedupe(ids))
	teams, err := ts.query(ctx, ex, clause, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Team, len(teams))
	for _, t := range teams {
		out[t.ID] = t
	}

	aclause, aargs := inClause("team_id", dedupe(ids))
	rows, err := ex.QueryContext(ctx, "SELECT team_id, alias FROM team_aliases WHERE "+aclause+" ORDER BY alias", aargs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var teamID, alias string
		if err := rows.Scan(&teamID, &alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		if t, ok := out[teamID]; ok {
			t.Aliases = append(t.Aliases, alias)
		}
	}
	return out, rows.Err()
}

// ByCanonicalName returns every team sharing a normalized name.
func (ts *TeamStore) ByCanonicalName(ctx context.Context, ex db.Executor, name string) ([]*domain.Team, error) {
	return ts.query(ctx, ex, "t.canonical_name = ?", name)
}

// All returns every live team in creation order.
func (ts *TeamStore) All(ctx context.Context, ex db.Executor) ([]*domain.Team, error) {
	return ts.query(ctx, ex, "")
}

// Page returns up to limit teams ordered by (created_at, id) after the given key.
func (ts *TeamStore) Page(ctx context.Context, ex db.Executor, afterCreated, afterID string, limit int) ([]*domain.Team, error) {
	where := ""
	var args []any
	if afterID != "" {
		where = "(t.created_at > ? OR (t.created_at = ? AND t.id > ?))"
		args = append(args, afterCreated, afterCreated, afterID)
	}
	q := "SELECT " + teamColumns + " FROM teams t"
	if where != "" {
		q += " WHERE " + where
	}
	q += fmt.Sprintf(" ORDER BY t.created_at, t.id LIMIT %d", limit)

	rows, err := ex.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to page teams: %w", err)
	}
	defer rows.Close()
	var out []*domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// canonicalize rewrites gender and region to their stored spelling so the
// identity index and Conflict agree on case. Placeholders are left alone.
func canonicalize(t *domain.Team) {
	if t.Gender != nil && !domain.IsPlaceholder(*t.Gender) {
		t.Gender = domain.CanonicalPtr(t.Gender)
	}
	if t.Region != nil && !domain.IsPlaceholder(*t.Region) {
		t.Region = domain.CanonicalPtr(t.Region)
	}
}

// Insert creates a team row and its initial aliases.
func (ts *TeamStore) Insert(ctx context.Context, ex db.Executor, t *domain.Team) error {
	now := ts.store.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	canonicalize(t)
	stamp := db.FormatTime(now)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO teams (id, canonical_name, display_name, birth_year, gender, region,
			matches_played, wins, losses, draws, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.CanonicalName, t.DisplayName, nullInt(t.BirthYear), nullString(t.Gender), nullString(t.Region),
		t.MatchesPlayed, t.Wins, t.Losses, t.Draws, stamp, stamp)
	if err != nil {
		return writeErr(ex, err, "failed to insert team %s", t.ID)
	}
	return ts.AddAliases(ctx, ex, t.ID, t.Aliases...)
}

// UpdateIdentity writes display name and identity fields.
func (ts *TeamStore) UpdateIdentity(ctx context.Context, ex db.Executor, t *domain.Team) error {
	canonicalize(t)
	_, err := ex.ExecContext(ctx, `
		UPDATE teams SET display_name = ?, birth_year = ?, gender = ?, region = ?, updated_at = ?
		WHERE id = ?
	`, t.DisplayName, nullInt(t.BirthYear), nullString(t.Gender), nullString(t.Region), ts.store.stamp(), t.ID)
	if err != nil {
		return writeErr(ex, err, "failed to update team %s", t.ID)
	}
	return nil
}

// RaiseStats applies reported running stats, never lowering a cached count.
func (ts *TeamStore) RaiseStats(ctx context.Context, ex db.Executor, id string, played, wins, losses, draws int) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE teams SET
			matches_played = CASE WHEN matches_played < ? THEN ? ELSE matches_played END,
			wins = CASE WHEN wins < ? THEN ? ELSE wins END,
			losses = CASE WHEN losses < ? THEN ? ELSE losses END,
			draws = CASE WHEN draws < ? THEN ? ELSE draws END
		WHERE id = ?
	`, played, played, wins, wins, losses, losses, draws, draws, id)
	if err != nil {
		return fmt.Errorf("failed to update stats for team %s: %w", id, err)
	}
	return nil
}

// Aliases returns a team's alias set, sorted.
func (ts *TeamStore) Aliases(ctx context.Context, ex db.Executor, id string) ([]string, error) {
	rows, err := ex.QueryContext(ctx, "SELECT alias FROM team_aliases WHERE team_id = ? ORDER BY alias", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases for %s: %w", id, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAliases adds names to a team's alias set; existing names are ignored.
func (ts *TeamStore) AddAliases(ctx context.Context, ex db.Executor, id string, aliases ...string) error {
	stamp := ts.store.stamp()
	for _, a := range dedupe(aliases) {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO team_aliases (team_id, alias, created_at) VALUES (?, ?, ?)
			ON CONFLICT (team_id, alias) DO NOTHING
		`, id, a, stamp)
		if err != nil {
			return fmt.Errorf("failed to add alias %q to %s: %w", a, id, err)
		}
	}
	return nil
}

// MoveAliases copies the alias sets of from onto to.
func (ts *TeamStore) MoveAliases(ctx context.Context, ex db.Executor, from []string, to string) error {
	clause, args := inClause("team_id", from)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO team_aliases (team_id, alias, created_at)
		SELECT CAST(? AS TEXT), alias, MIN(created_at) FROM team_aliases WHERE `+clause+`
		GROUP BY alias
		ON CONFLICT (team_id, alias) DO NOTHING
	`, append([]any{to}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to move aliases to %s: %w", to, err)
	}
	return nil
}

// Delete removes team rows. Their aliases cascade.
func (ts *TeamStore) Delete(ctx context.Context, ex db.Executor, ids []string) (int64, error) {
	clause, args := inClause("id", ids)
	res, err := ex.ExecContext(ctx, "DELETE FROM teams WHERE "+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete teams: %w", err)
	}
	return res.RowsAffected()
}

// RecomputeAggregates rebuilds match counts from live matches.
func (ts *TeamStore) RecomputeAggregates(ctx context.Context, ex db.Executor, ids []string) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}
	clause, args := inClause("id", ids)
	const live = `m.deleted_at IS NULL`
	const scored = `m.home_score IS NOT NULL AND m.away_score IS NOT NULL`
	q := `
		UPDATE teams SET
			matches_played = (SELECT COUNT(*) FROM matches m WHERE ` + live + `
				AND (m.home_team_id = teams.id OR m.away_team_id = teams.id)),
			wins = (SELECT COUNT(*) FROM matches m WHERE ` + live + ` AND ` + scored + `
				AND ((m.home_team_id = teams.id AND m.home_score > m.away_score)
				  OR (m.away_team_id = teams.id AND m.away_score > m.home_score))),
			losses = (SELECT COUNT(*) FROM matches m WHERE ` + live + ` AND ` + scored + `
				AND ((m.home_team_id = teams.id AND m.home_score < m.away_score)
				  OR (m.away_team_id = teams.id AND m.away_score < m.home_score))),
			draws = (SELECT COUNT(*) FROM matches m WHERE ` + live + ` AND ` + scored + `
				AND m.home_score = m.away_score
				AND (m.home_team_id = teams.id OR m.away_team_id = teams.id)),
			updated_at = ?
		WHERE ` + clause
	if _, err := ex.ExecContext(ctx, q, append([]any{ts.store.stamp()}, args...)...); err != nil {
		return fmt.Errorf("failed to recompute aggregates: %w", err)
	}
	return nil
}

// IdentityKey renders a fully-specified identity tuple exactly as the
// unique index compares it.
func IdentityKey(t *domain.Team) (string, bool) {
	if t.BirthYear == nil || t.Gender == nil || t.Region == nil {
		return "", false
	}
	return fmt.Sprintf("%s|%d|%s|%s", t.CanonicalName, *t.BirthYear, *t.Gender, *t.Region), true
}

// IdentityCollisions returns groups of live teams sharing a fully-specified
// identity tuple, as the ux_teams_identity index would reject them. When
// scope is non-empty only groups containing a scoped team are returned.
// Groups are sorted for deterministic processing.
func (ts *TeamStore) IdentityCollisions(ctx context.Context, ex db.Executor, scope []string) ([][]*domain.Team, error) {
	teams, err := ts.query(ctx, ex, `t.birth_year IS NOT NULL AND t.gender IS NOT NULL AND t.region IS NOT NULL
		AND EXISTS (SELECT 1 FROM teams o WHERE o.id <> t.id
			AND o.canonical_name = t.canonical_name AND o.birth_year = t.birth_year
			AND o.gender = t.gender AND o.region = t.region)`)
	if err != nil {
		return nil, err
	}

	inScope := make(map[string]bool, len(scope))
	for _, id := range scope {
		inScope[id] = true
	}

	byKey := make(map[string][]*domain.Team)
	var keys []string
	for _, t := range teams {
		key, _ := IdentityKey(t)
		if _, ok := byKey[key]; !ok {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], t)
	}
	sort.Strings(keys)

	var out [][]*domain.Team
	for _, key := range keys {
		group := byKey[key]
		if len(scope) > 0 {
			hit := false
			for _, t := range group {
				if inScope[t.ID] {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, group)
	}
	return out, nil
}

// FindByIdentity returns the team holding an exact fully-specified tuple.
func (ts *TeamStore) FindByIdentity(ctx context.Context, ex db.Executor, name string, birth int, gender, region string) (*domain.Team, error) {
	teams, err := ts.query(ctx, ex, "t.canonical_name = ? AND t.birth_year = ? AND t.gender = ? AND t.region = ?",
		name, birth, gender, region)
	if err != nil || len(teams) == 0 {
		return nil, err
	}
	return teams[0], nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}
