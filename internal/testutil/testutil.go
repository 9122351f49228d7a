// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/names"
)

// Epoch is the base creation time for seeded rows.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// TempDB creates a migrated SQLite database in a temp directory.
func TempDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "open test database")
	require.NoError(t, database.Migrate(), "migrate test database")
	t.Cleanup(func() { database.Close() })
	return database
}

// WriteFile writes content to a file in dir and returns its path.
func WriteFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Team describes a team row to seed.
type Team struct {
	ID        string
	Name      string
	BirthYear *int
	Gender    *string
	Region    *string
	Matches   int
	Aliases   []string
	// CreatedOffset orders rows; added to Epoch.
	CreatedOffset time.Duration
}

// SeedTeam inserts a team row directly and returns its id.
func SeedTeam(t *testing.T, database *db.DB, team Team) string {
	t.Helper()
	if team.ID == "" {
		team.ID = id.New()
	}
	stamp := db.FormatTime(Epoch.Add(team.CreatedOffset))
	_, err := database.ExecContext(context.Background(), `
		INSERT INTO teams (id, canonical_name, display_name, birth_year, gender, region,
			matches_played, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, team.ID, names.Normalize(team.Name), team.Name, ptrVal(team.BirthYear), ptrVal(team.Gender), ptrVal(team.Region),
		team.Matches, stamp, stamp)
	require.NoError(t, err, "seed team %s", team.Name)
	for _, a := range team.Aliases {
		_, err := database.ExecContext(context.Background(),
			`INSERT INTO team_aliases (team_id, alias, created_at) VALUES (?, ?, ?)`, team.ID, a, stamp)
		require.NoError(t, err)
	}
	return team.ID
}

// Match describes a match row to seed.
type Match struct {
	ID            string
	Source        string
	Key           string
	Date          string
	Home, Away    string
	HomeScore     *int
	AwayScore     *int
	Legacy        bool
	CreatedOffset time.Duration
}

// SeedMatch inserts a live match row directly and returns its id.
func SeedMatch(t *testing.T, database *db.DB, m Match) string {
	t.Helper()
	if m.ID == "" {
		m.ID = id.New()
	}
	if m.Source == "" {
		m.Source = "test"
	}
	if m.Key == "" {
		m.Key = m.ID
	}
	legacy := 0
	if m.Legacy {
		legacy = 1
	}
	_, err := database.ExecContext(context.Background(), `
		INSERT INTO matches (id, source_id, source_match_key, match_date, home_team_id, away_team_id,
			home_score, away_score, legacy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Source, m.Key, m.Date, m.Home, m.Away, ptrVal(m.HomeScore), ptrVal(m.AwayScore), legacy,
		db.FormatTime(Epoch.Add(m.CreatedOffset)))
	require.NoError(t, err, "seed match %s", m.Key)
	return m.ID
}

// SeedMatches inserts n live matches for home against freshly seeded
// opponents, on consecutive days from start.
func SeedMatches(t *testing.T, database *db.DB, home string, n int, prefix string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		opp := SeedTeam(t, database, Team{Name: fmt.Sprintf("%s opponent %d", prefix, i)})
		ids = append(ids, SeedMatch(t, database, Match{
			Key:  fmt.Sprintf("%s-%d", prefix, i),
			Date: Epoch.AddDate(0, 0, i).Format("2006-01-02"),
			Home: home,
			Away: opp,
		}))
	}
	return ids
}

// SeedMapping inserts a source entity map row.
func SeedMapping(t *testing.T, database *db.DB, source, entity, teamID string) {
	t.Helper()
	stamp := db.FormatTime(Epoch)
	_, err := database.ExecContext(context.Background(), `
		INSERT INTO source_entity_map (source_id, source_entity_id, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, source, entity, teamID, stamp, stamp)
	require.NoError(t, err)
}

// Count runs a COUNT(*) style query.
func Count(t *testing.T, database *db.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRowContext(context.Background(), query, args...).Scan(&n), query)
	return n
}

// TeamExists reports whether a team row is present.
func TeamExists(t *testing.T, database *db.DB, teamID string) bool {
	t.Helper()
	return Count(t, database, "SELECT COUNT(*) FROM teams WHERE id = ?", teamID) > 0
}

func IntPtr(v int) *int       { return &v }
func StrPtr(s string) *string { return &s }

func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
