package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/testutil"
)

type runResult struct {
	code   int
	stdout string
	stderr string
}

// isolate points config discovery at an empty home directory.
func isolate(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"TEAMQ_CONFIG", "TEAMQ_DRIVER", "TEAMQ_DSN", "TEAMQ_DB_PATH", "TEAMQ_OUTPUT", "TEAMQ_ACTOR", "TEAMQ_WEBHOOK_URLS"} {
		t.Setenv(k, "")
	}
	t.Setenv("TEAMQ_LOG_LEVEL", "error")
	t.Chdir(home)
	return home
}

func run(t *testing.T, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// seedDuplicates creates a fully specified team and a less complete copy
// of it, both with match activity.
func seedDuplicates(t *testing.T, database *db.DB) (keep, merge string) {
	t.Helper()
	keep = testutil.SeedTeam(t, database, testutil.Team{
		Name: "Eagles FC", BirthYear: testutil.IntPtr(2014), Gender: testutil.StrPtr("Boys"),
		Region: testutil.StrPtr("Kansas"), Matches: 5,
	})
	merge = testutil.SeedTeam(t, database, testutil.Team{
		Name: "Eagles FC", BirthYear: testutil.IntPtr(2014), Matches: 3, CreatedOffset: 1,
	})
	testutil.SeedMatches(t, database, merge, 2, "m")
	testutil.SeedMapping(t, database, "gotsport", "101", merge)
	return keep, merge
}

func TestMigrate(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "teamq.db")

	res := run(t, "--db", path, "ingest", "missing.yaml")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stderr, "requires migration")

	res = run(t, "--db", path, "migrate")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Applied ")

	res = run(t, "--db", path, "migrate")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "is up to date")

	res = run(t, "--db", path, "migrate", "--status")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "applied")
	assert.NotContains(t, res.stdout, "pending")
}

func TestIngestAndTeamShow(t *testing.T) {
	home := isolate(t)
	database := testutil.TempDB(t)
	doc := testutil.WriteFile(t, home, "week1.yaml", `
source: gotsport
season: 2025-26
teams:
  - source_entity_id: "101"
    display_name: Eagles FC
    age_group: U12
    gender: Boys
matches:
  - source_match_key: g-1
    date: "2025-09-14"
    home: {source_entity_id: "101", display_name: Eagles FC, age_group: U12}
    away: {source_entity_id: "202", display_name: Rush SC, age_group: U12}
    home_score: 2
    away_score: 1
`)

	res := run(t, "--db", database.Path(), "ingest", doc)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "All 2 observations applied")
	assert.Contains(t, res.stdout, "created")

	res = run(t, "--db", database.Path(), "ingest", "--json", doc)
	require.Equal(t, 0, res.code, res.stderr)
	var sum struct {
		Teams   map[string]int `json:"teams"`
		Matches map[string]int `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &sum))
	assert.Equal(t, 1, sum.Teams["mapped"])
	assert.Equal(t, 1, sum.Matches["updated"])

	res = run(t, "--db", database.Path(), "-o", "json", "team", "show", "src:gotsport:101")
	require.Equal(t, 0, res.code, res.stderr)
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &detail))
	assert.Equal(t, "Eagles FC", detail["display_name"])
	assert.EqualValues(t, 2014, detail["birth_year"])
	assert.Equal(t, "provisional", detail["state"])

	res = run(t, "--db", database.Path(), "team", "show", "src:gotsport:999")
	assert.Equal(t, ExitNotFound, res.code)
}

func TestIngest_BadDocument(t *testing.T) {
	home := isolate(t)
	database := testutil.TempDB(t)
	doc := testutil.WriteFile(t, home, "bad.yaml", "source: x\nseason: someday\nteams:\n  - source_entity_id: a\n    display_name: A\n    age_group: U9\n")

	res := run(t, "--db", database.Path(), "ingest", doc)
	assert.Equal(t, ExitUsage, res.code)
	assert.Equal(t, 0, testutil.Count(t, database, "SELECT COUNT(*) FROM teams"))
}

func TestDetectAndMerge(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)
	keep, merge := seedDuplicates(t, database)
	dbFlag := []string{"--db", database.Path()}

	res := run(t, append(dbFlag, "detect", "--json")...)
	require.Equal(t, 0, res.code, res.stderr)
	var detected struct {
		Pairs []domain.Pair `json:"pairs"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &detected))
	require.Len(t, detected.Pairs, 1)
	assert.Equal(t, keep, detected.Pairs[0].KeepID)
	assert.Equal(t, merge, detected.Pairs[0].MergeID)

	res = run(t, append(dbFlag, "merge")...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Would merge 1 teams in 1 groups, migrate 2 matches")
	assert.True(t, testutil.TeamExists(t, database, merge))

	res = run(t, append(dbFlag, "merge", "--diff")...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "--- team "+keep[:8])

	var hooks atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks.Add(1)
	}))
	defer hook.Close()
	t.Setenv("TEAMQ_WEBHOOK_URLS", hook.URL+"/{event}")

	report := filepath.Join(t.TempDir(), "report.json")
	res = run(t, append(dbFlag, "--actor", "ops", "merge", "--mode", "execute", "--report", report)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "complete: 1/1 chunks committed")
	assert.False(t, testutil.TeamExists(t, database, merge))
	assert.FileExists(t, report)
	assert.EqualValues(t, 1, hooks.Load())

	res = run(t, append(dbFlag, "team", "show", merge)...)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "was merged into "+keep)

	res = run(t, append(dbFlag, "-o", "json", "audit", "--action", "merge")...)
	require.Equal(t, 0, res.code, res.stderr)
	var records []domain.AuditRecord
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, merge, records[0].RecordID)
	assert.Equal(t, "ops", records[0].Actor)

	res = run(t, append(dbFlag, "doctor")...)
	assert.Equal(t, 0, res.code, res.stdout)
}

func TestMerge_ManualPairRejected(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)
	a := testutil.SeedTeam(t, database, testutil.Team{Name: "Rush", Gender: testutil.StrPtr("Boys")})
	b := testutil.SeedTeam(t, database, testutil.Team{Name: "Rush", Gender: testutil.StrPtr("Girls")})

	res := run(t, "--db", database.Path(), "merge", "--pair", a+":"+b)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "rejected:")

	res = run(t, "--db", database.Path(), "merge", "--pair", "nocolon")
	assert.Equal(t, ExitUsage, res.code)

	res = run(t, "--db", database.Path(), "merge", "--mode", "yolo")
	assert.Equal(t, ExitUsage, res.code)
}

func TestDedupMatches(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)
	// Rows written before the live-tuple index existed.
	_, err := database.ExecContext(t.Context(), "DROP INDEX ux_matches_live_tuple")
	require.NoError(t, err)
	home := testutil.SeedTeam(t, database, testutil.Team{Name: "Eagles"})
	away := testutil.SeedTeam(t, database, testutil.Team{Name: "Rush"})
	testutil.SeedMatch(t, database, testutil.Match{Key: "a", Date: "2025-09-14", Home: home, Away: away})
	testutil.SeedMatch(t, database, testutil.Match{Key: "b", Date: "2025-09-14", Home: home, Away: away,
		HomeScore: testutil.IntPtr(1), AwayScore: testutil.IntPtr(0), CreatedOffset: 1})
	testutil.SeedMatch(t, database, testutil.Match{Key: "c", Date: "2025-09-15", Home: home, Away: home})

	res := run(t, "--db", database.Path(), "dedup-matches")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Would soft-delete 2 matches")
	assert.Equal(t, 3, testutil.Count(t, database, "SELECT COUNT(*) FROM matches WHERE deleted_at IS NULL"))

	res = run(t, "--db", database.Path(), "dedup-matches", "--mode", "execute")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Soft-deleted 2 matches")
	assert.Equal(t, 1, testutil.Count(t, database, "SELECT COUNT(*) FROM matches WHERE deleted_at IS NULL"))
}

func TestDoctor_FailsOnViolation(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)
	team := testutil.SeedTeam(t, database, testutil.Team{Name: "Eagles"})
	testutil.SeedMatch(t, database, testutil.Match{Key: "x", Date: "2025-09-14", Home: team, Away: team})

	res := run(t, "--db", database.Path(), "doctor", "--json")
	assert.Equal(t, ExitFailure, res.code)
	var report struct {
		OverallStatus string `json:"overall_status"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, "error", report.OverallStatus)
}

func TestLeaseCommands(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)

	res := run(t, "--db", database.Path(), "lease", "status")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Write lease is free")

	_, err := database.ExecContext(t.Context(), `
		INSERT INTO write_leases (name, holder, token, acquired_at, expires_at)
		VALUES ('registry', 'crashed@host:1', 't', '2025-01-01T00:00:00.000000Z', '2025-01-01T00:10:00.000000Z')`)
	require.NoError(t, err)

	res = run(t, "--db", database.Path(), "lease", "status")
	assert.Contains(t, res.stdout, "stale:")

	res = run(t, "--db", database.Path(), "lease", "release")
	assert.Equal(t, ExitUsage, res.code)

	res = run(t, "--db", database.Path(), "lease", "release", "--force")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Write lease released")
}

func TestExportAndVerify(t *testing.T) {
	isolate(t)
	database := testutil.TempDB(t)
	seedDuplicates(t, database)
	out := filepath.Join(t.TempDir(), "snap", "registry.json")

	res := run(t, "--db", database.Path(), "export", "--out", out)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "Wrote "+out)

	res = run(t, "export", "--verify", out)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "verified sha256:")
}

func TestVersion(t *testing.T) {
	isolate(t)
	res := run(t, "version", "--json")
	require.Equal(t, 0, res.code)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &v))
	assert.Equal(t, Version, v["version"])
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, 7, ExitCode(exitError(7, errors.New("x"))))
	assert.Equal(t, ExitLocked, ExitCode(fmt.Errorf("wrap: %w", &domain.AuthorizationDeniedError{Gate: "registry"})))
	assert.Equal(t, ExitNotFound, ExitCode(&domain.NotFoundError{Resource: "team", ID: "x"}))
	assert.Equal(t, ExitUsage, ExitCode(&domain.ValidationError{Field: "date"}))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
}
