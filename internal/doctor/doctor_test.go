package doctor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
	"github.com/MGMAppDev/soccerview-sub003/internal/testutil"
)

var now = testutil.Epoch.Add(24 * time.Hour)

func statuses(r *Report) map[string]string {
	out := make(map[string]string, len(r.Checks))
	for _, c := range r.Checks {
		out[c.Name] = c.Status
	}
	return out
}

func TestRun_Healthy(t *testing.T) {
	database := testutil.TempDB(t)
	a := testutil.SeedTeam(t, database, testutil.Team{Name: "Eagles FC", BirthYear: testutil.IntPtr(2014)})
	b := testutil.SeedTeam(t, database, testutil.Team{Name: "Rush", BirthYear: testutil.IntPtr(2014)})
	testutil.SeedMapping(t, database, "gotsport", "1", a)
	testutil.SeedMatch(t, database, testutil.Match{Date: "2025-09-14", Home: a, Away: b})

	report, err := Run(context.Background(), store.New(database), now)
	require.NoError(t, err)
	for _, c := range report.Checks {
		assert.Equal(t, StatusOK, c.Status, "%s: %s %v", c.Name, c.Message, c.Details)
	}
	assert.Equal(t, StatusOK, report.OverallStatus)
	assert.Zero(t, report.Errors)
}

func TestRun_ReportsViolations(t *testing.T) {
	ctx := context.Background()
	database := testutil.TempDB(t)

	_, err := database.ExecContext(ctx, "DROP INDEX ux_matches_live_tuple")
	require.NoError(t, err)

	full := testutil.SeedTeam(t, database, testutil.Team{Name: "Eagles FC", BirthYear: testutil.IntPtr(2014),
		Gender: testutil.StrPtr("Boys"), Region: testutil.StrPtr("KS")})
	partial := testutil.SeedTeam(t, database, testutil.Team{Name: "Eagles FC", CreatedOffset: time.Second})
	opp := testutil.SeedTeam(t, database, testutil.Team{Name: "Rush"})

	testutil.SeedMatch(t, database, testutil.Match{Key: "a", Date: "2025-09-14", Home: full, Away: opp})
	testutil.SeedMatch(t, database, testutil.Match{Key: "b", Date: "2025-09-14", Home: full, Away: opp})
	testutil.SeedMatch(t, database, testutil.Match{Key: "c", Date: "2025-09-21", Home: partial, Away: partial})

	w := audit.NewWriter("test")
	require.NoError(t, w.LogMerge(ctx, database, id.New(), audit.TeamSnapshot{Team: &domain.Team{ID: opp}},
		domain.MergeSummary{MergedInto: full}))

	_, err = database.ExecContext(ctx, `
		INSERT INTO write_leases (name, holder, token, acquired_at, expires_at) VALUES ('registry', 'crashed', 'x', ?, ?)
	`, db.FormatTime(testutil.Epoch), db.FormatTime(testutil.Epoch.Add(time.Minute)))
	require.NoError(t, err)

	report, err := Run(ctx, store.New(database), now)
	require.NoError(t, err)

	got := statuses(report)
	assert.Equal(t, StatusError, got["unique_constraints"])
	assert.Equal(t, StatusError, got["duplicate_matches"])
	assert.Equal(t, StatusError, got["degenerate_matches"])
	assert.Equal(t, StatusWarning, got["residual_duplicates"])
	assert.Equal(t, StatusError, got["merged_ids"])
	assert.Equal(t, StatusWarning, got["write_lease"])
	assert.Equal(t, StatusOK, got["referential_integrity"])
	assert.Equal(t, StatusOK, got["audit_uniqueness"])
	assert.Equal(t, StatusError, report.OverallStatus)
	assert.Equal(t, 4, report.Errors)
	assert.Equal(t, 2, report.Warnings)
}

func TestResult_TruncatesDetails(t *testing.T) {
	problems := make([]string, 15)
	for i := range problems {
		problems[i] = "p"
	}
	r := result("x", problems, StatusError, "")
	assert.Equal(t, "15 found", r.Message)
	require.Len(t, r.Details, maxDetails+1)
	assert.Equal(t, "... and 5 more", r.Details[maxDetails])
	assert.Len(t, problems, 15)
}
