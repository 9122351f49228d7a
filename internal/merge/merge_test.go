package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/matchdedup"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
	"github.com/MGMAppDev/soccerview-sub003/internal/testutil"
)

var (
	intPtr = testutil.IntPtr
	strPtr = testutil.StrPtr
)

type fixture struct {
	db    *db.DB
	store *store.Store
	gate  *lease.Manager
	lease *lease.Lease
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database := testutil.TempDB(t)
	gate := lease.NewManager(database, time.Minute, nil)
	l, err := gate.Acquire(context.Background(), lease.RegistryGate, "test")
	require.NoError(t, err)
	t.Cleanup(func() { gate.Release(context.Background(), l) })
	return &fixture{db: database, store: store.New(database), gate: gate, lease: l}
}

func (f *fixture) executor(opts Options) *Executor {
	return New(f.store, f.gate, audit.NewWriter("test"), opts)
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	return testutil.Count(t, f.db, query, args...)
}

func (f *fixture) mergeRecords(t *testing.T, teamID string) int {
	return f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'MERGE' AND record_id = ?", teamID)
}

func (f *fixture) assertIndexes(t *testing.T) {
	t.Helper()
	for _, c := range Teams.Constraints() {
		ok, err := db.IndexExists(context.Background(), f.db, c.Name)
		require.NoError(t, err)
		assert.True(t, ok, "index %s restored", c.Name)
	}
}

func (f *fixture) assertNoOrphans(t *testing.T) {
	t.Helper()
	orphans, err := f.store.Matches.Orphaned(context.Background(), f.db)
	require.NoError(t, err)
	assert.Empty(t, orphans)
	dangling, err := f.store.Mappings.Dangling(context.Background(), f.db)
	require.NoError(t, err)
	assert.Empty(t, dangling)
}

// X carries nothing useful; Y is fully specified with 12 matches.
func TestExecute_ScenarioA(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", Region: strPtr("unknown"), Aliases: []string{"Eagles"}})
	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX"), CreatedOffset: time.Hour})
	testutil.SeedMatches(t, f.db, y, 12, "y")
	testutil.SeedMapping(t, f.db, "gotsport", "x-1", x)

	det, err := e.Detect(ctx)
	require.NoError(t, err)
	require.Len(t, det.Pairs, 1)
	assert.Equal(t, y, det.Pairs[0].KeepID)
	assert.Equal(t, x, det.Pairs[0].MergeID)

	rep, err := e.Execute(ctx, f.lease, det.Pairs)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Merged)
	assert.Equal(t, 1, rep.CommittedChunks)
	assert.Zero(t, rep.RolledBack)

	assert.False(t, testutil.TeamExists(t, f.db, x))
	keep, err := f.store.Teams.Get(ctx, f.db, y)
	require.NoError(t, err)
	assert.Equal(t, 12, keep.MatchesPlayed)
	assert.Equal(t, 2013, *keep.BirthYear)
	assert.Equal(t, "TX", *keep.Region)
	assert.Contains(t, keep.Aliases, "Eagles")
	assert.Contains(t, keep.Aliases, "Eagles FC")

	assert.Equal(t, 1, f.mergeRecords(t, x))
	into, err := audit.Follow(ctx, f.db, x)
	require.NoError(t, err)
	assert.Equal(t, y, into)

	m, ok, err := f.store.Mappings.Get(ctx, f.db, "gotsport", "x-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, y, m.TeamID)

	f.assertIndexes(t)
	f.assertNoOrphans(t)
}

func TestExecute_RepointsEveryReference(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Rush", BirthYear: intPtr(2012), Gender: strPtr("Girls"), Region: strPtr("KS")})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Rush", Gender: strPtr("Girls"), CreatedOffset: time.Hour})
	testutil.SeedMatches(t, f.db, y, 2, "y")
	moved := testutil.SeedMatches(t, f.db, x, 3, "x")
	testutil.SeedMapping(t, f.db, "heartland", "r-1", x)
	testutil.SeedMapping(t, f.db, "heartland", "r-2", x)

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: y, MergeID: x, Reason: "manual"}})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.MatchesMigrated)

	for _, id := range moved {
		m, err := f.store.Matches.Get(ctx, f.db, id)
		require.NoError(t, err)
		assert.Equal(t, y, m.HomeTeamID)
		assert.True(t, m.Live())
	}
	keep, err := f.store.Teams.Get(ctx, f.db, y)
	require.NoError(t, err)
	assert.Equal(t, 5, keep.MatchesPlayed)

	assert.Equal(t, 3, f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'REPOINT'"))
	assert.Equal(t, 2, f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'REDIRECT'"))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'MERGE'"))
	f.assertNoOrphans(t)
}

// Merging A into B turns A-vs-B into B-vs-B, which must not stay live.
func TestExecute_ScenarioC_Degenerate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	a := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013)})
	b := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	c := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Rush"})
	derby := testutil.SeedMatch(t, f.db, testutil.Match{Key: "derby", Date: "2025-09-14", Home: a, Away: b})
	testutil.SeedMatch(t, f.db, testutil.Match{Key: "other", Date: "2025-09-21", Home: a, Away: c})

	pairs := []domain.Pair{{KeepID: b, MergeID: a}}
	plan, err := e.Plan(ctx, pairs)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.MatchesToMigrate)
	assert.Equal(t, 1, plan.DegenerateMatches)

	rep, err := e.Execute(ctx, f.lease, pairs)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DegenerateMatches)

	m, err := f.store.Matches.Get(ctx, f.db, derby)
	require.NoError(t, err)
	assert.False(t, m.Live())
	require.NotNil(t, m.DeletedReason)
	assert.Equal(t, matchdedup.ReasonDegenerate, *m.DeletedReason)
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'SOFT_DELETE' AND record_id = ?", derby))

	keep, err := f.store.Teams.Get(ctx, f.db, b)
	require.NoError(t, err)
	assert.Equal(t, 1, keep.MatchesPlayed)
	f.assertNoOrphans(t)
}

func TestExecute_DeduplicatesRepointedMatches(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", Region: strPtr("TX")})
	z := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Rush"})
	legacy := testutil.SeedMatch(t, f.db, testutil.Match{Source: "legacy_bootstrap", Key: "l", Date: "2025-09-14", Home: x, Away: z, Legacy: true})
	live := testutil.SeedMatch(t, f.db, testutil.Match{Source: "gotsport", Key: "g", Date: "2025-09-14", Home: y, Away: z, CreatedOffset: time.Hour})

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: y, MergeID: x}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DuplicateMatches)

	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM matches WHERE id = ? AND deleted_at IS NULL", live))
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM matches WHERE id = ? AND deleted_at IS NOT NULL", legacy))
	assert.Equal(t, 1, f.count(t, "SELECT matches_played FROM teams WHERE id = ?", z))
	f.assertIndexes(t)
}

// Five known pairs: planning reports them and changes nothing.
func TestPlan_ScenarioD(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: -1, SampleSize: 3})

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("Club %d", i)
		keep := testutil.SeedTeam(t, f.db, testutil.Team{Name: name, BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
		merge := testutil.SeedTeam(t, f.db, testutil.Team{Name: name, CreatedOffset: time.Hour})
		testutil.SeedMatches(t, f.db, keep, 2, fmt.Sprintf("k%d", i))
		testutil.SeedMatches(t, f.db, merge, 1, fmt.Sprintf("m%d", i))
	}
	teamsBefore := f.count(t, "SELECT COUNT(*) FROM teams")

	det, err := e.Detect(ctx)
	require.NoError(t, err)
	require.Len(t, det.Pairs, 5)

	plan, err := e.Plan(ctx, det.Pairs)
	require.NoError(t, err)
	assert.Equal(t, 5, plan.TeamsToMerge)
	assert.Equal(t, 5, plan.MatchesToMigrate)
	assert.Zero(t, plan.DegenerateMatches)
	assert.Len(t, plan.Samples, 3)
	assert.Equal(t, 1, plan.Chunks)

	assert.Equal(t, teamsBefore, f.count(t, "SELECT COUNT(*) FROM teams"))
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	again, err := e.Detect(ctx)
	require.NoError(t, err)
	assert.Equal(t, det.Pairs, again.Pairs)
}

func TestExecute_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles"})
	testutil.SeedMatches(t, f.db, x, 2, "x")
	pairs := []domain.Pair{{KeepID: y, MergeID: x}}

	_, err := e.Execute(ctx, f.lease, pairs)
	require.NoError(t, err)
	auditRows := f.count(t, "SELECT COUNT(*) FROM audit_log")

	rep, err := e.Execute(ctx, f.lease, pairs)
	require.NoError(t, err)
	assert.Zero(t, rep.Merged)
	assert.Equal(t, 1, rep.Skipped)
	assert.Empty(t, rep.Rejected)
	assert.Equal(t, auditRows, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	assert.Equal(t, 1, f.mergeRecords(t, x))

	det, err := e.Detect(ctx)
	require.NoError(t, err)
	assert.Empty(t, det.Pairs)
}

func TestExecute_RejectsIdentityConflict(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	boys := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", Gender: strPtr("Boys")})
	girls := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", Gender: strPtr("Girls")})

	plan, err := e.Plan(ctx, []domain.Pair{{KeepID: boys, MergeID: girls}})
	require.NoError(t, err)
	require.Len(t, plan.Rejected, 1)
	assert.Contains(t, plan.Rejected[0].Reason, "identity conflict")
	assert.Zero(t, plan.TeamsToMerge)

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: boys, MergeID: girls}})
	require.NoError(t, err)
	assert.Zero(t, rep.Merged)
	require.Len(t, rep.Rejected, 1)
	assert.True(t, testutil.TeamExists(t, f.db, girls))
	assert.True(t, testutil.TeamExists(t, f.db, boys))
}

// secondaryFixture: merging m into k1 completes k1's identity, which then
// collides with k2.
func secondaryFixture(t *testing.T, f *fixture) (k1, k2, m string) {
	k1 = testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys")})
	k2 = testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX"), CreatedOffset: time.Hour})
	m = testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", Region: strPtr("TX"), CreatedOffset: 2 * time.Hour})
	testutil.SeedMatches(t, f.db, k1, 1, "k1")
	testutil.SeedMatches(t, f.db, k2, 3, "k2")
	return k1, k2, m
}

func TestExecute_ResolvesSecondaryCollision(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())
	k1, k2, m := secondaryFixture(t, f)

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: k1, MergeID: m}})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Merged)
	assert.Equal(t, 1, rep.SecondaryMerges)
	assert.Equal(t, 1, rep.Passes)

	assert.False(t, testutil.TeamExists(t, f.db, k1))
	assert.False(t, testutil.TeamExists(t, f.db, m))
	keep, err := f.store.Teams.Get(ctx, f.db, k2)
	require.NoError(t, err)
	assert.Equal(t, 4, keep.MatchesPlayed)

	var raw string
	require.NoError(t, f.db.QueryRowContext(ctx,
		"SELECT summary FROM audit_log WHERE action = 'MERGE' AND record_id = ?", k1).Scan(&raw))
	var sum domain.MergeSummary
	require.NoError(t, json.Unmarshal([]byte(raw), &sum))
	assert.Equal(t, k2, sum.MergedInto)
	assert.Equal(t, 1, sum.Pass)

	into, err := audit.Follow(ctx, f.db, m)
	require.NoError(t, err)
	assert.Equal(t, k2, into)

	collisions, err := f.store.Teams.IdentityCollisions(ctx, f.db, nil)
	require.NoError(t, err)
	assert.Empty(t, collisions)
	f.assertIndexes(t)
	f.assertNoOrphans(t)
}

func TestExecute_NonConvergentRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: 0})
	k1, _, m := secondaryFixture(t, f)
	teamsBefore := f.count(t, "SELECT COUNT(*) FROM teams")

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: k1, MergeID: m}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNonConvergent))
	var batchErr *domain.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "secondary collisions", batchErr.Rule)
	assert.Equal(t, 1, batchErr.Chunk)

	assert.Equal(t, 1, rep.RolledBack)
	assert.Zero(t, rep.Merged)
	assert.Len(t, rep.Errors, 1)

	assert.Equal(t, teamsBefore, f.count(t, "SELECT COUNT(*) FROM teams"))
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	k1Team, err := f.store.Teams.Get(ctx, f.db, k1)
	require.NoError(t, err)
	assert.Nil(t, k1Team.Region)
	f.assertIndexes(t)
}

func TestConverge_StopsWhenNoCollisions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: 1})
	a := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})

	rollback := errors.New("rollback")
	err := f.store.WithTx(ctx, func(tx *db.Tx) error {
		stats := &chunkStats{}
		require.NoError(t, e.converge(ctx, tx, "b", []string{a}, stats))
		assert.Zero(t, stats.passes)
		assert.Zero(t, stats.merged)
		return rollback
	})
	assert.ErrorIs(t, err, rollback)
}

func TestConverge_MergesWithinBound(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: 1})
	a := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	testutil.SeedMatches(t, f.db, a, 1, "a")

	rollback := errors.New("rollback")
	err := f.store.WithTx(ctx, func(tx *db.Tx) error {
		require.NoError(t, relax(ctx, tx, Teams))
		dup := &domain.Team{ID: "dup", CanonicalName: "eagles", DisplayName: "EAGLES",
			BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")}
		require.NoError(t, f.store.Teams.Insert(ctx, tx, dup))

		stats := &chunkStats{}
		require.NoError(t, e.converge(ctx, tx, "b", []string{"dup"}, stats))
		assert.Equal(t, 1, stats.passes)
		assert.Equal(t, 1, stats.secondary)

		exists, err := f.store.Teams.Exists(ctx, tx, "dup")
		require.NoError(t, err)
		assert.False(t, exists)
		aliases, err := f.store.Teams.Aliases(ctx, tx, a)
		require.NoError(t, err)
		assert.Contains(t, aliases, "EAGLES")

		require.NoError(t, restore(ctx, tx, Teams))
		return rollback
	})
	assert.ErrorIs(t, err, rollback)
}

func TestExecute_Chunks(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: -1, ChunkSize: 1})

	var pairs []domain.Pair
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("Club %d", i)
		keep := testutil.SeedTeam(t, f.db, testutil.Team{Name: name, BirthYear: intPtr(2013)})
		merge := testutil.SeedTeam(t, f.db, testutil.Team{Name: name})
		testutil.SeedMatches(t, f.db, merge, 1, name)
		pairs = append(pairs, domain.Pair{KeepID: keep, MergeID: merge})
	}

	rep, err := e.Execute(ctx, f.lease, pairs)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Chunks)
	assert.Equal(t, 3, rep.CommittedChunks)
	assert.Equal(t, 3, rep.Merged)
	assert.Equal(t, 1, f.count(t, "SELECT COUNT(DISTINCT batch_id) FROM audit_log"))
	assert.Equal(t, 3, f.count(t, "SELECT COUNT(*) FROM audit_log WHERE action = 'MERGE'"))
}

func TestExecute_DeepChains(t *testing.T) {
	for depth := 2; depth <= 8; depth++ {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			ctx := context.Background()
			f := setup(t)
			e := f.executor(DefaultOptions())

			keep := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
			testutil.SeedMatches(t, f.db, keep, 1, "keep")
			var merged []string
			for i := 1; i < depth; i++ {
				tm := testutil.Team{Name: "Eagles", CreatedOffset: time.Duration(i) * time.Minute}
				switch i % 3 {
				case 0:
					tm.BirthYear = intPtr(2014)
				case 1:
					tm.Gender = strPtr("Boys")
				default:
					tm.Region = strPtr("TX")
				}
				id := testutil.SeedTeam(t, f.db, tm)
				testutil.SeedMatches(t, f.db, id, 1, fmt.Sprintf("m%d", i))
				merged = append(merged, id)
			}

			det, err := e.Detect(ctx)
			require.NoError(t, err)
			require.Len(t, det.Groups, 1)

			rep, err := e.Execute(ctx, f.lease, det.Pairs)
			require.NoError(t, err)
			assert.Equal(t, depth-1, rep.Merged)

			for _, id := range merged {
				assert.False(t, testutil.TeamExists(t, f.db, id))
				assert.Equal(t, 1, f.mergeRecords(t, id))
			}
			assert.Equal(t, 1, f.count(t, "SELECT COUNT(*) FROM teams WHERE canonical_name = 'eagles'"))
			assert.Equal(t, depth, f.count(t, "SELECT matches_played FROM teams WHERE id = ?", keep))

			again, err := e.Detect(ctx)
			require.NoError(t, err)
			assert.Empty(t, again.Pairs)
			f.assertNoOrphans(t)
		})
	}
}

func TestExecute_Cancelled(t *testing.T) {
	f := setup(t)
	e := f.executor(DefaultOptions())
	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013)})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: y, MergeID: x}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rep.NotAttempted)
	assert.True(t, testutil.TeamExists(t, f.db, x))
}

func TestExecute_RequiresLease(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())
	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013)})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles"})

	_, err := e.Execute(ctx, nil, []domain.Pair{{KeepID: y, MergeID: x}})
	assert.True(t, errors.Is(err, domain.ErrAuthorizationDenied))
	assert.True(t, testutil.TeamExists(t, f.db, x))
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())
	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013)})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC Academy", Region: strPtr("TX")})

	out, err := e.Diff(ctx, domain.Group{KeepID: y, MergeIDs: []string{x}})
	require.NoError(t, err)
	assert.Contains(t, out, "-region: null")
	assert.Contains(t, out, "+region: TX")
	assert.Contains(t, out, "+display_name: Eagles FC Academy")
	assert.Equal(t, 2, f.count(t, "SELECT COUNT(*) FROM teams"))
}

// A detected pair whose rows change before the batch runs is re-qualified
// and rejected instead of merged.
func TestExecute_RejectsStaleDetectedPair(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())

	k := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	testutil.SeedMatches(t, f.db, k, 3, "k")
	m := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", Gender: strPtr("Boys"), Region: strPtr("TX"), CreatedOffset: time.Hour})

	det, err := e.Detect(ctx)
	require.NoError(t, err)
	require.Len(t, det.Pairs, 1)
	assert.True(t, det.Pairs[0].Detected)

	_, err = f.db.ExecContext(ctx, "UPDATE teams SET birth_year = 2014 WHERE id = ?", m)
	require.NoError(t, err)

	fresh, err := e.Detect(ctx)
	require.NoError(t, err)
	assert.Empty(t, fresh.Pairs)

	plan, err := e.Plan(ctx, det.Pairs)
	require.NoError(t, err)
	assert.Zero(t, plan.TeamsToMerge)
	require.Len(t, plan.Rejected, 1)
	assert.Equal(t, ReasonNoLongerDuplicate, plan.Rejected[0].Reason)

	rep, err := e.Execute(ctx, f.lease, det.Pairs)
	require.NoError(t, err)
	assert.Zero(t, rep.Merged)
	require.Len(t, rep.Rejected, 1)
	assert.Equal(t, ReasonNoLongerDuplicate, rep.Rejected[0].Reason)
	assert.True(t, testutil.TeamExists(t, f.db, m))
	assert.Zero(t, f.mergeRecords(t, m))

	// The same pair given as an override still merges.
	rep, err = e.Execute(ctx, f.lease, []domain.Pair{{KeepID: k, MergeID: m}})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Merged)
	assert.False(t, testutil.TeamExists(t, f.db, m))
}

func TestPlan_CountsSecondaryMerges(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(DefaultOptions())
	k1, _, m := secondaryFixture(t, f)
	pairs := []domain.Pair{{KeepID: k1, MergeID: m}}
	teamsBefore := f.count(t, "SELECT COUNT(*) FROM teams")

	plan, err := e.Plan(ctx, pairs)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.TeamsToMerge)
	assert.Equal(t, 1, plan.SecondaryMerges)
	assert.Equal(t, 1, plan.Passes)
	assert.Empty(t, plan.Errors)

	assert.Equal(t, teamsBefore, f.count(t, "SELECT COUNT(*) FROM teams"))
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	k1Team, err := f.store.Teams.Get(ctx, f.db, k1)
	require.NoError(t, err)
	assert.Nil(t, k1Team.Region)
	f.assertIndexes(t)

	rep, err := e.Execute(ctx, f.lease, pairs)
	require.NoError(t, err)
	assert.Equal(t, plan.TeamsToMerge, rep.Merged)
	assert.Equal(t, plan.MatchesToMigrate, rep.MatchesMigrated)
	assert.Equal(t, plan.SecondaryMerges, rep.SecondaryMerges)
	assert.Equal(t, plan.DuplicateMatches, rep.DuplicateMatches)
	assert.Equal(t, plan.DegenerateMatches, rep.DegenerateMatches)
}

func TestPlan_ReportsNonConvergentChunk(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: 0})
	k1, _, m := secondaryFixture(t, f)

	plan, err := e.Plan(ctx, []domain.Pair{{KeepID: k1, MergeID: m}})
	require.NoError(t, err)
	require.Len(t, plan.Errors, 1)
	assert.Contains(t, plan.Errors[0], "secondary collisions")
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	f.assertIndexes(t)
}

// failingRestore adds a constraint that can never be rebuilt.
type failingRestore struct{ EntityKind }

func (k failingRestore) Constraints() []Constraint {
	return append(k.EntityKind.Constraints(), Constraint{
		Name:   "ux_teams_broken",
		Create: "CREATE UNIQUE INDEX ux_teams_broken ON no_such_table(id)",
	})
}

func TestExecute_RestoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	e := f.executor(Options{MaxPasses: -1, Kind: failingRestore{Teams}})

	y := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	x := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles", CreatedOffset: time.Hour})
	testutil.SeedMatches(t, f.db, x, 2, "x")

	rep, err := e.Execute(ctx, f.lease, []domain.Pair{{KeepID: y, MergeID: x}})
	require.Error(t, err)
	var restoreErr *domain.ConstraintRestoreError
	require.True(t, errors.As(err, &restoreErr))
	assert.Equal(t, "ux_teams_broken", restoreErr.Constraint)
	var batchErr *domain.BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, "restore constraints", batchErr.Rule)
	assert.Equal(t, 1, rep.RolledBack)
	assert.Zero(t, rep.Merged)

	assert.True(t, testutil.TeamExists(t, f.db, x))
	assert.Zero(t, f.count(t, "SELECT COUNT(*) FROM audit_log"))
	assert.Equal(t, 2, f.count(t, "SELECT COUNT(*) FROM matches WHERE home_team_id = ? OR away_team_id = ?", x, x))
	f.assertIndexes(t)
}
