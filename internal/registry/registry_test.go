package registry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
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
	r     *Resolver
	lease *lease.Lease
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database := testutil.TempDB(t)
	s := store.New(database)
	gate := lease.NewManager(database, time.Minute, nil)
	l, err := gate.Acquire(context.Background(), lease.RegistryGate, "test")
	require.NoError(t, err)
	t.Cleanup(func() { gate.Release(context.Background(), l) })
	r := New(s, gate, audit.NewWriter("test"), Options{LegacySources: []string{"legacy_bootstrap"}})
	return &fixture{db: database, store: s, r: r, lease: l}
}

func obs(source, entity, name string) domain.TeamObservation {
	return domain.TeamObservation{SourceID: source, SourceEntityID: entity, DisplayName: name}
}

func TestResolve_IdempotentOnSourceRecord(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	o := obs("heartland", "t-1", "Eagles FC")
	o.BirthYear = intPtr(2013)
	first, err := f.r.Resolve(ctx, f.lease, o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	second, err := f.r.Resolve(ctx, f.lease, o)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMapped, second.Outcome)
	assert.Equal(t, first.TeamID, second.TeamID)

	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM teams"))
	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM source_entity_map"))
}

func TestResolve_AttachesWithinTolerance(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	a := obs("heartland", "1", "Eagles FC")
	a.BirthYear = intPtr(2013)
	a.Gender = strPtr("Boys")
	ra, err := f.r.Resolve(ctx, f.lease, a)
	require.NoError(t, err)

	// Different source, spelling and a birth year one off: same team.
	b := obs("gotsport", "abc", "  EAGLES  fc ")
	b.BirthYear = intPtr(2014)
	b.Region = strPtr("tx")
	rb, err := f.r.Resolve(ctx, f.lease, b)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAttached, rb.Outcome)
	assert.Equal(t, ra.TeamID, rb.TeamID)
	assert.Equal(t, []string{"region"}, rb.Filled)

	team, err := f.store.Teams.Get(ctx, f.db, ra.TeamID)
	require.NoError(t, err)
	assert.Equal(t, 2013, *team.BirthYear, "known birth year is never overwritten")
	assert.Equal(t, "TX", *team.Region)
	assert.Equal(t, "Boys", *team.Gender)
	assert.ElementsMatch(t, []string{"Eagles FC", "EAGLES fc"}, team.Aliases)
}

func TestResolve_ConflictCreatesDistinctTeam(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	boys := obs("heartland", "1", "Eagles FC")
	boys.Gender = strPtr("Boys")
	rb, err := f.r.Resolve(ctx, f.lease, boys)
	require.NoError(t, err)

	girls := obs("heartland", "2", "Eagles FC")
	girls.Gender = strPtr("Girls")
	rg, err := f.r.Resolve(ctx, f.lease, girls)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, rg.Outcome)
	assert.NotEqual(t, rb.TeamID, rg.TeamID)

	older := obs("heartland", "3", "Eagles FC")
	older.BirthYear = intPtr(2010)
	older.Gender = strPtr("Boys")
	ro, err := f.r.Resolve(ctx, f.lease, older)
	require.NoError(t, err)
	assert.Equal(t, rb.TeamID, ro.TeamID, "unknown birth year is a wildcard")

	twoApart := obs("heartland", "4", "Eagles FC")
	twoApart.BirthYear = intPtr(2012)
	twoApart.Gender = strPtr("Boys")
	r2, err := f.r.Resolve(ctx, f.lease, twoApart)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, r2.Outcome)
}

func TestResolve_PlaceholdersAreUnknown(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	o := obs("heartland", "1", "Eagles FC")
	o.Gender = strPtr("Unknown")
	o.Region = strPtr("unknown")
	r, err := f.r.Resolve(ctx, f.lease, o)
	require.NoError(t, err)

	team, err := f.store.Teams.Get(ctx, f.db, r.TeamID)
	require.NoError(t, err)
	assert.Nil(t, team.Gender)
	assert.Nil(t, team.Region)
}

func TestResolve_DefersFillThatWouldCollide(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	full := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", BirthYear: intPtr(2013), Gender: strPtr("Boys"), Region: strPtr("TX")})
	partial := testutil.SeedTeam(t, f.db, testutil.Team{Name: "Eagles FC", Gender: strPtr("Boys"), Region: strPtr("TX"), CreatedOffset: time.Hour})
	testutil.SeedMapping(t, f.db, "gotsport", "p", partial)

	o := obs("gotsport", "p", "Eagles FC")
	o.BirthYear = intPtr(2013)
	r, err := f.r.Resolve(ctx, f.lease, o)
	require.NoError(t, err)
	assert.Equal(t, partial, r.TeamID)
	assert.Equal(t, []string{"birth_year"}, r.Deferred)
	assert.Empty(t, r.Filled)

	team, err := f.store.Teams.Get(ctx, f.db, partial)
	require.NoError(t, err)
	assert.Nil(t, team.BirthYear)
	assert.True(t, testutil.TeamExists(t, f.db, full))
}

func TestResolve_SourceMapIntegrityFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Foreign keys are enforced through the pool; plant the bad row on a
	// connection without them.
	raw, err := sql.Open("sqlite3", f.db.Path())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(`INSERT INTO source_entity_map (source_id, source_entity_id, team_id, created_at, updated_at)
		VALUES ('heartland', 'ghost', 'no-such-team', ?, ?)`, db.FormatTime(testutil.Epoch), db.FormatTime(testutil.Epoch))
	require.NoError(t, err)

	_, err = f.r.Resolve(ctx, f.lease, obs("heartland", "ghost", "Ghost FC"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceMapIntegrity))
	assert.Equal(t, 0, testutil.Count(t, f.db, "SELECT COUNT(*) FROM teams"))
}

func TestResolve_RequiresLease(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.r.Resolve(ctx, nil, obs("heartland", "1", "Eagles FC"))
	assert.True(t, errors.Is(err, domain.ErrAuthorizationDenied))
	assert.Equal(t, 0, testutil.Count(t, f.db, "SELECT COUNT(*) FROM teams"))
}

func TestResolve_InvalidObservation(t *testing.T) {
	f := setup(t)
	_, err := f.r.Resolve(context.Background(), f.lease, obs("heartland", "1", "!!!"))
	assert.True(t, errors.Is(err, domain.ErrInvalidObservation))
}

func matchObs(source, key, date, home, away string) domain.MatchObservation {
	return domain.MatchObservation{
		SourceID:       source,
		SourceMatchKey: key,
		Date:           date,
		Home:           obs(source, home, home),
		Away:           obs(source, away, away),
	}
}

func TestIngestMatch_InsertAndUpdate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	m := matchObs("gotsport", "g-1", "2025-09-14", "Eagles", "Rush")
	res, err := f.r.IngestMatch(ctx, f.lease, m)
	require.NoError(t, err)
	assert.Equal(t, MatchInserted, res.Outcome)

	m.HomeScore, m.AwayScore = intPtr(3), intPtr(1)
	again, err := f.r.IngestMatch(ctx, f.lease, m)
	require.NoError(t, err)
	assert.Equal(t, MatchUpdated, again.Outcome)
	assert.Equal(t, res.MatchID, again.MatchID)

	home, err := f.store.Teams.Get(ctx, f.db, res.Home.TeamID)
	require.NoError(t, err)
	assert.Equal(t, 1, home.MatchesPlayed)
	assert.Equal(t, 1, home.Wins)
}

func TestIngestMatch_LegacyDuplicateLoses(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	live, err := f.r.IngestMatch(ctx, f.lease, matchObs("gotsport", "g-1", "2025-09-14", "Eagles", "Rush"))
	require.NoError(t, err)

	// The legacy source reports the same teams under its own ids.
	legacy := matchObs("legacy_bootstrap", "l-1", "2025-09-14", "Eagles", "Rush")
	res, err := f.r.IngestMatch(ctx, f.lease, legacy)
	require.NoError(t, err)
	assert.Equal(t, MatchDuplicate, res.Outcome)
	assert.Equal(t, live.Home.TeamID, res.Home.TeamID)

	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM matches WHERE deleted_at IS NULL"))
	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM matches WHERE id = ? AND deleted_at IS NULL", live.MatchID))
	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM audit_log WHERE record_id = ?", res.MatchID))
}

func TestIngestMatch_LiveSourceSupersedesLegacy(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	legacy, err := f.r.IngestMatch(ctx, f.lease, matchObs("legacy_bootstrap", "l-1", "2025-09-14", "Eagles", "Rush"))
	require.NoError(t, err)

	live := matchObs("gotsport", "g-1", "2025-09-14", "Eagles", "Rush")
	live.Home.SourceID, live.Home.SourceEntityID = "legacy_bootstrap", "Eagles"
	live.Away.SourceID, live.Away.SourceEntityID = "legacy_bootstrap", "Rush"
	res, err := f.r.IngestMatch(ctx, f.lease, live)
	require.NoError(t, err)
	assert.Equal(t, MatchSuperseded, res.Outcome)

	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM matches WHERE id = ? AND deleted_at IS NOT NULL", legacy.MatchID))
	assert.Equal(t, 1, testutil.Count(t, f.db, "SELECT COUNT(*) FROM matches WHERE id = ? AND deleted_at IS NULL", res.MatchID))
}

func TestIngestMatch_Degenerate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	m := matchObs("gotsport", "g-1", "2025-09-14", "Eagles", "Eagles-2")
	m.Away.DisplayName = "Eagles"
	m.Home.BirthYear = intPtr(2013)
	res, err := f.r.IngestMatch(ctx, f.lease, m)
	require.NoError(t, err)
	assert.Equal(t, MatchDegenerate, res.Outcome)
	assert.Equal(t, 0, testutil.Count(t, f.db, "SELECT COUNT(*) FROM matches WHERE deleted_at IS NULL"))
}
