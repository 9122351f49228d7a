// Package registry resolves observations to canonical teams. Resolve is the
// only way ingestion writes the registry.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/matchdedup"
	"github.com/MGMAppDev/soccerview-sub003/internal/names"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// Options configures a Resolver.
type Options struct {
	// LegacySources lists source ids whose matches lose deduplication ties.
	LegacySources []string
	Logger        logrus.FieldLogger
}

// Resolver maps observations onto canonical teams and matches.
type Resolver struct {
	store  *store.Store
	gate   *lease.Manager
	audit  *audit.Writer
	dedup  *matchdedup.Deduplicator
	legacy map[string]bool
	log    logrus.FieldLogger
}

// New creates a Resolver.
func New(s *store.Store, gate *lease.Manager, w *audit.Writer, opts Options) *Resolver {
	log := logging.OrDiscard(opts.Logger)
	legacy := make(map[string]bool, len(opts.LegacySources))
	for _, src := range opts.LegacySources {
		legacy[strings.TrimSpace(src)] = true
	}
	return &Resolver{
		store:  s,
		gate:   gate,
		audit:  w,
		dedup:  matchdedup.New(s, gate, w, log),
		legacy: legacy,
		log:    log,
	}
}

// Outcome says how an observation was resolved.
type Outcome string

const (
	OutcomeMapped   Outcome = "mapped"   // existing source mapping
	OutcomeAttached Outcome = "attached" // matched an existing team by identity
	OutcomeCreated  Outcome = "created"  // new canonical team
)

// Resolution is the result of resolving one team observation.
type Resolution struct {
	TeamID  string   `json:"team_id"`
	Outcome Outcome  `json:"outcome"`
	Filled  []string `json:"filled,omitempty"`
	// Deferred lists identity fields left unfilled because filling them
	// would collide with another team's identity. The detector pairs them.
	Deferred []string `json:"deferred,omitempty"`
}

// Resolve maps a team observation to its canonical id in its own
// transaction. Re-resolving the same source record is idempotent.
func (r *Resolver) Resolve(ctx context.Context, l *lease.Lease, obs domain.TeamObservation) (*Resolution, error) {
	var res *Resolution
	err := r.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := r.gate.Verify(ctx, tx, l); err != nil {
			return err
		}
		var err error
		res, err = r.resolve(ctx, tx, obs)
		return err
	})
	return res, err
}

type observed struct {
	obs      domain.TeamObservation
	display  string
	identity domain.Identity
}

func normalizeObservation(obs domain.TeamObservation) (*observed, error) {
	if err := domain.ValidateTeamObservation(&obs); err != nil {
		return nil, err
	}
	canonical := names.Normalize(obs.DisplayName)
	if canonical == "" {
		return nil, &domain.ValidationError{Field: "display_name", Value: obs.DisplayName, Message: "no letters or digits"}
	}
	return &observed{
		obs:     obs,
		display: names.Display(obs.DisplayName),
		identity: domain.Identity{
			Name:      canonical,
			BirthYear: obs.BirthYear,
			Gender:    domain.NormalizeGender(obs.Gender),
			Region:    domain.NormalizeRegion(obs.Region),
		},
	}, nil
}

func (r *Resolver) resolve(ctx context.Context, ex db.Executor, raw domain.TeamObservation) (*Resolution, error) {
	o, err := normalizeObservation(raw)
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"source_id": raw.SourceID, "source_entity_id": raw.SourceEntityID})

	// 1. Source entity map.
	mapping, ok, err := r.store.Mappings.Get(ctx, ex, raw.SourceID, raw.SourceEntityID)
	if err != nil {
		return nil, err
	}
	if ok {
		exists, err := r.store.Teams.Exists(ctx, ex, mapping.TeamID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &domain.SourceMapIntegrityError{SourceID: raw.SourceID, SourceEntityID: raw.SourceEntityID, TeamID: mapping.TeamID}
		}
		team, err := r.store.Teams.Get(ctx, ex, mapping.TeamID)
		if err != nil {
			return nil, err
		}
		if c := domain.Conflict(team.Identity(), o.identity); c != nil {
			log.WithField("team_id", team.ID).Warnf("observation disagrees with mapped team (%s); keeping known values", c)
		}
		res := &Resolution{TeamID: team.ID, Outcome: OutcomeMapped}
		return res, r.absorb(ctx, ex, team, o, res)
	}

	// 2. Identity search with tolerance.
	candidates, err := r.store.Teams.ByCanonicalName(ctx, ex, o.identity.Name)
	if err != nil {
		return nil, err
	}
	if team := pickCandidate(o.identity, candidates); team != nil {
		if err := r.store.Mappings.Insert(ctx, ex, raw.SourceID, raw.SourceEntityID, team.ID); err != nil {
			return nil, err
		}
		res := &Resolution{TeamID: team.ID, Outcome: OutcomeAttached}
		log.WithField("team_id", team.ID).Debug("attached observation to existing team")
		return res, r.absorb(ctx, ex, team, o, res)
	}

	// 3. New canonical team.
	team := &domain.Team{
		ID:            id.New(),
		CanonicalName: o.identity.Name,
		DisplayName:   o.display,
		BirthYear:     o.identity.BirthYear,
		Gender:        o.identity.Gender,
		Region:        o.identity.Region,
		MatchesPlayed: raw.MatchesPlayed,
		Wins:          raw.Wins,
		Losses:        raw.Losses,
		Draws:         raw.Draws,
		Aliases:       []string{o.display},
	}
	if err := r.store.Teams.Insert(ctx, ex, team); err != nil {
		return nil, err
	}
	if err := r.store.Mappings.Insert(ctx, ex, raw.SourceID, raw.SourceEntityID, team.ID); err != nil {
		return nil, err
	}
	log.WithField("team_id", team.ID).Debug("created canonical team")
	return &Resolution{TeamID: team.ID, Outcome: OutcomeCreated}, nil
}

// pickCandidate returns the best compatible team, or nil. Candidates whose
// known fields disagree with the observation are never chosen.
func pickCandidate(obs domain.Identity, candidates []*domain.Team) *domain.Team {
	var compatible []*domain.Team
	for _, t := range candidates {
		if domain.Compatible(t.Identity(), obs) {
			compatible = append(compatible, t)
		}
	}
	if len(compatible) == 0 {
		return nil
	}
	exactYear := func(t *domain.Team) bool {
		return obs.BirthYear != nil && t.BirthYear != nil && *obs.BirthYear == *t.BirthYear
	}
	sort.SliceStable(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if exactYear(a) != exactYear(b) {
			return exactYear(a)
		}
		return domain.Outranks(a, b)
	})
	return compatible[0]
}

// absorb coalesces an observation into team: unknown fields are filled,
// known values are never replaced, the display name joins the alias set
// and reported stats can only raise cached counts.
func (r *Resolver) absorb(ctx context.Context, ex db.Executor, team *domain.Team, o *observed, res *Resolution) error {
	before := team.Identity()
	after := domain.Coalesce(before, o.identity)

	filled := filledFields(before, after)
	if len(filled) > 0 && after.FullySpecified() {
		holder, err := r.store.Teams.FindByIdentity(ctx, ex, after.Name, *after.BirthYear, *after.Gender, *after.Region)
		if err != nil {
			return err
		}
		if holder != nil && holder.ID != team.ID {
			r.log.WithFields(logrus.Fields{"team_id": team.ID, "holder_id": holder.ID}).
				Info("identity fill deferred: tuple already held by another team")
			res.Deferred = filled
			filled = nil
			after = before
		}
	}

	if len(filled) > 0 {
		team.BirthYear, team.Gender, team.Region = after.BirthYear, after.Gender, after.Region
		if err := r.store.Teams.UpdateIdentity(ctx, ex, team); err != nil {
			return err
		}
		res.Filled = filled
	}
	if err := r.store.Teams.AddAliases(ctx, ex, team.ID, o.display); err != nil {
		return err
	}
	if o.obs.MatchesPlayed > 0 || o.obs.Wins > 0 || o.obs.Losses > 0 || o.obs.Draws > 0 {
		return r.store.Teams.RaiseStats(ctx, ex, team.ID, o.obs.MatchesPlayed, o.obs.Wins, o.obs.Losses, o.obs.Draws)
	}
	return nil
}

func filledFields(before, after domain.Identity) []string {
	var out []string
	if !before.BirthYearKnown() && after.BirthYearKnown() {
		out = append(out, "birth_year")
	}
	if !before.GenderKnown() && after.GenderKnown() {
		out = append(out, "gender")
	}
	if !before.RegionKnown() && after.RegionKnown() {
		out = append(out, "region")
	}
	return out
}

// MatchOutcome says how a match observation was stored.
type MatchOutcome string

const (
	MatchInserted   MatchOutcome = "inserted"
	MatchUpdated    MatchOutcome = "updated"    // same source key seen before
	MatchSuperseded MatchOutcome = "superseded" // replaced a live duplicate
	MatchDuplicate  MatchOutcome = "duplicate"  // stored soft-deleted behind a live duplicate
	MatchDegenerate MatchOutcome = "degenerate" // both sides resolved to one team
)

// MatchResult is the result of ingesting one match observation.
type MatchResult struct {
	MatchID string       `json:"match_id"`
	Outcome MatchOutcome `json:"outcome"`
	Home    *Resolution  `json:"home"`
	Away    *Resolution  `json:"away"`
}

// IngestMatch resolves both sides of a match observation and stores the
// match, keeping at most one live match per (date, home, away).
func (r *Resolver) IngestMatch(ctx context.Context, l *lease.Lease, obs domain.MatchObservation) (*MatchResult, error) {
	var res *MatchResult
	err := r.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := r.gate.Verify(ctx, tx, l); err != nil {
			return err
		}
		var err error
		res, err = r.ingestMatch(ctx, tx, obs)
		return err
	})
	return res, err
}

func (r *Resolver) ingestMatch(ctx context.Context, ex db.Executor, obs domain.MatchObservation) (*MatchResult, error) {
	if obs.Home.SourceID == "" {
		obs.Home.SourceID = obs.SourceID
	}
	if obs.Away.SourceID == "" {
		obs.Away.SourceID = obs.SourceID
	}
	if err := domain.ValidateMatchObservation(&obs); err != nil {
		return nil, err
	}

	home, err := r.resolve(ctx, ex, obs.Home)
	if err != nil {
		return nil, fmt.Errorf("home team: %w", err)
	}
	away, err := r.resolve(ctx, ex, obs.Away)
	if err != nil {
		return nil, fmt.Errorf("away team: %w", err)
	}
	res := &MatchResult{Home: home, Away: away}

	existing, ok, err := r.store.Matches.BySourceKey(ctx, ex, obs.SourceID, obs.SourceMatchKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := r.store.Matches.UpdateScores(ctx, ex, existing.ID, obs.HomeScore, obs.AwayScore); err != nil {
			return nil, err
		}
		res.MatchID, res.Outcome = existing.ID, MatchUpdated
		return res, r.store.Teams.RecomputeAggregates(ctx, ex, []string{existing.HomeTeamID, existing.AwayTeamID})
	}

	m := &domain.Match{
		ID:             id.New(),
		SourceID:       obs.SourceID,
		SourceMatchKey: obs.SourceMatchKey,
		Date:           obs.Date,
		HomeTeamID:     home.TeamID,
		AwayTeamID:     away.TeamID,
		HomeScore:      obs.HomeScore,
		AwayScore:      obs.AwayScore,
		Legacy:         r.legacy[obs.SourceID],
	}
	res.MatchID = m.ID

	switch {
	case m.HomeTeamID == m.AwayTeamID:
		res.Outcome = MatchDegenerate
		if err := r.insertSoftDeleted(ctx, ex, m, matchdedup.ReasonDegenerate); err != nil {
			return nil, err
		}
	default:
		live, ok, err := r.store.Matches.LiveByTuple(ctx, ex, m.Date, m.HomeTeamID, m.AwayTeamID)
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Outcome = MatchInserted
			if err := r.store.Matches.Insert(ctx, ex, m); err != nil {
				return nil, err
			}
			break
		}
		// The candidate is created now, so it can only win on the legacy rule.
		m.CreatedAt = r.store.Now()
		if matchdedup.Prefer(live, m) == m {
			res.Outcome = MatchSuperseded
			if err := r.dedup.SoftDelete(ctx, ex, "", live, matchdedup.DuplicateReason(m, live)); err != nil {
				return nil, err
			}
			if err := r.store.Matches.Insert(ctx, ex, m); err != nil {
				return nil, err
			}
		} else {
			res.Outcome = MatchDuplicate
			if err := r.insertSoftDeleted(ctx, ex, m, matchdedup.DuplicateReason(live, m)); err != nil {
				return nil, err
			}
		}
	}

	return res, r.store.Teams.RecomputeAggregates(ctx, ex, []string{m.HomeTeamID, m.AwayTeamID})
}

// insertSoftDeleted stores m already soft-deleted, with its audit record.
func (r *Resolver) insertSoftDeleted(ctx context.Context, ex db.Executor, m *domain.Match, reason string) error {
	now := r.store.Now()
	m.DeletedAt = &now
	m.DeletedReason = &reason
	if err := r.audit.LogSoftDelete(ctx, ex, "", m, reason); err != nil {
		return err
	}
	return r.store.Matches.Insert(ctx, ex, m)
}
