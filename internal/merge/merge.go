// Package merge collapses duplicate canonical teams into their keep record.
//
// Each chunk of groups runs in one transaction: the write lease is checked,
// the identity and live-match unique indexes are dropped, merge teams are
// folded into their keep, dependents are repointed and deduplicated,
// secondary identity collisions are merged until none remain, aggregates
// are rebuilt and the indexes are recreated before commit. Any failure
// rolls the chunk back, indexes included.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/detect"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/matchdedup"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

const (
	DefaultMaxPasses  = 5
	DefaultChunkSize  = 200
	DefaultSampleSize = 10

	reasonSecondary = "secondary identity collision"

	// ReasonNoLongerDuplicate rejects a detected pair the current rows no
	// longer qualify.
	ReasonNoLongerDuplicate = "no longer a duplicate candidate"
)

// Options configures an Executor.
type Options struct {
	// MaxPasses bounds secondary-collision passes per chunk. Zero allows
	// none: any collision is a non-convergent failure. Negative means the
	// default.
	MaxPasses int
	// ChunkSize is the number of groups committed per transaction.
	ChunkSize  int
	SampleSize int
	Kind       EntityKind
	Logger     logrus.FieldLogger
}

// DefaultOptions returns the stock executor settings.
func DefaultOptions() Options {
	return Options{MaxPasses: DefaultMaxPasses, ChunkSize: DefaultChunkSize, SampleSize: DefaultSampleSize}
}

// Executor plans and executes merge batches.
type Executor struct {
	store *store.Store
	gate  *lease.Manager
	audit *audit.Writer
	dedup *matchdedup.Deduplicator
	opts  Options
	log   logrus.FieldLogger
}

// New creates an Executor.
func New(s *store.Store, gate *lease.Manager, w *audit.Writer, opts Options) *Executor {
	if opts.MaxPasses < 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.Kind == nil {
		opts.Kind = Teams
	}
	log := logging.OrDiscard(opts.Logger)
	return &Executor{
		store: s,
		gate:  gate,
		audit: w,
		dedup: matchdedup.New(s, gate, w, log),
		opts:  opts,
		log:   log,
	}
}

// Detect runs the duplicate detector over the current registry.
func (e *Executor) Detect(ctx context.Context) (*detect.Result, error) {
	return detect.Scan(ctx, e.store, e.store.DB())
}

// target is a group resolved against current rows.
type target struct {
	keep   *domain.Team
	merges []*domain.Team
	pairs  []domain.Pair
}

func (t *target) mergeIDs() []string {
	out := make([]string, 0, len(t.merges))
	for _, m := range t.merges {
		out = append(out, m.ID)
	}
	return out
}

func reasonIndex(pairs []domain.Pair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.MergeID] = p.Reason
	}
	return out
}

// pairIndex keys the requested pairs by merge id.
func pairIndex(pairs []domain.Pair) map[string]domain.Pair {
	out := make(map[string]domain.Pair, len(pairs))
	for _, p := range pairs {
		out[p.MergeID] = p
	}
	return out
}

// prepare resolves groups against the rows visible to ex. Keep ids are
// followed through earlier merges and merge ids that are already gone are
// skipped. A merge whose known identity disagrees with the keep is
// rejected, and so is a detected pair that no longer qualifies as a
// duplicate of its keep.
func (e *Executor) prepare(ctx context.Context, ex db.Executor, groups []domain.Group, index map[string]domain.Pair) ([]*target, []Rejection, int, error) {
	var targets []*target
	var rejected []Rejection
	skipped := 0

	for _, g := range groups {
		keepID, err := audit.Follow(ctx, ex, g.KeepID)
		if err != nil {
			return nil, nil, 0, err
		}
		teams, err := e.store.Teams.GetMany(ctx, ex, append([]string{keepID}, g.MergeIDs...))
		if err != nil {
			return nil, nil, 0, err
		}
		keep := teams[keepID]
		if keep == nil {
			for _, mid := range g.MergeIDs {
				p := index[mid]
				rejected = append(rejected, Rejection{
					Pair:   domain.Pair{KeepID: g.KeepID, MergeID: mid, Reason: p.Reason, Detected: p.Detected},
					Reason: fmt.Sprintf("keep team %s not found", keepID),
				})
			}
			continue
		}

		var present []*domain.Team
		for _, mid := range g.MergeIDs {
			if mid == keepID {
				skipped++
				continue
			}
			m := teams[mid]
			if m == nil {
				_, merged, err := audit.MergedInto(ctx, ex, mid)
				if err != nil {
					return nil, nil, 0, err
				}
				if merged {
					skipped++
				} else {
					p := index[mid]
					rejected = append(rejected, Rejection{
						Pair:   domain.Pair{KeepID: keepID, MergeID: mid, Reason: p.Reason, Detected: p.Detected},
						Reason: fmt.Sprintf("merge team %s not found", mid),
					})
				}
				continue
			}
			present = append(present, m)
		}
		// Rank order, as the detector visits members.
		sort.SliceStable(present, func(i, j int) bool { return domain.Outranks(present[i], present[j]) })

		t := &target{keep: keep}
		c := detect.NewCluster(keep)
		for _, m := range present {
			req := index[m.ID]
			p := domain.Pair{KeepID: keepID, MergeID: m.ID, Reason: req.Reason, Detected: req.Detected}
			if cf := domain.Conflict(c.Identity, m.Identity()); cf != nil {
				conflict := &domain.IdentityConflictError{KeepID: keepID, MergeID: m.ID, Field: cf.Field, KeepValue: cf.Left, MergeValue: cf.Right}
				rejected = append(rejected, Rejection{Pair: p, Reason: conflict.Error()})
				continue
			}
			if req.Detected && !c.Accepts(m) {
				rejected = append(rejected, Rejection{Pair: p, Reason: ReasonNoLongerDuplicate})
				continue
			}
			c.Add(m)
			t.merges = append(t.merges, m)
			t.pairs = append(t.pairs, p)
		}
		sort.Slice(t.pairs, func(i, j int) bool { return t.pairs[i].MergeID < t.pairs[j].MergeID })
		sort.Slice(t.merges, func(i, j int) bool { return t.merges[i].ID < t.merges[j].ID })
		if len(t.merges) > 0 {
			targets = append(targets, t)
		}
	}
	return targets, rejected, skipped, nil
}

// absorb transfers merge's metadata onto keep in memory: unknown identity
// fields are filled and the richer display name wins.
func absorb(keep, merge *domain.Team) {
	identity := domain.Coalesce(keep.Identity(), merge.Identity())
	keep.BirthYear, keep.Gender, keep.Region = identity.BirthYear, identity.Gender, identity.Region
	keep.DisplayName = domain.RicherName(keep.DisplayName, merge.DisplayName)
}

// mergeInto folds merges into keep inside ex and deletes them. It returns
// the number of live matches repointed.
func (e *Executor) mergeInto(ctx context.Context, ex db.Executor, batchID string, pass int, keep *domain.Team, merges []*domain.Team, reasons map[string]string) (int, error) {
	mergeIDs := make([]string, 0, len(merges))
	names := []string{keep.DisplayName}
	for _, m := range merges {
		mergeIDs = append(mergeIDs, m.ID)
		names = append(names, m.DisplayName)
	}

	mappings, err := e.store.Mappings.ForTeams(ctx, ex, mergeIDs)
	if err != nil {
		return 0, err
	}
	byTeam := make(map[string][]domain.SourceMapping)
	for _, mp := range mappings {
		byTeam[mp.TeamID] = append(byTeam[mp.TeamID], mp)
	}

	for _, m := range merges {
		if m.Aliases, err = e.store.Teams.Aliases(ctx, ex, m.ID); err != nil {
			return 0, err
		}
		summary := domain.MergeSummary{MergedInto: keep.ID, Pass: pass, Reason: reasons[m.ID]}
		if err := e.audit.LogMerge(ctx, ex, batchID, audit.TeamSnapshot{Team: m, Mappings: byTeam[m.ID]}, summary); err != nil {
			return 0, err
		}
		absorb(keep, m)
		e.log.WithFields(logrus.Fields{"batch_id": batchID, "pass": pass, "keep_id": keep.ID, "merge_id": m.ID}).
			Debug("merging team")
	}

	matches, err := e.store.Matches.Referencing(ctx, ex, mergeIDs)
	if err != nil {
		return 0, err
	}
	merging := make(map[string]bool, len(mergeIDs))
	for _, mid := range mergeIDs {
		merging[mid] = true
	}
	live := 0
	for _, mt := range matches {
		if err := e.audit.LogRepoint(ctx, ex, batchID, mt, repointedFrom(mt, merging), keep.ID); err != nil {
			return 0, err
		}
		if mt.Live() {
			live++
		}
	}
	if _, err := e.store.Matches.Repoint(ctx, ex, mergeIDs, keep.ID); err != nil {
		return 0, err
	}

	for i := range mappings {
		if err := e.audit.LogRedirect(ctx, ex, batchID, &mappings[i], keep.ID); err != nil {
			return 0, err
		}
	}
	if _, err := e.store.Mappings.Redirect(ctx, ex, mergeIDs, keep.ID); err != nil {
		return 0, err
	}

	if err := e.store.Teams.MoveAliases(ctx, ex, mergeIDs, keep.ID); err != nil {
		return 0, err
	}
	if err := e.store.Teams.AddAliases(ctx, ex, keep.ID, names...); err != nil {
		return 0, err
	}

	refs, err := danglingReferences(ctx, ex, e.opts.Kind, mergeIDs)
	if err != nil {
		return 0, err
	}
	if len(refs) > 0 {
		return 0, fmt.Errorf("references to merged %ss remain: %v", e.opts.Kind.Name(), refs)
	}
	if _, err := e.store.Teams.Delete(ctx, ex, mergeIDs); err != nil {
		return 0, err
	}
	if err := e.store.Teams.UpdateIdentity(ctx, ex, keep); err != nil {
		return 0, err
	}
	return live, nil
}

func repointedFrom(m *domain.Match, merging map[string]bool) string {
	switch {
	case merging[m.HomeTeamID] && merging[m.AwayTeamID]:
		return m.HomeTeamID + "," + m.AwayTeamID
	case merging[m.HomeTeamID]:
		return m.HomeTeamID
	default:
		return m.AwayTeamID
	}
}

// chunkStats accumulates what one chunk changed.
type chunkStats struct {
	merged     int
	migrated   int
	duplicates int
	degenerate int
	secondary  int
	passes     int
	skipped    int
	rejected   []Rejection
	touched    []string
	groups     []domain.Group
	pairs      []domain.Pair
}

// resolveMatches soft-deletes degenerate and duplicate live matches that
// now involve scope.
func (e *Executor) resolveMatches(ctx context.Context, ex db.Executor, batchID string, scope []string, stats *chunkStats) error {
	if len(scope) == 0 {
		return nil
	}
	degenerate, err := e.dedup.Degenerate(ctx, ex, batchID, scope)
	if err != nil {
		return err
	}
	res, err := e.dedup.Duplicates(ctx, ex, batchID, scope)
	if err != nil {
		return err
	}
	res.Degenerate = degenerate
	stats.degenerate += len(res.Degenerate)
	stats.duplicates += len(res.Duplicates)
	stats.touched = append(stats.touched, res.TouchedTeams()...)
	return nil
}

// converge merges identity collisions involving scope until a pass finds
// none. Colliding teams share a fully specified tuple, so the best-ranked
// one absorbs the rest. More than MaxPasses passes is a NonConvergentError.
func (e *Executor) converge(ctx context.Context, ex db.Executor, batchID string, scope []string, stats *chunkStats) error {
	if len(scope) == 0 {
		return nil
	}
	for pass := 1; ; pass++ {
		groups, err := e.store.Teams.IdentityCollisions(ctx, ex, scope)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			return nil
		}
		if pass > e.opts.MaxPasses {
			return &domain.NonConvergentError{Passes: pass - 1, Remaining: collisionKeys(groups)}
		}

		var keeps []string
		for _, g := range groups {
			sort.SliceStable(g, func(i, j int) bool { return domain.Outranks(g[i], g[j]) })
			keep, merges := g[0], g[1:]
			reasons := make(map[string]string, len(merges))
			for _, m := range merges {
				reasons[m.ID] = reasonSecondary
			}
			moved, err := e.mergeInto(ctx, ex, batchID, pass, keep, merges, reasons)
			if err != nil {
				return err
			}
			stats.merged += len(merges)
			stats.secondary += len(merges)
			stats.migrated += moved
			keeps = append(keeps, keep.ID)
		}
		stats.passes = pass
		stats.touched = append(stats.touched, keeps...)
		if err := e.resolveMatches(ctx, ex, batchID, keeps, stats); err != nil {
			return err
		}
		scope = keeps
	}
}

func collisionKeys(groups [][]*domain.Team) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		key, _ := store.IdentityKey(g[0])
		out = append(out, key)
	}
	return out
}

// apply runs the merge pipeline for one chunk inside tx: resolve pairs,
// relax constraints, fold groups, repair matches, converge on secondary
// collisions, rebuild aggregates and restore constraints. rule tracks the
// step in progress for error reporting.
func (e *Executor) apply(ctx context.Context, tx db.Executor, batchID string, groups []domain.Group, index map[string]domain.Pair, stats *chunkStats, rule *string) error {
	*rule = "resolve pairs"
	targets, rejected, skipped, err := e.prepare(ctx, tx, groups, index)
	if err != nil {
		return err
	}
	stats.rejected, stats.skipped = rejected, skipped
	for _, t := range targets {
		stats.groups = append(stats.groups, domain.Group{KeepID: t.keep.ID, MergeIDs: t.mergeIDs()})
		stats.pairs = append(stats.pairs, t.pairs...)
	}

	*rule = "relax constraints"
	if err := relax(ctx, tx, e.opts.Kind); err != nil {
		return err
	}

	*rule = "merge"
	var keeps []string
	for _, t := range targets {
		moved, err := e.mergeInto(ctx, tx, batchID, 0, t.keep, t.merges, reasonIndex(t.pairs))
		if err != nil {
			return err
		}
		stats.merged += len(t.merges)
		stats.migrated += moved
		keeps = append(keeps, t.keep.ID)
	}
	stats.touched = append(stats.touched, keeps...)

	*rule = "deduplicate matches"
	if err := e.resolveMatches(ctx, tx, batchID, keeps, stats); err != nil {
		return err
	}

	*rule = "secondary collisions"
	if err := e.converge(ctx, tx, batchID, keeps, stats); err != nil {
		return err
	}

	*rule = "recompute aggregates"
	if err := e.store.Teams.RecomputeAggregates(ctx, tx, stats.touched); err != nil {
		return err
	}

	*rule = "restore constraints"
	return restore(ctx, tx, e.opts.Kind)
}

// runChunk executes one chunk in its own transaction.
func (e *Executor) runChunk(ctx context.Context, l *lease.Lease, batchID string, chunk int, groups []domain.Group, index map[string]domain.Pair) (*chunkStats, error) {
	stats := &chunkStats{}
	rule := "begin"
	err := e.store.WithTx(ctx, func(tx *db.Tx) error {
		rule = "verify lease"
		if err := e.gate.Verify(ctx, tx, l); err != nil {
			return err
		}

		if err := e.apply(ctx, tx, batchID, groups, index, stats, &rule); err != nil {
			return err
		}

		rule = "verify lease"
		if err := e.gate.Verify(ctx, tx, l); err != nil {
			return err
		}
		rule = "commit"
		return nil
	})
	if err != nil {
		var pairs []domain.Pair
		for _, g := range groups {
			pairs = append(pairs, g.Pairs()...)
		}
		return nil, &domain.BatchError{BatchID: batchID, Chunk: chunk, Pairs: pairs, Rule: rule, Err: err}
	}
	return stats, nil
}

// Report summarizes an executed batch.
type Report struct {
	BatchID           string      `json:"batch_id"`
	Chunks            int         `json:"chunks"`
	CommittedChunks   int         `json:"committed_chunks"`
	Merged            int         `json:"merged"`
	RolledBack        int         `json:"rolled_back"`
	NotAttempted      int         `json:"not_attempted"`
	Skipped           int         `json:"skipped"`
	MatchesMigrated   int         `json:"matches_migrated"`
	DuplicateMatches  int         `json:"duplicate_matches"`
	DegenerateMatches int         `json:"degenerate_matches"`
	SecondaryMerges   int         `json:"secondary_merges"`
	Passes            int         `json:"passes"`
	Rejected          []Rejection `json:"rejected,omitempty"`
	Errors            []string    `json:"errors,omitempty"`
}

func (r *Report) add(s *chunkStats) {
	r.CommittedChunks++
	r.Merged += s.merged
	r.Skipped += s.skipped
	r.MatchesMigrated += s.migrated
	r.DuplicateMatches += s.duplicates
	r.DegenerateMatches += s.degenerate
	r.SecondaryMerges += s.secondary
	if s.passes > r.Passes {
		r.Passes = s.passes
	}
	r.Rejected = append(r.Rejected, s.rejected...)
}

func countMerges(chunks [][]domain.Group) int {
	n := 0
	for _, c := range chunks {
		for _, g := range c {
			n += len(g.MergeIDs)
		}
	}
	return n
}

// Execute merges pairs under lease l, one committed transaction per chunk.
// Chunks committed before a failure or cancellation stay committed; the
// failing chunk rolls back and later chunks are not attempted. Failed
// batches are never retried.
func (e *Executor) Execute(ctx context.Context, l *lease.Lease, pairs []domain.Pair) (*Report, error) {
	groups, rejected := GroupPairs(pairs)
	index := pairIndex(pairs)
	chunks := chunkGroups(groups, e.opts.ChunkSize)
	rep := &Report{BatchID: id.New(), Chunks: len(chunks), Rejected: rejected}
	log := e.log.WithField("batch_id", rep.BatchID)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			rep.NotAttempted += countMerges(chunks[i:])
			return rep, err
		}
		if i > 0 {
			if err := e.gate.Renew(ctx, l); err != nil {
				rep.NotAttempted += countMerges(chunks[i:])
				return rep, err
			}
		}

		stats, err := e.runChunk(ctx, l, rep.BatchID, i+1, chunk, index)
		if err != nil {
			rep.RolledBack += countMerges(chunks[i : i+1])
			rep.NotAttempted += countMerges(chunks[i+1:])
			rep.Errors = append(rep.Errors, err.Error())
			log.WithError(err).WithField("chunk", i+1).Error("merge chunk rolled back")
			return rep, err
		}
		rep.add(stats)
		log.WithFields(logrus.Fields{"chunk": i + 1, "merged": stats.merged, "passes": stats.passes}).Info("merge chunk committed")
	}

	log.WithFields(logrus.Fields{
		"merged":     rep.Merged,
		"skipped":    rep.Skipped,
		"rejected":   len(rep.Rejected),
		"migrated":   rep.MatchesMigrated,
		"duplicates": rep.DuplicateMatches,
		"degenerate": rep.DegenerateMatches,
		"secondary":  rep.SecondaryMerges,
	}).Info("merge batch complete")
	return rep, nil
}
