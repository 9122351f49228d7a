// Package matchdedup removes duplicate live matches. Two live matches are
// duplicates when they share (date, home, away). The survivor is the one
// not sourced from legacy/bootstrap ingestion, then the earliest created;
// losers are soft-deleted with a reason and an audit record.
package matchdedup

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// ReasonDegenerate is recorded on matches whose two sides are the same team.
const ReasonDegenerate = "degenerate: home and away resolve to the same team"

// Prefer returns the match to keep out of a and b.
func Prefer(a, b *domain.Match) *domain.Match {
	if a.Legacy != b.Legacy {
		if a.Legacy {
			return b
		}
		return a
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return a
		}
		return b
	}
	if a.ID <= b.ID {
		return a
	}
	return b
}

// DuplicateReason explains why loser was soft-deleted in favour of keep.
func DuplicateReason(keep, loser *domain.Match) string {
	why := "created later"
	if loser.Legacy && !keep.Legacy {
		why = "legacy source superseded by " + keep.SourceID
	}
	return fmt.Sprintf("duplicate of match %s (%s %s vs %s): %s",
		keep.ID, keep.Date, id.Short(keep.HomeTeamID), id.Short(keep.AwayTeamID), why)
}

// SoftDeletion describes one match removed from the live set.
type SoftDeletion struct {
	MatchID string `json:"match_id"`
	KeptID  string `json:"kept_id,omitempty"`
	Reason  string `json:"reason"`

	teams []string
}

// Result summarizes a deduplication pass.
type Result struct {
	Groups     int            `json:"groups"`
	Duplicates []SoftDeletion `json:"duplicates"`
	Degenerate []SoftDeletion `json:"degenerate"`
}

// Total counts every soft-deleted match.
func (r *Result) Total() int {
	return len(r.Duplicates) + len(r.Degenerate)
}

// Deduplicator soft-deletes duplicate and degenerate live matches.
type Deduplicator struct {
	store *store.Store
	gate  *lease.Manager
	audit *audit.Writer
	log   logrus.FieldLogger
}

// New creates a Deduplicator.
func New(s *store.Store, gate *lease.Manager, w *audit.Writer, log logrus.FieldLogger) *Deduplicator {
	return &Deduplicator{store: s, gate: gate, audit: w, log: logging.OrDiscard(log)}
}

// Duplicates soft-deletes every losing match among live duplicate groups
// touching scope (nil means the whole table). Must run inside the
// caller's transaction.
func (d *Deduplicator) Duplicates(ctx context.Context, ex db.Executor, batchID string, scope []string) (*Result, error) {
	return d.duplicates(ctx, ex, batchID, scope, false)
}

func (d *Deduplicator) duplicates(ctx context.Context, ex db.Executor, batchID string, scope []string, dryRun bool) (*Result, error) {
	groups, err := d.store.Matches.LiveDuplicateGroups(ctx, ex, scope)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, group := range groups {
		if group[0].HomeTeamID == group[0].AwayTeamID {
			// degenerate; every member goes
			continue
		}
		res.Groups++
		keep := group[0]
		for _, m := range group[1:] {
			keep = Prefer(keep, m)
		}
		for _, m := range group {
			if m.ID == keep.ID {
				continue
			}
			reason := DuplicateReason(keep, m)
			if !dryRun {
				if err := d.softDelete(ctx, ex, batchID, m, reason); err != nil {
					return nil, err
				}
			}
			res.Duplicates = append(res.Duplicates, SoftDeletion{MatchID: m.ID, KeptID: keep.ID, Reason: reason,
				teams: []string{m.HomeTeamID, m.AwayTeamID}})
			d.log.WithFields(logrus.Fields{"match_id": m.ID, "kept_id": keep.ID, "dry_run": dryRun}).Debug("duplicate match")
		}
	}
	return res, nil
}

// Degenerate soft-deletes every live match in scope whose home and away
// are the same team. Must run inside the caller's transaction.
func (d *Deduplicator) Degenerate(ctx context.Context, ex db.Executor, batchID string, scope []string) ([]SoftDeletion, error) {
	return d.degenerate(ctx, ex, batchID, scope, false)
}

func (d *Deduplicator) degenerate(ctx context.Context, ex db.Executor, batchID string, scope []string, dryRun bool) ([]SoftDeletion, error) {
	matches, err := d.store.Matches.LiveDegenerate(ctx, ex, scope)
	if err != nil {
		return nil, err
	}
	var out []SoftDeletion
	for _, m := range matches {
		if !dryRun {
			if err := d.softDelete(ctx, ex, batchID, m, ReasonDegenerate); err != nil {
				return nil, err
			}
		}
		out = append(out, SoftDeletion{MatchID: m.ID, Reason: ReasonDegenerate, teams: []string{m.HomeTeamID}})
	}
	return out, nil
}

// SoftDelete writes the audit record then soft-deletes m.
func (d *Deduplicator) SoftDelete(ctx context.Context, ex db.Executor, batchID string, m *domain.Match, reason string) error {
	return d.softDelete(ctx, ex, batchID, m, reason)
}

func (d *Deduplicator) softDelete(ctx context.Context, ex db.Executor, batchID string, m *domain.Match, reason string) error {
	if err := d.audit.LogSoftDelete(ctx, ex, batchID, m, reason); err != nil {
		return err
	}
	if _, err := d.store.Matches.SoftDelete(ctx, ex, m.ID, reason); err != nil {
		return err
	}
	return nil
}

// Plan reports what Run would soft-delete without mutating anything.
func (d *Deduplicator) Plan(ctx context.Context) (*Result, error) {
	ex := d.store.DB()
	degenerate, err := d.degenerate(ctx, ex, "", nil, true)
	if err != nil {
		return nil, err
	}
	res, err := d.duplicates(ctx, ex, "", nil, true)
	if err != nil {
		return nil, err
	}
	res.Degenerate = degenerate
	return res, nil
}

// Run is the standalone repair pass over the whole match table. It holds
// the caller's lease for its single transaction.
func (d *Deduplicator) Run(ctx context.Context, l *lease.Lease) (*Result, error) {
	batchID := id.New()
	var res *Result
	err := d.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := d.gate.Verify(ctx, tx, l); err != nil {
			return err
		}
		degenerate, err := d.degenerate(ctx, tx, batchID, nil, false)
		if err != nil {
			return err
		}
		if res, err = d.duplicates(ctx, tx, batchID, nil, false); err != nil {
			return err
		}
		res.Degenerate = degenerate
		return d.store.Teams.RecomputeAggregates(ctx, tx, res.TouchedTeams())
	})
	if err != nil {
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"batch_id":   batchID,
		"groups":     res.Groups,
		"duplicates": len(res.Duplicates),
		"degenerate": len(res.Degenerate),
	}).Info("match deduplication complete")
	return res, nil
}

// TouchedTeams lists the teams whose live match set changed.
func (r *Result) TouchedTeams() []string {
	var out []string
	for _, s := range r.Duplicates {
		out = append(out, s.teams...)
	}
	for _, s := range r.Degenerate {
		out = append(out, s.teams...)
	}
	return out
}
