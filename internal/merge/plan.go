package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/detect"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
)

// Plan is the preview of a merge batch. Its counts come from running the
// batch in a transaction that is rolled back.
type Plan struct {
	Groups            []domain.Group     `json:"groups"`
	TeamsToMerge      int                `json:"teams_to_merge"`
	SecondaryMerges   int                `json:"secondary_merges"`
	Passes            int                `json:"passes"`
	MatchesToMigrate  int                `json:"matches_to_migrate"`
	DuplicateMatches  int                `json:"duplicate_matches"`
	DegenerateMatches int                `json:"degenerate_matches"`
	Chunks            int                `json:"chunks"`
	Skipped           int                `json:"skipped"`
	Rejected          []Rejection        `json:"rejected,omitempty"`
	Ambiguous         []detect.Ambiguous `json:"ambiguous,omitempty"`
	Samples           []domain.Pair      `json:"samples"`
	Errors            []string           `json:"errors,omitempty"`
}

func (p *Plan) add(s *chunkStats, sampleSize int) {
	p.Groups = append(p.Groups, s.groups...)
	p.TeamsToMerge += s.merged
	p.SecondaryMerges += s.secondary
	p.MatchesToMigrate += s.migrated
	p.DuplicateMatches += s.duplicates
	p.DegenerateMatches += s.degenerate
	p.Skipped += s.skipped
	if s.passes > p.Passes {
		p.Passes = s.passes
	}
	p.Rejected = append(p.Rejected, s.rejected...)
	for _, pair := range s.pairs {
		if len(p.Samples) < sampleSize {
			p.Samples = append(p.Samples, pair)
		}
	}
}

var errPlanRollback = errors.New("plan rollback")

// Plan reports what Execute would do with pairs. Every chunk runs through
// the same pipeline as Execute inside one transaction that is always
// rolled back, so secondary merges and match repairs are counted. A chunk
// that would fail is recorded in Errors and ends the plan, as it would end
// the batch.
func (e *Executor) Plan(ctx context.Context, pairs []domain.Pair) (*Plan, error) {
	groups, rejected := GroupPairs(pairs)
	index := pairIndex(pairs)
	chunks := chunkGroups(groups, e.opts.ChunkSize)
	plan := &Plan{
		Groups:   []domain.Group{},
		Chunks:   len(chunks),
		Rejected: rejected,
		Samples:  []domain.Pair{},
	}

	batchID := id.New()
	err := e.store.WithTx(ctx, func(tx *db.Tx) error {
		for i, chunk := range chunks {
			stats := &chunkStats{}
			rule := "begin"
			if err := e.apply(ctx, tx, batchID, chunk, index, stats, &rule); err != nil {
				if !wouldFailBatch(err) {
					return err
				}
				plan.Errors = append(plan.Errors, fmt.Sprintf("chunk %d: %s: %v", i+1, rule, err))
				return errPlanRollback
			}
			plan.add(stats, e.opts.SampleSize)
		}
		return errPlanRollback
	})
	if err != nil && !errors.Is(err, errPlanRollback) {
		return nil, err
	}
	return plan, nil
}

// wouldFailBatch reports whether err is a merge-rule failure Execute would
// roll a chunk back for, as opposed to a storage or context error.
func wouldFailBatch(err error) bool {
	var restoreErr *domain.ConstraintRestoreError
	return errors.Is(err, domain.ErrNonConvergent) || errors.As(err, &restoreErr)
}
