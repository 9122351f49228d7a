package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MGMAppDev/soccerview-sub003/internal/bulk"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/lease"
	"github.com/MGMAppDev/soccerview-sub003/internal/logging"
	"github.com/MGMAppDev/soccerview-sub003/internal/registry"
)

// Resolver is the registry entry point observations go through.
type Resolver interface {
	Resolve(ctx context.Context, l *lease.Lease, obs domain.TeamObservation) (*registry.Resolution, error)
	IngestMatch(ctx context.Context, l *lease.Lease, obs domain.MatchObservation) (*registry.MatchResult, error)
}

// Options configures a Runner.
type Options struct {
	ContinueOnError bool
	ShowProgress    bool
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

// Runner applies observation documents to the registry, one observation
// at a time, in document order: teams first, then matches.
type Runner struct {
	resolver Resolver
	opts     Options
	log      logrus.FieldLogger
}

// NewRunner creates a Runner.
func NewRunner(r Resolver, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{resolver: r, opts: opts, log: logging.OrDiscard(opts.Logger)}
}

// Summary counts the outcome of every applied observation.
type Summary struct {
	Documents int                           `json:"documents"`
	Teams     map[registry.Outcome]int      `json:"teams"`
	Matches   map[registry.MatchOutcome]int `json:"matches"`
	Filled    int                           `json:"fields_filled"`
	Deferred  int                           `json:"fields_deferred"`
	Result    *bulk.Result                  `json:"result"`
}

type item struct {
	label string
	team  *domain.TeamObservation
	match *domain.MatchObservation
}

// Run converts every document and applies its observations under l.
// Conversion errors abort before anything is written.
func (ru *Runner) Run(ctx context.Context, l *lease.Lease, docs []*Document) (*Summary, error) {
	now := ru.opts.Now().UTC()
	var items []item
	for _, doc := range docs {
		teams, matches, err := doc.Observations(now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", doc.Name, err)
		}
		for i := range teams {
			t := teams[i]
			items = append(items, item{
				label: fmt.Sprintf("%s teams[%d] %s:%s", doc.Name, i, t.SourceID, t.SourceEntityID),
				team:  &t,
			})
		}
		for i := range matches {
			m := matches[i]
			items = append(items, item{
				label: fmt.Sprintf("%s matches[%d] %s:%s", doc.Name, i, m.SourceID, m.SourceMatchKey),
				match: &m,
			})
		}
	}

	sum := &Summary{
		Documents: len(docs),
		Teams:     map[registry.Outcome]int{},
		Matches:   map[registry.MatchOutcome]int{},
	}
	op := bulk.Operation{ContinueOnError: ru.opts.ContinueOnError, ShowProgress: ru.opts.ShowProgress}
	res, err := bulk.Run(ctx, op, items, func(it item) string { return it.label }, func(ctx context.Context, it item) error {
		if it.team != nil {
			r, err := ru.resolver.Resolve(ctx, l, *it.team)
			if err != nil {
				return err
			}
			sum.Teams[r.Outcome]++
			sum.Filled += len(r.Filled)
			sum.Deferred += len(r.Deferred)
			return nil
		}
		r, err := ru.resolver.IngestMatch(ctx, l, *it.match)
		if err != nil {
			return err
		}
		sum.Matches[r.Outcome]++
		return nil
	})
	sum.Result = res

	ru.log.WithFields(logrus.Fields{
		"documents": sum.Documents,
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
	}).Info("ingest finished")
	return sum, err
}
