// Package detect finds canonical teams that describe the same real-world
// team at different enrichment levels.
//
// Detection is pure: the same team set always yields the same groups and
// pairs, in the same order.
package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/names"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// Ambiguous is a team compatible with more than one cluster. It is left
// alone rather than guessed into one of them.
type Ambiguous struct {
	TeamID   string   `json:"team_id"`
	Clusters []string `json:"clusters"`
}

// Result is the output of one detection pass.
type Result struct {
	Scanned   int            `json:"scanned"`
	Groups    []domain.Group `json:"groups"`
	Pairs     []domain.Pair  `json:"pairs"`
	Ambiguous []Ambiguous    `json:"ambiguous,omitempty"`
}

// MergeCount is the number of teams the groups would remove.
func (r *Result) MergeCount() int {
	return len(r.Pairs)
}

// Qualifies reports whether a and b form a candidate duplicate pair: same
// normalized name, compatible identity, asymmetric completeness and some
// recorded match activity.
func Qualifies(a, b *domain.Team) bool {
	if names.Normalize(a.CanonicalName) != names.Normalize(b.CanonicalName) {
		return false
	}
	ia, ib := a.Identity(), b.Identity()
	if !domain.Compatible(ia, ib) || !domain.Asymmetric(ia, ib) {
		return false
	}
	return a.Activity() > 0 || b.Activity() > 0
}

// Detect groups duplicate teams. Members of a connected set of qualifying
// pairs are assigned to clusters in rank order, so a chain of duplicates
// collapses into a single keep id.
func Detect(teams []*domain.Team) *Result {
	res := &Result{Scanned: len(teams), Groups: []domain.Group{}, Pairs: []domain.Pair{}}

	buckets := make(map[string][]*domain.Team)
	for _, t := range teams {
		key := names.Normalize(t.CanonicalName)
		buckets[key] = append(buckets[key], t)
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		bucket := buckets[k]
		if len(bucket) < 2 {
			continue
		}
		for _, component := range components(bucket) {
			groups, ambiguous := cluster(component)
			res.Groups = append(res.Groups, groups...)
			res.Ambiguous = append(res.Ambiguous, ambiguous...)
		}
	}

	sort.Slice(res.Groups, func(i, j int) bool { return res.Groups[i].KeepID < res.Groups[j].KeepID })
	sort.Slice(res.Ambiguous, func(i, j int) bool { return res.Ambiguous[i].TeamID < res.Ambiguous[j].TeamID })

	byID := make(map[string]*domain.Team, len(teams))
	for _, t := range teams {
		byID[t.ID] = t
	}
	for _, g := range res.Groups {
		keep := byID[g.KeepID]
		for _, p := range g.Pairs() {
			p.Reason = reason(keep, byID[p.MergeID])
			p.Detected = true
			res.Pairs = append(res.Pairs, p)
		}
	}
	return res
}

// components partitions a same-name bucket by union-find over qualifying pairs.
// Singletons are dropped.
func components(bucket []*domain.Team) [][]*domain.Team {
	parent := make([]int, len(bucket))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := 0; i < len(bucket); i++ {
		for j := i + 1; j < len(bucket); j++ {
			if Qualifies(bucket[i], bucket[j]) {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	sets := make(map[int][]*domain.Team)
	var roots []int
	for i, t := range bucket {
		r := find(i)
		if _, ok := sets[r]; !ok {
			roots = append(roots, r)
		}
		sets[r] = append(sets[r], t)
	}
	var out [][]*domain.Team
	for _, r := range roots {
		if len(sets[r]) > 1 {
			out = append(out, sets[r])
		}
	}
	return out
}

// Cluster is a keep record and the coalesced identity of the members it
// has absorbed so far.
type Cluster struct {
	Keep     *domain.Team
	Identity domain.Identity
	Active   bool
	Members  []string
}

// NewCluster starts a cluster kept by keep.
func NewCluster(keep *domain.Team) *Cluster {
	return &Cluster{Keep: keep, Identity: keep.Identity(), Active: keep.Activity() > 0}
}

// Accepts reports whether t qualifies as a duplicate of the cluster as it
// stands: same normalized name, compatible with and asymmetric to the
// coalesced identity, and some activity on either side. Members must be
// offered in rank order for the answer to match Detect.
func (c *Cluster) Accepts(t *domain.Team) bool {
	if names.Normalize(c.Keep.CanonicalName) != names.Normalize(t.CanonicalName) {
		return false
	}
	id := t.Identity()
	if !domain.Compatible(c.Identity, id) || !domain.Asymmetric(c.Identity, id) {
		return false
	}
	return c.Active || t.Activity() > 0
}

// Add folds t into the cluster.
func (c *Cluster) Add(t *domain.Team) {
	c.Identity = domain.Coalesce(c.Identity, t.Identity())
	c.Active = c.Active || t.Activity() > 0
	c.Members = append(c.Members, t.ID)
}

// cluster assigns the members of one component to keep records. Members are
// visited best-first; each joins the single cluster that accepts it, starts
// a new one when none does, and is reported ambiguous when several do.
func cluster(component []*domain.Team) ([]domain.Group, []Ambiguous) {
	members := append([]*domain.Team(nil), component...)
	sort.Slice(members, func(i, j int) bool { return domain.Outranks(members[i], members[j]) })

	var clusters []*Cluster
	var ambiguous []Ambiguous
	for _, t := range members {
		var fits []*Cluster
		for _, c := range clusters {
			if c.Accepts(t) {
				fits = append(fits, c)
			}
		}
		switch len(fits) {
		case 0:
			clusters = append(clusters, NewCluster(t))
		case 1:
			fits[0].Add(t)
		default:
			a := Ambiguous{TeamID: t.ID}
			for _, c := range fits {
				a.Clusters = append(a.Clusters, c.Keep.ID)
			}
			sort.Strings(a.Clusters)
			ambiguous = append(ambiguous, a)
		}
	}

	var groups []domain.Group
	for _, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		merge := append([]string(nil), c.Members...)
		sort.Strings(merge)
		groups = append(groups, domain.Group{KeepID: c.Keep.ID, MergeIDs: merge})
	}
	return groups, ambiguous
}

func reason(keep, merge *domain.Team) string {
	ki, mi := keep.Identity(), merge.Identity()
	var fills []string
	if !ki.BirthYearKnown() && mi.BirthYearKnown() {
		fills = append(fills, "birth_year")
	}
	if !ki.GenderKnown() && mi.GenderKnown() {
		fills = append(fills, "gender")
	}
	if !ki.RegionKnown() && mi.RegionKnown() {
		fills = append(fills, "region")
	}
	r := fmt.Sprintf("same name, completeness %d vs %d", ki.CompletenessScore(), mi.CompletenessScore())
	if len(fills) > 0 {
		r += ", fills " + strings.Join(fills, ",")
	}
	return r
}

const pageSize = 500

// Scan loads every team from the store page by page and runs Detect.
func Scan(ctx context.Context, s *store.Store, ex db.Executor) (*Result, error) {
	var teams []*domain.Team
	var afterCreated, afterID string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.Teams.Page(ctx, ex, afterCreated, afterID, pageSize)
		if err != nil {
			return nil, err
		}
		teams = append(teams, page...)
		if len(page) < pageSize {
			break
		}
		last := page[len(page)-1]
		afterCreated, afterID = db.FormatTime(last.CreatedAt), last.ID
	}
	return Detect(teams), nil
}
