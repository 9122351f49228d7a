package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
)

type teamView struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	BirthYear   *int     `yaml:"birth_year"`
	Gender      *string  `yaml:"gender"`
	Region      *string  `yaml:"region"`
	Aliases     []string `yaml:"aliases"`
}

func viewOf(t *domain.Team, aliases []string) teamView {
	sorted := append([]string(nil), aliases...)
	sort.Strings(sorted)
	return teamView{
		ID:          t.ID,
		DisplayName: t.DisplayName,
		BirthYear:   t.BirthYear,
		Gender:      t.Gender,
		Region:      t.Region,
		Aliases:     sorted,
	}
}

// Diff renders a unified diff of g's keep record before and after the
// merge's metadata transfer. Nothing is written.
func (e *Executor) Diff(ctx context.Context, g domain.Group) (string, error) {
	teams, err := e.store.Teams.GetMany(ctx, e.store.DB(), append([]string{g.KeepID}, g.MergeIDs...))
	if err != nil {
		return "", err
	}
	keep := teams[g.KeepID]
	if keep == nil {
		return "", &domain.NotFoundError{Resource: "team", ID: g.KeepID}
	}

	before := viewOf(keep, keep.Aliases)

	after := *keep
	aliases := map[string]bool{keep.DisplayName: true}
	for _, a := range keep.Aliases {
		aliases[a] = true
	}
	for _, mid := range g.MergeIDs {
		m := teams[mid]
		if m == nil {
			continue
		}
		absorb(&after, m)
		aliases[m.DisplayName] = true
		for _, a := range m.Aliases {
			aliases[a] = true
		}
	}
	merged := make([]string, 0, len(aliases))
	for a := range aliases {
		merged = append(merged, a)
	}

	a, err := yaml.Marshal(before)
	if err != nil {
		return "", err
	}
	b, err := yaml.Marshal(viewOf(&after, merged))
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: fmt.Sprintf("team %s", id.Short(keep.ID)),
		ToFile:   fmt.Sprintf("team %s after merge", id.Short(keep.ID)),
		Context:  3,
	})
}
