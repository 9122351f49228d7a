package merge

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// Rejection is a requested pair the executor refused to merge.
type Rejection struct {
	Pair   domain.Pair `json:"pair"`
	Reason string      `json:"reason"`
}

// ParsePair parses a "keep:merge" override.
func ParsePair(s string) (domain.Pair, error) {
	keep, merge, ok := strings.Cut(strings.TrimSpace(s), ":")
	keep, merge = strings.TrimSpace(keep), strings.TrimSpace(merge)
	if !ok || keep == "" || merge == "" {
		return domain.Pair{}, fmt.Errorf("invalid pair %q: expected keep:merge", s)
	}
	return domain.Pair{KeepID: keep, MergeID: merge, Reason: "manual"}, nil
}

type pairFile struct {
	Pairs []domain.Pair `yaml:"pairs"`
}

// LoadPairs reads manual pairs from a YAML (or JSON) file holding either a
// list of {keep, merge} entries or a document with a "pairs" key.
func LoadPairs(path string) ([]domain.Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pairs file: %w", err)
	}
	var pairs []domain.Pair
	if err := yaml.Unmarshal(data, &pairs); err != nil {
		var doc pairFile
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("failed to parse pairs file %s: %w", path, err)
		}
		pairs = doc.Pairs
	}
	for i := range pairs {
		if pairs[i].KeepID == "" || pairs[i].MergeID == "" {
			return nil, fmt.Errorf("pairs file %s: entry %d needs keep and merge", path, i+1)
		}
		if pairs[i].Reason == "" {
			pairs[i].Reason = "manual"
		}
	}
	return pairs, nil
}

// GroupPairs collapses pairs into groups with one keep each. A chain
// (a<-b, b<-c) resolves to its final keep. Self pairs, merge ids listed
// under two keeps and cycles are rejected.
func GroupPairs(pairs []domain.Pair) ([]domain.Group, []Rejection) {
	var rejected []Rejection
	keepOf := make(map[string]string)
	reasons := make(map[string]string)
	var order []string
	for _, p := range pairs {
		switch {
		case p.KeepID == p.MergeID:
			rejected = append(rejected, Rejection{Pair: p, Reason: "cannot merge a team into itself"})
			continue
		case keepOf[p.MergeID] == p.KeepID:
			continue
		case keepOf[p.MergeID] != "":
			rejected = append(rejected, Rejection{Pair: p, Reason: fmt.Sprintf("merge id already paired with keep %s", keepOf[p.MergeID])})
			continue
		}
		keepOf[p.MergeID] = p.KeepID
		reasons[p.MergeID] = p.Reason
		order = append(order, p.MergeID)
	}

	root := func(merge string) (string, bool) {
		seen := map[string]bool{merge: true}
		cur := keepOf[merge]
		for {
			next, ok := keepOf[cur]
			if !ok {
				return cur, true
			}
			if seen[cur] {
				return "", false
			}
			seen[cur] = true
			cur = next
		}
	}

	byKeep := make(map[string][]string)
	for _, merge := range order {
		keep, ok := root(merge)
		if !ok {
			rejected = append(rejected, Rejection{
				Pair:   domain.Pair{KeepID: keepOf[merge], MergeID: merge, Reason: reasons[merge]},
				Reason: "pairs form a cycle",
			})
			continue
		}
		byKeep[keep] = append(byKeep[keep], merge)
	}

	groups := make([]domain.Group, 0, len(byKeep))
	for keep, merges := range byKeep {
		sort.Strings(merges)
		groups = append(groups, domain.Group{KeepID: keep, MergeIDs: merges})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].KeepID < groups[j].KeepID })
	return groups, rejected
}

// chunkGroups splits groups into slices of at most size groups.
func chunkGroups(groups []domain.Group, size int) [][]domain.Group {
	if size <= 0 {
		size = len(groups)
	}
	var out [][]domain.Group
	for start := 0; start < len(groups); start += size {
		end := start + size
		if end > len(groups) {
			end = len(groups)
		}
		out = append(out, groups[start:end])
	}
	return out
}
