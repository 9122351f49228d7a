// Package selectors resolves the team selectors operators and API clients
// pass: a team id, src:<source>:<entity>, or name:<team name>.
package selectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/MGMAppDev/soccerview-sub003/internal/audit"
	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
	"github.com/MGMAppDev/soccerview-sub003/internal/id"
	"github.com/MGMAppDev/soccerview-sub003/internal/names"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// Type represents the kind of selector
type Type string

const (
	TypeID     Type = "id"
	TypeSource Type = "src"
	TypeName   Type = "name"
)

// Selector represents a parsed selector
type Selector struct {
	Type     Type
	Token    string
	SourceID string // TypeSource only
}

// Parse parses a selector string. Unprefixed selectors are team ids.
func Parse(selector string) (Selector, error) {
	selector = strings.TrimSpace(selector)
	switch {
	case strings.HasPrefix(selector, "src:"):
		rest := strings.TrimPrefix(selector, "src:")
		source, entity, ok := strings.Cut(rest, ":")
		if !ok || source == "" || entity == "" {
			return Selector{}, fmt.Errorf("invalid source selector %q (expected src:<source>:<entity>)", selector)
		}
		return Selector{Type: TypeSource, SourceID: source, Token: entity}, nil
	case strings.HasPrefix(selector, "name:"):
		name := strings.TrimSpace(strings.TrimPrefix(selector, "name:"))
		if names.Normalize(name) == "" {
			return Selector{}, fmt.Errorf("invalid name selector %q", selector)
		}
		return Selector{Type: TypeName, Token: name}, nil
	}
	parsed, err := id.Parse(selector)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid team selector: %w", err)
	}
	return Selector{Type: TypeID, Token: parsed}, nil
}

// Resolved is a selector resolved to a live team.
type Resolved struct {
	TeamID string `json:"team_id"`
	// MergedFrom is set when the selector named a team that was merged
	// away; TeamID is then the surviving team.
	MergedFrom string `json:"merged_from,omitempty"`
}

// Resolve resolves selector to a live team id, following merge redirects.
func Resolve(ctx context.Context, s *store.Store, ex db.Executor, selector string) (*Resolved, error) {
	sel, err := Parse(selector)
	if err != nil {
		return nil, err
	}

	switch sel.Type {
	case TypeSource:
		m, ok, err := s.Mappings.Get(ctx, ex, sel.SourceID, sel.Token)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &domain.NotFoundError{Resource: "source mapping", ID: sel.SourceID + ":" + sel.Token}
		}
		exists, err := s.Teams.Exists(ctx, ex, m.TeamID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &domain.SourceMapIntegrityError{SourceID: sel.SourceID, SourceEntityID: sel.Token, TeamID: m.TeamID}
		}
		return &Resolved{TeamID: m.TeamID}, nil

	case TypeName:
		teams, err := s.Teams.ByCanonicalName(ctx, ex, names.Normalize(sel.Token))
		if err != nil {
			return nil, err
		}
		switch len(teams) {
		case 0:
			return nil, &domain.NotFoundError{Resource: "team", ID: sel.Token}
		case 1:
			return &Resolved{TeamID: teams[0].ID}, nil
		}
		ids := make([]string, len(teams))
		for i, t := range teams {
			ids[i] = id.Short(t.ID)
		}
		return nil, fmt.Errorf("name %q is ambiguous: %d teams (%s)", sel.Token, len(teams), strings.Join(ids, ", "))
	}

	exists, err := s.Teams.Exists(ctx, ex, sel.Token)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Resolved{TeamID: sel.Token}, nil
	}
	survivor, err := audit.Follow(ctx, ex, sel.Token)
	if err != nil {
		return nil, err
	}
	if survivor != sel.Token {
		exists, err := s.Teams.Exists(ctx, ex, survivor)
		if err != nil {
			return nil, err
		}
		if exists {
			return &Resolved{TeamID: survivor, MergedFrom: sel.Token}, nil
		}
	}
	return nil, &domain.NotFoundError{Resource: "team", ID: sel.Token}
}
