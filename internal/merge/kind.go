package merge

import (
	"context"
	"fmt"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// Reference is a column in another table holding an entity id.
type Reference struct {
	Table  string
	Column string
	// Cascades marks references removed with the entity row.
	Cascades bool
}

// Constraint is a unique index the executor relaxes for the length of a
// chunk transaction.
type Constraint struct {
	Name   string
	Create string
}

// EntityKind describes the table an executor merges rows of and the
// references and constraints that move with them.
type EntityKind interface {
	Name() string
	Table() string
	References() []Reference
	Constraints() []Constraint
}

// Teams is the canonical team kind.
var Teams EntityKind = teamKind{}

type teamKind struct{}

func (teamKind) Name() string  { return "team" }
func (teamKind) Table() string { return "teams" }

func (teamKind) References() []Reference {
	return []Reference{
		{Table: "matches", Column: "home_team_id"},
		{Table: "matches", Column: "away_team_id"},
		{Table: "source_entity_map", Column: "team_id"},
		{Table: "team_aliases", Column: "team_id", Cascades: true},
	}
}

func (teamKind) Constraints() []Constraint {
	return []Constraint{
		{
			Name: "ux_teams_identity",
			Create: `CREATE UNIQUE INDEX ux_teams_identity ON teams(canonical_name, birth_year, gender, region)
				WHERE birth_year IS NOT NULL AND gender IS NOT NULL AND region IS NOT NULL`,
		},
		{
			Name: "ux_matches_live_tuple",
			Create: `CREATE UNIQUE INDEX ux_matches_live_tuple ON matches(match_date, home_team_id, away_team_id)
				WHERE deleted_at IS NULL`,
		},
	}
}

// relax drops the kind's unique indexes inside tx.
func relax(ctx context.Context, ex db.Executor, kind EntityKind) error {
	for _, c := range kind.Constraints() {
		if _, err := ex.ExecContext(ctx, "DROP INDEX IF EXISTS "+c.Name); err != nil {
			return fmt.Errorf("failed to relax %s: %w", c.Name, err)
		}
	}
	return nil
}

// restore rebuilds the kind's unique indexes. A failure means duplicates
// survived the chunk; the caller rolls back.
func restore(ctx context.Context, ex db.Executor, kind EntityKind) error {
	for _, c := range kind.Constraints() {
		if _, err := ex.ExecContext(ctx, c.Create); err != nil {
			return &domain.ConstraintRestoreError{Constraint: c.Name, Err: err}
		}
	}
	return nil
}

// danglingReferences counts non-cascading references to ids.
func danglingReferences(ctx context.Context, ex db.Executor, kind EntityKind, ids []string) (map[string]int, error) {
	out := make(map[string]int)
	if len(ids) == 0 {
		return out, nil
	}
	for _, ref := range kind.References() {
		if ref.Cascades {
			continue
		}
		var n int
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IN (%s)", ref.Table, ref.Column, db.Placeholders(len(ids)))
		if err := ex.QueryRowContext(ctx, q, db.Args(ids)...).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s.%s references: %w", ref.Table, ref.Column, err)
		}
		if n > 0 {
			out[ref.Table+"."+ref.Column] = n
		}
	}
	return out, nil
}
