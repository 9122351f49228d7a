package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// MappingStore handles the source entity map.
type MappingStore struct {
	store *Store
}

const mappingColumns = `source_id, source_entity_id, team_id, created_at, updated_at`

func scanMapping(row rowScanner) (*domain.SourceMapping, error) {
	var m domain.SourceMapping
	var created, updated string
	if err := row.Scan(&m.SourceID, &m.SourceEntityID, &m.TeamID, &created, &updated); err != nil {
		return nil, err
	}
	m.CreatedAt = parseStamp(created)
	m.UpdatedAt = parseStamp(updated)
	return &m, nil
}

// Get returns the mapping for a source key, or ok=false when absent.
func (ms *MappingStore) Get(ctx context.Context, ex db.Executor, sourceID, entityID string) (*domain.SourceMapping, bool, error) {
	row := ex.QueryRowContext(ctx, "SELECT "+mappingColumns+" FROM source_entity_map WHERE source_id = ? AND source_entity_id = ?",
		sourceID, entityID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load mapping %s/%s: %w", sourceID, entityID, err)
	}
	return m, true, nil
}

// Insert attaches a source key to a team.
func (ms *MappingStore) Insert(ctx context.Context, ex db.Executor, sourceID, entityID, teamID string) error {
	stamp := ms.store.stamp()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO source_entity_map (source_id, source_entity_id, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, sourceID, entityID, teamID, stamp, stamp)
	if err != nil {
		return writeErr(ex, err, "failed to map %s/%s to %s", sourceID, entityID, teamID)
	}
	return nil
}

// ForTeams lists every mapping targeting one of ids.
func (ms *MappingStore) ForTeams(ctx context.Context, ex db.Executor, ids []string) ([]domain.SourceMapping, error) {
	clause, args := inClause("team_id", ids)
	return ms.list(ctx, ex, clause, args...)
}

// Dangling lists mappings whose team no longer exists.
func (ms *MappingStore) Dangling(ctx context.Context, ex db.Executor) ([]domain.SourceMapping, error) {
	return ms.list(ctx, ex, "team_id NOT IN (SELECT id FROM teams)")
}

func (ms *MappingStore) list(ctx context.Context, ex db.Executor, where string, args ...any) ([]domain.SourceMapping, error) {
	rows, err := ex.QueryContext(ctx, "SELECT "+mappingColumns+" FROM source_entity_map WHERE "+where+
		" ORDER BY source_id, source_entity_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()
	var out []domain.SourceMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Redirect repoints every mapping targeting from at to.
func (ms *MappingStore) Redirect(ctx context.Context, ex db.Executor, from []string, to string) (int64, error) {
	clause, args := inClause("team_id", from)
	res, err := ex.ExecContext(ctx, "UPDATE source_entity_map SET team_id = ?, updated_at = ? WHERE "+clause,
		append([]any{to, ms.store.stamp()}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to redirect mappings to %s: %w", to, err)
	}
	return res.RowsAffected()
}
