package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/db"
	"github.com/MGMAppDev/soccerview-sub003/internal/store"
)

// ExportOptions configures Export.
type ExportOptions struct {
	// OutputPath receives the snapshot; empty skips writing.
	OutputPath string
	Now        func() time.Time
}

// Build reads the registry into a snapshot with its revision set.
func Build(ctx context.Context, s *store.Store, ex db.Executor, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Meta:     Meta{SchemaVersion: SchemaVersion},
		Teams:    map[string]TeamEntry{},
		Mappings: map[string]string{},
		Matches:  map[string]MatchEntry{},
	}

	teams, err := s.Teams.All(ctx, ex)
	if err != nil {
		return nil, err
	}
	aliases, err := loadAliases(ctx, ex)
	if err != nil {
		return nil, err
	}
	for _, t := range teams {
		e := TeamEntry{
			CanonicalName: t.CanonicalName,
			DisplayName:   t.DisplayName,
			BirthYear:     t.BirthYear,
			MatchesPlayed: t.MatchesPlayed,
			Wins:          t.Wins,
			Losses:        t.Losses,
			Draws:         t.Draws,
			Aliases:       aliases[t.ID],
			CreatedAt:     db.FormatTime(t.CreatedAt),
		}
		if t.Gender != nil {
			e.Gender = *t.Gender
		}
		if t.Region != nil {
			e.Region = *t.Region
		}
		snap.Teams[t.ID] = e
	}

	rows, err := ex.QueryContext(ctx, `SELECT source_id, source_entity_id, team_id FROM source_entity_map`)
	if err != nil {
		return nil, fmt.Errorf("failed to read source map: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source, entity, teamID string
		if err := rows.Scan(&source, &entity, &teamID); err != nil {
			return nil, fmt.Errorf("failed to scan source mapping: %w", err)
		}
		snap.Mappings[source+":"+entity] = teamID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	matches, err := s.Matches.Live(ctx, ex)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		snap.Matches[m.ID] = MatchEntry{
			SourceID:       m.SourceID,
			SourceMatchKey: m.SourceMatchKey,
			Date:           m.Date,
			HomeTeamID:     m.HomeTeamID,
			AwayTeamID:     m.AwayTeamID,
			HomeScore:      m.HomeScore,
			AwayScore:      m.AwayScore,
			Legacy:         m.Legacy,
		}
	}

	rev, err := ComputeSnapshotRev(snap)
	if err != nil {
		return nil, err
	}
	snap.Meta.SnapshotRev = rev
	snap.Meta.GeneratedAt = now.UTC().Format(time.RFC3339)
	return snap, nil
}

func loadAliases(ctx context.Context, ex db.Executor) (map[string][]string, error) {
	rows, err := ex.QueryContext(ctx, `SELECT team_id, alias FROM team_aliases`)
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases: %w", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var teamID, alias string
		if err := rows.Scan(&teamID, &alias); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out[teamID] = append(out[teamID], alias)
	}
	for _, list := range out {
		sort.Strings(list)
	}
	return out, rows.Err()
}

// Export builds a snapshot and, when OutputPath is set, writes its
// canonical encoding there.
func Export(ctx context.Context, s *store.Store, opts ExportOptions) (*ExportResult, []byte, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	snap, err := Build(ctx, s, s.DB(), opts.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build snapshot: %w", err)
	}
	data, err := CanonicalJSON(snap)
	if err != nil {
		return nil, nil, err
	}

	if opts.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(opts.OutputPath, data, 0644); err != nil {
			return nil, nil, fmt.Errorf("failed to write snapshot: %w", err)
		}
	}

	return &ExportResult{
		OutputPath:   opts.OutputPath,
		SnapshotRev:  snap.Meta.SnapshotRev,
		TeamCount:    len(snap.Teams),
		MappingCount: len(snap.Mappings),
		MatchCount:   len(snap.Matches),
	}, data, nil
}
