// Package snapshot exports the registry as deterministic canonical JSON for
// downstream consumers (rankings, predictions, standings). The revision is
// the sha256 of the canonical bytes, so two exports of the same registry
// state carry the same revision.
package snapshot

// SchemaVersion is bumped whenever the snapshot shape changes.
const SchemaVersion = 1

// Snapshot is the canonical state of the registry. Map keys are ids, so
// encoding/json emits them sorted.
type Snapshot struct {
	Meta     Meta                  `json:"meta"`
	Teams    map[string]TeamEntry  `json:"teams"`
	Mappings map[string]string     `json:"mappings"`
	Matches  map[string]MatchEntry `json:"matches"`
}

// Meta contains snapshot metadata.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	SnapshotRev   string `json:"snapshot_rev,omitempty"`
	GeneratedAt   string `json:"generated_at,omitempty"`
}

// TeamEntry is one canonical team.
type TeamEntry struct {
	CanonicalName string   `json:"canonical_name"`
	DisplayName   string   `json:"display_name"`
	BirthYear     *int     `json:"birth_year,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	Region        string   `json:"region,omitempty"`
	MatchesPlayed int      `json:"matches_played"`
	Wins          int      `json:"wins"`
	Losses        int      `json:"losses"`
	Draws         int      `json:"draws"`
	Aliases       []string `json:"aliases,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

// MatchEntry is one live match.
type MatchEntry struct {
	SourceID       string `json:"source_id"`
	SourceMatchKey string `json:"source_match_key"`
	Date           string `json:"date"`
	HomeTeamID     string `json:"home_team_id"`
	AwayTeamID     string `json:"away_team_id"`
	HomeScore      *int   `json:"home_score,omitempty"`
	AwayScore      *int   `json:"away_score,omitempty"`
	Legacy         bool   `json:"legacy,omitempty"`
}

// ExportResult describes a written snapshot.
type ExportResult struct {
	OutputPath   string `json:"output_path,omitempty"`
	SnapshotRev  string `json:"snapshot_rev"`
	TeamCount    int    `json:"teams"`
	MappingCount int    `json:"mappings"`
	MatchCount   int    `json:"matches"`
}
