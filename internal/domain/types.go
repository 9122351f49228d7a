package domain

import (
	"encoding/json"
	"time"
)

// TeamState is the lifecycle state of a canonical team.
type TeamState string

const (
	TeamStateProvisional TeamState = "provisional"
	TeamStateResolved    TeamState = "resolved"
	TeamStateMerged      TeamState = "merged"
)

const (
	GenderBoys  = "Boys"
	GenderGirls = "Girls"
)

// Team is the single authoritative record for one real-world team.
type Team struct {
	ID            string    `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	DisplayName   string    `json:"display_name"`
	BirthYear     *int      `json:"birth_year,omitempty"`
	Gender        *string   `json:"gender,omitempty"`
	Region        *string   `json:"region,omitempty"`
	MatchesPlayed int       `json:"matches_played"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	Aliases       []string  `json:"aliases,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// LiveMatches is the number of live matches referencing the team.
	// Loaded on demand, never persisted.
	LiveMatches int `json:"live_matches,omitempty"`
}

// Identity returns the team's identity tuple.
func (t *Team) Identity() Identity {
	return Identity{Name: t.CanonicalName, BirthYear: t.BirthYear, Gender: t.Gender, Region: t.Region}
}

// State reports Provisional or Resolved. Merged teams no longer exist as
// rows; callers derive that state from the audit log.
func (t *Team) State() TeamState {
	if t.Identity().FullySpecified() {
		return TeamStateResolved
	}
	return TeamStateProvisional
}

// Activity is the larger of the cached match count and the live match references.
func (t *Team) Activity() int {
	if t.LiveMatches > t.MatchesPlayed {
		return t.LiveMatches
	}
	return t.MatchesPlayed
}

// TeamObservation is one source's view of a team at a point in time.
type TeamObservation struct {
	SourceID       string    `json:"source_id" yaml:"source_id"`
	SourceEntityID string    `json:"source_entity_id" yaml:"source_entity_id"`
	DisplayName    string    `json:"display_name" yaml:"display_name"`
	BirthYear      *int      `json:"birth_year,omitempty" yaml:"birth_year,omitempty"`
	Gender         *string   `json:"gender,omitempty" yaml:"gender,omitempty"`
	Region         *string   `json:"region,omitempty" yaml:"region,omitempty"`
	MatchesPlayed  int       `json:"matches_played,omitempty" yaml:"matches_played,omitempty"`
	Wins           int       `json:"wins,omitempty" yaml:"wins,omitempty"`
	Losses         int       `json:"losses,omitempty" yaml:"losses,omitempty"`
	Draws          int       `json:"draws,omitempty" yaml:"draws,omitempty"`
	ObservedAt     time.Time `json:"observed_at" yaml:"observed_at"`
}

// MatchObservation is one source's report of a played or scheduled match.
// Both sides carry enough of a team observation to resolve them.
type MatchObservation struct {
	SourceID       string          `json:"source_id" yaml:"source_id"`
	SourceMatchKey string          `json:"source_match_key" yaml:"source_match_key"`
	Date           string          `json:"date" yaml:"date"`
	Home           TeamObservation `json:"home" yaml:"home"`
	Away           TeamObservation `json:"away" yaml:"away"`
	HomeScore      *int            `json:"home_score,omitempty" yaml:"home_score,omitempty"`
	AwayScore      *int            `json:"away_score,omitempty" yaml:"away_score,omitempty"`
	ObservedAt     time.Time       `json:"observed_at" yaml:"observed_at"`
}

// SourceMapping translates a source-specific identifier to a canonical team.
type SourceMapping struct {
	SourceID       string    `json:"source_id"`
	SourceEntityID string    `json:"source_entity_id"`
	TeamID         string    `json:"team_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Match is a game between two canonical teams.
type Match struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	SourceMatchKey string     `json:"source_match_key"`
	Date           string     `json:"date"`
	HomeTeamID     string     `json:"home_team_id"`
	AwayTeamID     string     `json:"away_team_id"`
	HomeScore      *int       `json:"home_score,omitempty"`
	AwayScore      *int       `json:"away_score,omitempty"`
	Legacy         bool       `json:"legacy"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedReason  *string    `json:"deleted_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Live reports whether the match is not soft-deleted.
func (m *Match) Live() bool {
	return m.DeletedAt == nil
}

// AuditAction is the kind of mutation an audit record describes.
type AuditAction string

const (
	AuditActionMerge      AuditAction = "MERGE"
	AuditActionSoftDelete AuditAction = "SOFT_DELETE"
	AuditActionRepoint    AuditAction = "REPOINT"
	AuditActionRedirect   AuditAction = "REDIRECT"
)

// AuditRecord is one immutable entry in the audit log.
type AuditRecord struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id,omitempty"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    AuditAction     `json:"action"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Summary   json.RawMessage `json:"summary"`
	Actor     string          `json:"actor"`
	CreatedAt time.Time       `json:"created_at"`
}

// MergeSummary is the post-mutation summary stored on MERGE records.
type MergeSummary struct {
	MergedInto string `json:"merged_into"`
	Pass       int    `json:"pass"`
	Reason     string `json:"reason,omitempty"`
}

// Pair asks for MergeID to be collapsed into KeepID. Detected pairs came
// from the duplicate detector and are re-qualified against current rows
// before they are merged; other pairs are operator overrides.
type Pair struct {
	KeepID   string `json:"keep_id" yaml:"keep"`
	MergeID  string `json:"merge_id" yaml:"merge"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detected bool   `json:"detected,omitempty" yaml:"-"`
}

// Group is a set of teams that collapse into one keep record.
type Group struct {
	KeepID   string   `json:"keep_id"`
	MergeIDs []string `json:"merge_ids"`
}

// Pairs flattens the group into (keep, merge) pairs.
func (g Group) Pairs() []Pair {
	pairs := make([]Pair, 0, len(g.MergeIDs))
	for _, id := range g.MergeIDs {
		pairs = append(pairs, Pair{KeepID: g.KeepID, MergeID: id})
	}
	return pairs
}
