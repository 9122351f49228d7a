package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

// Document is one adapter output file. Source and Season are defaults for
// entries that omit them.
type Document struct {
	Name    string       `json:"-" yaml:"-"`
	Source  string       `json:"source,omitempty" yaml:"source,omitempty"`
	Season  string       `json:"season,omitempty" yaml:"season,omitempty"`
	Teams   []TeamEntry  `json:"teams,omitempty" yaml:"teams,omitempty"`
	Matches []MatchEntry `json:"matches,omitempty" yaml:"matches,omitempty"`
}

// TeamEntry is a team observation as adapters write it: an age group and
// season may stand in for the birth year.
type TeamEntry struct {
	domain.TeamObservation `yaml:",inline"`
	AgeGroup               string `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	Season                 string `json:"season,omitempty" yaml:"season,omitempty"`
}

// MatchEntry is a match observation with embedded team entries. AgeGroup
// and Season apply to both sides unless a side sets its own.
type MatchEntry struct {
	SourceID       string    `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	SourceMatchKey string    `json:"source_match_key" yaml:"source_match_key"`
	Date           string    `json:"date" yaml:"date"`
	Home           TeamEntry `json:"home" yaml:"home"`
	Away           TeamEntry `json:"away" yaml:"away"`
	HomeScore      *int      `json:"home_score,omitempty" yaml:"home_score,omitempty"`
	AwayScore      *int      `json:"away_score,omitempty" yaml:"away_score,omitempty"`
	AgeGroup       string    `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	Season         string    `json:"season,omitempty" yaml:"season,omitempty"`
	ObservedAt     time.Time `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (d *Document) team(e TeamEntry, source, ageGroup, season string, now time.Time) (domain.TeamObservation, error) {
	obs := e.TeamObservation
	obs.SourceID = firstNonEmpty(obs.SourceID, source, d.Source)
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = now
	}
	if obs.BirthYear == nil {
		year, err := BirthYear(firstNonEmpty(e.AgeGroup, ageGroup), firstNonEmpty(e.Season, season, d.Season))
		if err != nil {
			return obs, err
		}
		obs.BirthYear = year
	}
	return obs, nil
}

// Observations converts the document into registry observations, applying
// document defaults and deriving birth years. now stamps entries without
// an observation time.
func (d *Document) Observations(now time.Time) ([]domain.TeamObservation, []domain.MatchObservation, error) {
	teams := make([]domain.TeamObservation, 0, len(d.Teams))
	for i, e := range d.Teams {
		obs, err := d.team(e, "", "", "", now)
		if err != nil {
			return nil, nil, fmt.Errorf("teams[%d]: %w", i, err)
		}
		teams = append(teams, obs)
	}

	matches := make([]domain.MatchObservation, 0, len(d.Matches))
	for i, e := range d.Matches {
		source := firstNonEmpty(e.SourceID, d.Source)
		observed := e.ObservedAt
		if observed.IsZero() {
			observed = now
		}
		home, err := d.team(e.Home, source, e.AgeGroup, e.Season, observed)
		if err != nil {
			return nil, nil, fmt.Errorf("matches[%d].home: %w", i, err)
		}
		away, err := d.team(e.Away, source, e.AgeGroup, e.Season, observed)
		if err != nil {
			return nil, nil, fmt.Errorf("matches[%d].away: %w", i, err)
		}
		matches = append(matches, domain.MatchObservation{
			SourceID:       source,
			SourceMatchKey: strings.TrimSpace(e.SourceMatchKey),
			Date:           strings.TrimSpace(e.Date),
			Home:           home,
			Away:           away,
			HomeScore:      e.HomeScore,
			AwayScore:      e.AwayScore,
			ObservedAt:     observed,
		})
	}
	return teams, matches, nil
}
