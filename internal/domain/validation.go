package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var matchDateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CanonicalValue is the stored spelling of a gender or region. It depends
// only on the case-folded input: whitespace is collapsed, short codes of up
// to three letters are upper-cased and anything else is title-cased.
func CanonicalValue(s string) string {
	f := strings.ToLower(strings.Join(strings.Fields(s), " "))
	if n := utf8.RuneCountInString(f); n > 0 && n <= 3 && !strings.ContainsAny(f, " .-") {
		return strings.ToUpper(f)
	}
	return cases.Title(language.Und).String(f)
}

// CanonicalPtr applies CanonicalValue to a non-nil value.
func CanonicalPtr(s *string) *string {
	if s == nil {
		return nil
	}
	out := CanonicalValue(*s)
	return &out
}

// NormalizeGender maps source spellings onto Boys / Girls. Unknown and
// placeholder values yield nil; anything else takes its canonical spelling.
func NormalizeGender(s *string) *string {
	if s == nil || IsPlaceholder(*s) {
		return nil
	}
	var out string
	switch strings.ToLower(strings.TrimSpace(*s)) {
	case "boys", "boy", "b", "male", "m", "men":
		out = GenderBoys
	case "girls", "girl", "g", "female", "f", "women":
		out = GenderGirls
	default:
		out = CanonicalValue(*s)
	}
	return &out
}

// NormalizeRegion drops placeholders and returns the canonical spelling.
func NormalizeRegion(s *string) *string {
	if s == nil || IsPlaceholder(*s) {
		return nil
	}
	return CanonicalPtr(s)
}

// ValidateBirthYear rejects years outside a plausible youth/adult range.
func ValidateBirthYear(year *int) error {
	if year == nil {
		return nil
	}
	if *year < 1900 || *year > time.Now().Year()+1 {
		return &ValidationError{Field: "birth_year", Value: *year, Message: "out of range"}
	}
	return nil
}

// ValidateTeamObservation checks the fields resolve depends on.
func ValidateTeamObservation(obs *TeamObservation) error {
	if strings.TrimSpace(obs.SourceID) == "" {
		return &ValidationError{Field: "source_id", Value: obs.SourceID, Message: "required"}
	}
	if strings.TrimSpace(obs.SourceEntityID) == "" {
		return &ValidationError{Field: "source_entity_id", Value: obs.SourceEntityID, Message: "required"}
	}
	if strings.TrimSpace(obs.DisplayName) == "" {
		return &ValidationError{Field: "display_name", Value: obs.DisplayName, Message: "required"}
	}
	if obs.MatchesPlayed < 0 || obs.Wins < 0 || obs.Losses < 0 || obs.Draws < 0 {
		return &ValidationError{Field: "stats", Value: obs.MatchesPlayed, Message: "negative count"}
	}
	return ValidateBirthYear(obs.BirthYear)
}

// ValidateMatchObservation checks a match observation and both of its sides.
func ValidateMatchObservation(obs *MatchObservation) error {
	if strings.TrimSpace(obs.SourceID) == "" {
		return &ValidationError{Field: "source_id", Value: obs.SourceID, Message: "required"}
	}
	if strings.TrimSpace(obs.SourceMatchKey) == "" {
		return &ValidationError{Field: "source_match_key", Value: obs.SourceMatchKey, Message: "required"}
	}
	if !matchDateRegex.MatchString(obs.Date) {
		return &ValidationError{Field: "date", Value: obs.Date, Message: "expected YYYY-MM-DD"}
	}
	if _, err := time.Parse("2006-01-02", obs.Date); err != nil {
		return &ValidationError{Field: "date", Value: obs.Date, Message: "not a calendar date"}
	}
	if (obs.HomeScore != nil && *obs.HomeScore < 0) || (obs.AwayScore != nil && *obs.AwayScore < 0) {
		return &ValidationError{Field: "score", Value: obs.HomeScore, Message: "negative score"}
	}
	if err := ValidateTeamObservation(&obs.Home); err != nil {
		return err
	}
	return ValidateTeamObservation(&obs.Away)
}

// ValidateTimestamp parses an RFC3339 timestamp.
func ValidateTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timestamp", Value: s, Message: "expected RFC3339"}
	}
	return t, nil
}
