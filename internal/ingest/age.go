package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MGMAppDev/soccerview-sub003/internal/domain"
)

var (
	ageGroupRegex  = regexp.MustCompile(`(?i)^u-?(\d{1,2})\b`)
	shortSeason    = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	longSeason     = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	termSeason     = regexp.MustCompile(`(?i)^(\d{4})[_ -](fall|autumn|spring)$`)
	singleYearLike = regexp.MustCompile(`^\d{4}$`)
)

// SeasonEndYear returns the calendar year a season ends in. Seasons are
// written "2025-26", "2025-2026", "2025_fall" (the 2025-26 season) or
// "2026_spring" (also 2025-26). A bare year is taken as the end year.
func SeasonEndYear(season string) (int, error) {
	s := strings.TrimSpace(season)
	bad := &domain.ValidationError{Field: "season", Value: season, Message: "expected YYYY-YY"}

	if m := shortSeason.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])
		yy, _ := strconv.Atoi(m[2])
		end := start/100*100 + yy
		if end < start {
			end += 100
		}
		if end != start+1 {
			return 0, bad
		}
		return end, nil
	}
	if m := longSeason.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if end != start+1 {
			return 0, bad
		}
		return end, nil
	}
	if m := termSeason.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		if strings.EqualFold(m[2], "spring") {
			return year, nil
		}
		return year + 1, nil
	}
	if singleYearLike.MatchString(s) {
		year, _ := strconv.Atoi(s)
		return year, nil
	}
	return 0, bad
}

// AgeFromGroup extracts N from an age group such as "U12", "u-12" or
// "U12 Boys".
func AgeFromGroup(group string) (int, bool) {
	m := ageGroupRegex.FindStringSubmatch(strings.TrimSpace(group))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// BirthYear derives a birth year from an age group and a season: a U12
// team in the 2025-26 season was born in 2014. It returns nil when either
// input is empty or the age group is not of the U<n> form.
func BirthYear(ageGroup, season string) (*int, error) {
	if strings.TrimSpace(ageGroup) == "" || strings.TrimSpace(season) == "" {
		return nil, nil
	}
	age, ok := AgeFromGroup(ageGroup)
	if !ok {
		return nil, nil
	}
	end, err := SeasonEndYear(season)
	if err != nil {
		return nil, err
	}
	year := end - age
	return &year, nil
}
