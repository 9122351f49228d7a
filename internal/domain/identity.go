package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BirthYearTolerance is the largest birth-year gap treated as the same team.
const BirthYearTolerance = 1

var placeholderValues = map[string]bool{
	"":        true,
	"unknown": true,
	"unk":     true,
	"n/a":     true,
	"na":      true,
	"none":    true,
	"null":    true,
	"tbd":     true,
	"-":       true,
	"?":       true,
}

// IsPlaceholder reports whether s carries no information.
func IsPlaceholder(s string) bool {
	return placeholderValues[strings.ToLower(strings.TrimSpace(s))]
}

func known(s *string) bool {
	return s != nil && !IsPlaceholder(*s)
}

// Identity is the (name, birth year, gender, region) tuple used to decide
// whether two records describe the same team.
type Identity struct {
	Name      string
	BirthYear *int
	Gender    *string
	Region    *string
}

func (id Identity) BirthYearKnown() bool { return id.BirthYear != nil }
func (id Identity) GenderKnown() bool    { return known(id.Gender) }
func (id Identity) RegionKnown() bool    { return known(id.Region) }

// FullySpecified reports whether every identity field is known.
func (id Identity) FullySpecified() bool {
	return id.BirthYearKnown() && id.GenderKnown() && id.RegionKnown()
}

// CompletenessScore weighs known fields: birth year 2, gender 1, region 1.
func (id Identity) CompletenessScore() int {
	score := 0
	if id.BirthYearKnown() {
		score += 2
	}
	if id.GenderKnown() {
		score++
	}
	if id.RegionKnown() {
		score++
	}
	return score
}

// FieldConflict describes two known values that disagree.
type FieldConflict struct {
	Field string
	Left  string
	Right string
}

func (c *FieldConflict) String() string {
	return fmt.Sprintf("%s: %s != %s", c.Field, c.Left, c.Right)
}

// Conflict returns the first identity field on which a and b hold known,
// disagreeing values. Gender and region compare by canonical spelling, the
// form the store writes and the identity index compares. Unknown values
// act as wildcards. Names are not compared; callers group by canonical
// name first.
func Conflict(a, b Identity) *FieldConflict {
	if a.BirthYearKnown() && b.BirthYearKnown() {
		gap := *a.BirthYear - *b.BirthYear
		if gap < 0 {
			gap = -gap
		}
		if gap > BirthYearTolerance {
			return &FieldConflict{Field: "birth_year", Left: fmt.Sprint(*a.BirthYear), Right: fmt.Sprint(*b.BirthYear)}
		}
	}
	if a.GenderKnown() && b.GenderKnown() && CanonicalValue(*a.Gender) != CanonicalValue(*b.Gender) {
		return &FieldConflict{Field: "gender", Left: *a.Gender, Right: *b.Gender}
	}
	if a.RegionKnown() && b.RegionKnown() && CanonicalValue(*a.Region) != CanonicalValue(*b.Region) {
		return &FieldConflict{Field: "region", Left: *a.Region, Right: *b.Region}
	}
	return nil
}

// Compatible reports whether a and b have no conflicting known field.
func Compatible(a, b Identity) bool {
	return Conflict(a, b) == nil
}

// Asymmetric reports whether one side knows a field the other does not.
func Asymmetric(a, b Identity) bool {
	return a.BirthYearKnown() != b.BirthYearKnown() ||
		a.GenderKnown() != b.GenderKnown() ||
		a.RegionKnown() != b.RegionKnown()
}

// Coalesce fills keep's unknown fields from other. Known values on keep
// are never replaced.
func Coalesce(keep, other Identity) Identity {
	out := keep
	if !out.BirthYearKnown() && other.BirthYearKnown() {
		v := *other.BirthYear
		out.BirthYear = &v
	}
	if !out.GenderKnown() && other.GenderKnown() {
		v := *other.Gender
		out.Gender = &v
	}
	if !out.RegionKnown() && other.RegionKnown() {
		v := *other.Region
		out.Region = &v
	}
	return out
}

// RicherName picks the display name carrying more information. Ties keep a.
func RicherName(a, b string) string {
	a, b = strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " ")
	if a == "" {
		return b
	}
	if len(strings.Fields(b)) > len(strings.Fields(a)) {
		return b
	}
	if len(strings.Fields(b)) == len(strings.Fields(a)) && utf8.RuneCountInString(b) > utf8.RuneCountInString(a) {
		return b
	}
	return a
}

// Outranks reports whether a should be kept over b: higher completeness,
// then more match activity, then earlier creation, then lower id.
func Outranks(a, b *Team) bool {
	sa, sb := a.Identity().CompletenessScore(), b.Identity().CompletenessScore()
	if sa != sb {
		return sa > sb
	}
	if a.Activity() != b.Activity() {
		return a.Activity() > b.Activity()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
