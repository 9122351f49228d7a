// Package names normalizes team names into the canonical form used for
// identity matching.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize returns the canonical matching key for a team name:
// diacritics stripped, case folded, '&' spelled out, punctuation
// collapsed to single spaces.
//
//	"  Eagles F.C. " -> "eagles f c"
//	"Águilas & Co"   -> "aguilas and co"
func Normalize(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		stripped = name
	}
	folded := folder.String(stripped)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Display tidies a display name without changing its casing.
func Display(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Equal reports whether two names match under normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
