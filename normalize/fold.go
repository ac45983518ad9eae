package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWordRe = regexp.MustCompile(`[^a-z0-9çëšžđáéíóúäöü\- ]+`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Fold lowercases text and strips diacritics, so "Qumësht" becomes "qumesht"
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Simplify lowercases text, replaces punctuation with spaces and collapses whitespace.
// Albanian and common Latin diacritics are kept.
func Simplify(s string) string {
	s = nonWordRe.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
