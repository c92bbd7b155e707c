// Package textnorm holds the normalization rules applied to user-entered text
// before it is committed: short fields, multi-line notes, comma-separated
// ability lists and case-insensitive title keys.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var inlineSpace = regexp.MustCompile(`[\t\v\f\r\p{Zs}]+`)

// Short trims s and collapses every run of whitespace to a single space.
// Used for titles, names, roles, arc stages and each ability.
func Short(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Multiline trims s and collapses runs of non-newline whitespace to a single
// space. Line breaks are kept as written.
func Multiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(inlineSpace.ReplaceAllString(s, " "))
}

// SplitAbilities parses the free-text abilities field. Pieces are split on
// commas, normalized with Short, and empty pieces are dropped. Order and
// duplicates are preserved.
func SplitAbilities(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = Short(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinAbilities is the display projection of an abilities list.
// SplitAbilities(JoinAbilities(SplitAbilities(t))) equals SplitAbilities(t).
func JoinAbilities(abilities []string) string {
	return strings.Join(abilities, ", ")
}

// Abilities normalizes abilities text to its canonical display form.
func Abilities(text string) string {
	return JoinAbilities(SplitAbilities(text))
}

// TitleKey returns the comparison key for case-insensitive title equality.
// Full Unicode case folding is used so "STRASSE" and "straße" collide.
func TitleKey(title string) string {
	return cases.Fold().String(Short(title))
}

// EqualFold reports whether two titles are equal under TitleKey.
func EqualFold(a, b string) bool {
	return TitleKey(a) == TitleKey(b)
}
