package parse

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	// "<group> - <person>" as used in vendor calendar names.
	personSepRe = regexp.MustCompile(` -+ `)
)

const guestDelimiter = "+"

// Normalize collapses a raw vendor group label to its canonical group key:
//
//	"Store A - John"        -> "Store A"
//	"Store A + add a guest" -> "Store A"
//	"- Store B -"           -> "Store B"
//
// If nothing is left the trimmed raw label is returned. Normalize is
// idempotent.
func Normalize(raw string) string {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	s = trimDashes(s)

	// Free-text suffixes ("+ add a guest") follow the first '+'.
	if i := strings.Index(s, guestDelimiter); i >= 0 {
		s = s[:i]
	}
	if loc := personSepRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}
	s = trimDashes(s)

	if s == "" {
		return strings.TrimSpace(raw)
	}
	return s
}

// trimDashes strips leading and trailing '-' tokens and the whitespace
// around them.
func trimDashes(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == '-' || unicode.IsSpace(r)
	})
}

// GroupLabel picks the label a resource is grouped by: its vendor location
// when set, otherwise its own label.
func GroupLabel(resourceLabel, location string) string {
	if strings.TrimSpace(location) != "" {
		return location
	}
	return resourceLabel
}

// placeholders are labels the vendor uses for unassigned resources.
var placeholders = map[string]struct{}{
	"":           {},
	"-":          {},
	"0":          {},
	"n/a":        {},
	"na":         {},
	"none":       {},
	"unknown":    {},
	"unassigned": {},
	"null":       {},
}

// IsPlaceholder reports whether an id or label carries no identity.
func IsPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
