// Package normalize holds the canonical forms used for lookup keys.
package normalize

import (
	"regexp"
	"strings"
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization trims surrounding whitespace
// and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// SearchPattern turns free-form user input into a regular expression that
// matches it literally. Empty input yields an empty pattern.
func SearchPattern(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return regexp.QuoteMeta(s)
}
