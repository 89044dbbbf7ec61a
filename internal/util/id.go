package util

import (
	"fmt"
	"strings"
	"unicode"
)

// maxSlugLength caps the kebab-case part of a spec id so directory names stay
// usable as git branch components.
const maxSlugLength = 60

// Slugify converts a string to kebab-case.
// It lowercases the string, replaces spaces and underscores with hyphens,
// removes non-alphanumeric characters (except hyphens), collapses multiple
// consecutive hyphens, and trims leading/trailing hyphens.
func Slugify(s string) string {
	var result strings.Builder

	for _, r := range s {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(unicode.ToLower(r))
		} else if r == ' ' || r == '_' || r == '-' {
			result.WriteRune('-')
		}
	}

	str := result.String()
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	str = strings.Trim(str, "-")

	if len(str) > maxSlugLength {
		str = strings.TrimRight(str[:maxSlugLength], "-")
	}
	return str
}

// FormatSpecID returns the directory name for the n-th spec, e.g. 001-fix-login-bug.
func FormatSpecID(n int, title string) string {
	slug := Slugify(title)
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("%03d-%s", n, slug)
}

// SpecNumber extracts the numeric prefix of a spec id. It returns false when
// the name does not start with digits followed by a hyphen.
func SpecNumber(specID string) (int, bool) {
	prefix, _, found := strings.Cut(specID, "-")
	if !found || prefix == "" {
		return 0, false
	}
	n := 0
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
