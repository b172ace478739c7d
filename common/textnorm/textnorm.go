package textnorm

import (
	"regexp"
	"strings"
)

var (
	punctChars = regexp.MustCompile(`[^a-z0-9\s%.$-]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, strips punctuation, and collapses whitespace so
// that cosmetic differences in provider output do not change a candidate's
// fingerprint. It keeps digits, %, $, ., and - because thresholds like
// "rsi < 30" or "-2.5%" are content-defining.
func Normalize(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	clean := punctChars.ReplaceAllString(lower, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(clean, " "))
}

// Excerpt normalizes s and truncates it to at most n characters, cutting at
// the last word boundary that fits. Fingerprints hash excerpts rather than
// full texts so trailing elaboration does not defeat deduplication.
func Excerpt(s string, n int) string {
	norm := Normalize(s)
	if len(norm) <= n {
		return norm
	}
	cut := norm[:n]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
