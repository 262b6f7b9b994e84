// Package pathmatch implements PathMatcher: pat_matches(s, pat) against the
// glob-style PathPattern variants spec.md §4.2 names, plus a full-glob
// fallback via bmatcuk/doublestar (the teacher repo's own glob dependency)
// for filesystem allow/readonly patterns that need syntax beyond the six
// literal variants, such as nested "**" or character classes. Matches keeps
// the spec's own simpler literal rules exact; internal/policyeval's
// fsPatternsMatch tries both.
package pathmatch

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matches implements pat_matches(s, pat) per spec.md §4.2, evaluating the
// variants in the order the spec lists them.
func Matches(s, pat string) bool {
	switch {
	case pat == "*":
		return true
	case strings.HasSuffix(pat, "/**"):
		prefix := strings.TrimSuffix(pat, "/**")
		return strings.HasPrefix(s, prefix)
	case strings.HasPrefix(pat, "*") && strings.HasSuffix(pat, "*") && len(pat) >= 2:
		infix := pat[1 : len(pat)-1]
		return strings.Contains(s, infix)
	case strings.HasPrefix(pat, "*"):
		return strings.HasSuffix(s, pat[1:])
	case strings.HasSuffix(pat, "*"):
		return strings.HasPrefix(s, strings.TrimSuffix(pat, "*"))
	default:
		return s == pat
	}
}

// MatchesAny reports whether s matches any of pats.
func MatchesAny(s string, pats []string) bool {
	for _, p := range pats {
		if Matches(s, p) {
			return true
		}
	}
	return false
}

// MatchesGlob matches s against a full doublestar glob pattern (supporting
// "**" anywhere, character classes, and alternation), for callers outside the
// strict spec.md §4.2 grammar; internal/policyeval's fsPatternsMatch uses it
// for filesystem allow/readonly patterns.
func MatchesGlob(s, pattern string) bool {
	ok, err := doublestar.Match(pattern, s)
	return err == nil && ok
}

// MatchesAnyGlob reports whether s matches any of the doublestar patterns.
func MatchesAnyGlob(s string, patterns []string) bool {
	for _, p := range patterns {
		if MatchesGlob(s, p) {
			return true
		}
	}
	return false
}
