package moderation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// PatternSet is an immutable snapshot of the forbidden-word list together
// with the flags that control how it is matched. Any change produces a new
// set; the matcher is always rebuilt from a whole set.
type PatternSet struct {
	patterns      []string
	caseSensitive bool
	regexMode     bool
}

// NewPatternSet trims every entry, drops blank ones and removes duplicates
// by exact text, keeping the first occurrence's position.
func NewPatternSet(patterns []string, caseSensitive, regexMode bool) PatternSet {
	set := PatternSet{
		patterns:      make([]string, 0, len(patterns)),
		caseSensitive: caseSensitive,
		regexMode:     regexMode,
	}
	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		set.patterns = append(set.patterns, p)
	}
	return set
}

// Patterns returns a copy of the patterns in insertion order.
func (s PatternSet) Patterns() []string {
	return slices.Clone(s.patterns)
}

func (s PatternSet) Len() int { return len(s.patterns) }

func (s PatternSet) CaseSensitive() bool { return s.caseSensitive }

func (s PatternSet) RegexMode() bool { return s.regexMode }

// Contains reports whether p (after trimming) is in the set.
func (s PatternSet) Contains(p string) bool {
	return slices.Contains(s.patterns, strings.TrimSpace(p))
}

// With returns a set that also contains p. The second result is false when
// p is blank or already present, in which case s is returned unchanged.
func (s PatternSet) With(p string) (PatternSet, bool) {
	p = strings.TrimSpace(p)
	if p == "" || slices.Contains(s.patterns, p) {
		return s, false
	}
	next := s
	next.patterns = append(slices.Clone(s.patterns), p)
	return next, true
}

// Without returns a set with p removed. The second result is false when p
// was not present.
func (s PatternSet) Without(p string) (PatternSet, bool) {
	i := slices.Index(s.patterns, strings.TrimSpace(p))
	if i < 0 {
		return s, false
	}
	next := s
	next.patterns = slices.Delete(slices.Clone(s.patterns), i, i+1)
	return next, true
}

// WithFlags returns the same patterns under different matching flags.
func (s PatternSet) WithFlags(caseSensitive, regexMode bool) PatternSet {
	next := s
	next.caseSensitive = caseSensitive
	next.regexMode = regexMode
	return next
}

// ValidateRegexPatterns compiles every pattern as a regular expression and
// returns one error per pattern that fails. A nil result means regex mode
// can be enabled for this list.
func ValidateRegexPatterns(patterns []string) []error {
	var errs []error
	for i, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("pattern %d %q: %w", i+1, p, err))
		}
	}
	return errs
}
