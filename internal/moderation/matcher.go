package moderation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Matcher is the compiled form of a PatternSet. It always carries the literal
// automaton; in regex mode it also carries one compiled expression per
// pattern. A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	set       PatternSet
	automaton *Automaton
	regexes   []*regexp.Regexp
	degraded  []error
}

// CompileMatcher builds the automaton for set and, when the set asks for
// regex mode, compiles every pattern. If any pattern fails to compile, regex
// mode is dropped for the whole snapshot: the compile errors are kept in
// Degraded and matching falls back to literal substrings.
//
// Case-insensitive regexes are compiled with the (?i) flag.
func CompileMatcher(set PatternSet, opts ...BuildOption) (*Matcher, error) {
	a, err := BuildAutomaton(set.patterns, set.caseSensitive, opts...)
	if err != nil {
		return nil, err
	}

	m := &Matcher{set: set, automaton: a}
	if set.regexMode {
		m.regexes, m.degraded = compileRegexes(set.patterns, set.caseSensitive)
	}
	return m, nil
}

func compileRegexes(patterns []string, caseSensitive bool) ([]*regexp.Regexp, []error) {
	regexes := make([]*regexp.Regexp, 0, len(patterns))
	var errs []error
	for i, p := range patterns {
		expr := p
		if !caseSensitive {
			expr = "(?i)" + p
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %d %q: %w", i+1, p, err))
			continue
		}
		regexes = append(regexes, re)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return regexes, nil
}

// Set returns the pattern set this matcher was compiled from.
func (m *Matcher) Set() PatternSet { return m.set }

// RegexActive reports whether matching runs through regular expressions.
// It is false when the set is literal or when regex compilation degraded.
func (m *Matcher) RegexActive() bool { return m.regexes != nil }

// Degraded returns the compile errors that forced a literal fallback.
func (m *Matcher) Degraded() []error { return m.degraded }

// FindFirst returns the pattern that matches text first. In regex mode
// patterns are tried in set order; in literal mode the earliest ending match
// wins.
func (m *Matcher) FindFirst(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if m.regexes == nil {
		return m.automaton.FindFirst(text)
	}
	for i, re := range m.regexes {
		if re.MatchString(text) {
			return m.set.patterns[i], true
		}
	}
	return "", false
}

// FindAll returns every match in text. Regex matches are grouped by pattern
// in set order and never include empty matches; offsets are rune offsets in
// both modes.
func (m *Matcher) FindAll(text string) []Match {
	if text == "" {
		return nil
	}
	if m.regexes == nil {
		return m.automaton.FindAll(text)
	}

	var matches []Match
	for i, re := range m.regexes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			start := utf8.RuneCountInString(text[:loc[0]])
			matches = append(matches, Match{
				Pattern: m.set.patterns[i],
				Start:   start,
				End:     start + utf8.RuneCountInString(text[loc[0]:loc[1]]) - 1,
			})
		}
	}
	return matches
}
