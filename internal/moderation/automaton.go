package moderation

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"unicode"
)

// DefaultMaxNodes is the node budget applied to a build when no
// WithMaxNodes option is given.
const DefaultMaxNodes = 4_000_000

// ErrAutomatonTooLarge is returned when a pattern set needs more trie nodes
// than the build budget allows.
var ErrAutomatonTooLarge = errors.New("moderation: automaton exceeds node budget")

// Match is one occurrence of a pattern in a searched text.
//
// Start and End are inclusive rune offsets: they count the runes produced by
// ranging over the text, so an invalid UTF-8 byte counts as one rune.
type Match struct {
	Pattern string `json:"pattern"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// node is one trie state. Children and failure links are indexes into the
// automaton's node arena; index 0 is the root.
type node struct {
	next map[rune]int32
	fail int32
	// out holds indexes into Automaton.patterns: the node's own terminals
	// followed by everything reachable through its failure chain.
	out []int32
}

// Automaton is an Aho-Corasick matcher over a fixed set of literal patterns.
// It is read-only after BuildAutomaton returns and safe for concurrent use.
type Automaton struct {
	nodes    []node
	patterns []string // original, unnormalized text
	lengths  []int    // rune length of each pattern
	fold     bool
}

type buildConfig struct {
	maxNodes int
}

// BuildOption tunes BuildAutomaton.
type BuildOption func(*buildConfig)

// WithMaxNodes caps the number of trie nodes a build may allocate.
func WithMaxNodes(n int) BuildOption {
	return func(c *buildConfig) {
		if n > 0 {
			c.maxNodes = n
		}
	}
}

// BuildAutomaton constructs an automaton from patterns. Blank entries and
// repeated entries are skipped. When caseSensitive is false both patterns and
// searched text are lower-cased rune by rune, but matches report the original
// pattern text.
//
// The only failure is ErrAutomatonTooLarge; pattern text is never rejected.
func BuildAutomaton(patterns []string, caseSensitive bool, opts ...BuildOption) (*Automaton, error) {
	cfg := buildConfig{maxNodes: DefaultMaxNodes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxNodes > math.MaxInt32 {
		cfg.maxNodes = math.MaxInt32
	}

	a := &Automaton{
		nodes: make([]node, 1, len(patterns)+1),
		fold:  !caseSensitive,
	}

	seen := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		if err := a.insert(p, cfg.maxNodes); err != nil {
			return nil, err
		}
	}

	a.link()
	return a, nil
}

func (a *Automaton) normalize(r rune) rune {
	if a.fold {
		return unicode.ToLower(r)
	}
	return r
}

func (a *Automaton) insert(pattern string, maxNodes int) error {
	cur := int32(0)
	length := 0
	for _, r := range pattern {
		r = a.normalize(r)
		length++

		child, ok := a.nodes[cur].next[r]
		if !ok {
			if len(a.nodes) >= maxNodes {
				return fmt.Errorf("%w (limit %d)", ErrAutomatonTooLarge, maxNodes)
			}
			child = int32(len(a.nodes))
			a.nodes = append(a.nodes, node{})
			if a.nodes[cur].next == nil {
				a.nodes[cur].next = make(map[rune]int32, 1)
			}
			a.nodes[cur].next[r] = child
		}
		cur = child
	}

	idx := int32(len(a.patterns))
	a.patterns = append(a.patterns, pattern)
	a.lengths = append(a.lengths, length)
	a.nodes[cur].out = append(a.nodes[cur].out, idx)
	return nil
}

// link computes failure links breadth-first and folds each failure target's
// outputs into the node. A failure target is always shallower than the node,
// so its output set is already complete when the node is visited.
func (a *Automaton) link() {
	queue := make([]int32, 0, len(a.nodes))
	for _, child := range a.nodes[0].next {
		queue = append(queue, child)
	}

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for r, child := range a.nodes[cur].next {
			queue = append(queue, child)

			f := a.nodes[cur].fail
			for {
				if target, ok := a.nodes[f].next[r]; ok {
					a.nodes[child].fail = target
					break
				}
				if f == 0 {
					break
				}
				f = a.nodes[f].fail
			}

			inherited := a.nodes[a.nodes[child].fail].out
			if len(inherited) == 0 {
				continue
			}
			own := a.nodes[child].out
			if len(own) == 0 {
				a.nodes[child].out = inherited[:len(inherited):len(inherited)]
				continue
			}
			merged := make([]int32, 0, len(own)+len(inherited))
			merged = append(merged, own...)
			a.nodes[child].out = append(merged, inherited...)
		}
	}
}

func (a *Automaton) step(state int32, r rune) int32 {
	for {
		if next, ok := a.nodes[state].next[r]; ok {
			return next
		}
		if state == 0 {
			return 0
		}
		state = a.nodes[state].fail
	}
}

// Search returns every occurrence of every pattern in text, ordered by end
// offset. At a single end offset the longest pattern comes first. The
// sequence is lazy and each iteration scans independently.
func (a *Automaton) Search(text string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		if a == nil || len(a.patterns) == 0 {
			return
		}
		state := int32(0)
		pos := 0
		for _, r := range text {
			state = a.step(state, a.normalize(r))
			for _, idx := range a.nodes[state].out {
				m := Match{
					Pattern: a.patterns[idx],
					Start:   pos - a.lengths[idx] + 1,
					End:     pos,
				}
				if !yield(m) {
					return
				}
			}
			pos++
		}
	}
}

// FindAll collects Search into a slice.
func (a *Automaton) FindAll(text string) []Match {
	var matches []Match
	for m := range a.Search(text) {
		matches = append(matches, m)
	}
	return matches
}

// FindFirst returns the pattern of the first match Search would produce,
// stopping the scan as soon as it is found.
func (a *Automaton) FindFirst(text string) (string, bool) {
	for m := range a.Search(text) {
		return m.Pattern, true
	}
	return "", false
}

// Len returns the number of distinct patterns in the automaton.
func (a *Automaton) Len() int {
	if a == nil {
		return 0
	}
	return len(a.patterns)
}

// Nodes returns the size of the trie, root included.
func (a *Automaton) Nodes() int {
	if a == nil {
		return 0
	}
	return len(a.nodes)
}
