package moderation

import (
	"math/rand"
	"slices"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bruteForce is the reference answer: every (pattern, start, end) such that
// the text's runes at [start, end] equal the pattern under the case rule.
func bruteForce(patterns []string, text string, caseSensitive bool) []Match {
	fold := func(rs []rune) []rune {
		if caseSensitive {
			return rs
		}
		out := make([]rune, len(rs))
		for i, r := range rs {
			out[i] = unicode.ToLower(r)
		}
		return out
	}

	runes := fold([]rune(text))
	seen := map[string]bool{}
	var matches []Match
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" || seen[p] {
			continue
		}
		seen[p] = true
		pr := fold([]rune(p))
		for start := 0; start+len(pr) <= len(runes); start++ {
			if slices.Equal(runes[start:start+len(pr)], pr) {
				matches = append(matches, Match{Pattern: p, Start: start, End: start + len(pr) - 1})
			}
		}
	}
	return matches
}

func sortMatches(ms []Match) []Match {
	out := slices.Clone(ms)
	slices.SortFunc(out, func(a, b Match) int {
		if a.End != b.End {
			return a.End - b.End
		}
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return strings.Compare(a.Pattern, b.Pattern)
	})
	return out
}

func randomString(rng *rand.Rand, alphabet []rune, minLen, maxLen int) string {
	n := minLen + rng.Intn(maxLen-minLen+1)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteRune(alphabet[rng.Intn(len(alphabet))])
	}
	return b.String()
}

func TestSearchMatchesBruteForce(t *testing.T) {
	alphabet := []rune("abAB脏话")
	rng := rand.New(rand.NewSource(42))

	for _, caseSensitive := range []bool{true, false} {
		for i := 0; i < 300; i++ {
			patterns := make([]string, 1+rng.Intn(8))
			for j := range patterns {
				patterns[j] = randomString(rng, alphabet, 1, 4)
			}
			text := randomString(rng, alphabet, 0, 40)

			a, err := BuildAutomaton(patterns, caseSensitive)
			require.NoError(t, err)

			got := sortMatches(a.FindAll(text))
			want := sortMatches(bruteForce(patterns, text, caseSensitive))
			require.Equal(t, want, got, "patterns=%q text=%q caseSensitive=%v", patterns, text, caseSensitive)

			first, ok := a.FindFirst(text)
			if len(want) == 0 {
				assert.False(t, ok)
				continue
			}
			require.True(t, ok)
			assert.Contains(t, patternsOf(want), first)
		}
	}
}

func patternsOf(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Pattern
	}
	return out
}

func TestSearchOverlappingCaseInsensitive(t *testing.T) {
	a, err := BuildAutomaton([]string{"foo", "bar", "foobar"}, false)
	require.NoError(t, err)

	got := a.FindAll("xFooBarY")
	assert.Equal(t, []Match{
		{Pattern: "foo", Start: 1, End: 3},
		{Pattern: "foobar", Start: 1, End: 6},
		{Pattern: "bar", Start: 4, End: 6},
	}, got)
}

func TestSearchReportsOriginalPatternText(t *testing.T) {
	a, err := BuildAutomaton([]string{"BadWord"}, false)
	require.NoError(t, err)

	first, ok := a.FindFirst("this has a BADWORD in it")
	require.True(t, ok)
	assert.Equal(t, "BadWord", first)
}

func TestSearchCaseSensitive(t *testing.T) {
	a, err := BuildAutomaton([]string{"Bad"}, true)
	require.NoError(t, err)

	_, ok := a.FindFirst("bad BAD")
	assert.False(t, ok)

	first, ok := a.FindFirst("not Bad")
	require.True(t, ok)
	assert.Equal(t, "Bad", first)
}

func TestSearchNested(t *testing.T) {
	a, err := BuildAutomaton([]string{"he", "she", "his", "hers"}, true)
	require.NoError(t, err)

	assert.Equal(t, []Match{
		{Pattern: "she", Start: 1, End: 3},
		{Pattern: "he", Start: 2, End: 3},
		{Pattern: "hers", Start: 2, End: 5},
	}, a.FindAll("ushers"))
}

func TestSearchRuneOffsets(t *testing.T) {
	a, err := BuildAutomaton([]string{"脏话"}, true)
	require.NoError(t, err)

	assert.Equal(t, []Match{{Pattern: "脏话", Start: 2, End: 3}}, a.FindAll("你好脏话!"))
}

func TestBuildSkipsBlankAndDuplicates(t *testing.T) {
	a, err := BuildAutomaton([]string{"", "  ", "abc", "abc", "\t"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())
	assert.Len(t, a.FindAll("abcabc"), 2)
}

func TestEmptyInputs(t *testing.T) {
	a, err := BuildAutomaton(nil, false)
	require.NoError(t, err)
	assert.Empty(t, a.FindAll("anything"))

	a, err = BuildAutomaton([]string{"x"}, false)
	require.NoError(t, err)
	_, ok := a.FindFirst("")
	assert.False(t, ok)

	var nilAutomaton *Automaton
	assert.Empty(t, nilAutomaton.FindAll("x"))
	assert.Equal(t, 0, nilAutomaton.Len())
}

func TestSearchIsRestartable(t *testing.T) {
	a, err := BuildAutomaton([]string{"a"}, true)
	require.NoError(t, err)

	seq := a.Search("aaa")
	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())

	// Stopping early must not disturb the next iteration.
	for range seq {
		break
	}
	assert.Equal(t, 3, count())
}

func TestBuildIsDeterministic(t *testing.T) {
	patterns := []string{"abc", "bc", "c", "abcd", "bcd", "xyz"}
	text := "zabcdxyzabc"

	a1, err := BuildAutomaton(patterns, false)
	require.NoError(t, err)
	a2, err := BuildAutomaton(patterns, false)
	require.NoError(t, err)

	assert.Equal(t, a1.FindAll(text), a2.FindAll(text))
}

func TestBuildNodeBudget(t *testing.T) {
	_, err := BuildAutomaton([]string{"abcdef"}, true, WithMaxNodes(4))
	assert.ErrorIs(t, err, ErrAutomatonTooLarge)

	a, err := BuildAutomaton([]string{"abc", "abd"}, true, WithMaxNodes(5))
	require.NoError(t, err)
	assert.Equal(t, 5, a.Nodes())
}

func BenchmarkFindFirst(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz")
	patterns := make([]string, 10000)
	for i := range patterns {
		patterns[i] = randomString(rng, alphabet, 4, 10)
	}
	a, err := BuildAutomaton(patterns, false)
	if err != nil {
		b.Fatal(err)
	}
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 5)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.FindFirst(text)
	}
}
