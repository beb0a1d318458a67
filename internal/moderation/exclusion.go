package moderation

import (
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"
)

// Excluder decides whether an author bypasses moderation entirely.
type Excluder interface {
	IsExcluded(author string) bool
}

// ExcluderFunc adapts a function to Excluder.
type ExcluderFunc func(author string) bool

func (f ExcluderFunc) IsExcluded(author string) bool { return f(author) }

// ExclusionList is a concurrent set of authors exempt from moderation.
type ExclusionList struct {
	authors *xsync.Map[string, struct{}]
}

// NewExclusionList returns a list holding the given authors.
func NewExclusionList(authors ...string) *ExclusionList {
	l := &ExclusionList{authors: xsync.NewMap[string, struct{}]()}
	for _, a := range authors {
		l.Add(a)
	}
	return l
}

// Add inserts author and reports whether it was newly added.
func (l *ExclusionList) Add(author string) bool {
	author = strings.TrimSpace(author)
	if author == "" {
		return false
	}
	_, loaded := l.authors.LoadOrStore(author, struct{}{})
	return !loaded
}

// Remove deletes author and reports whether it was present.
func (l *ExclusionList) Remove(author string) bool {
	_, ok := l.authors.LoadAndDelete(strings.TrimSpace(author))
	return ok
}

func (l *ExclusionList) Contains(author string) bool {
	_, ok := l.authors.Load(author)
	return ok
}

func (l *ExclusionList) IsExcluded(author string) bool { return l.Contains(author) }

// List returns the excluded authors sorted.
func (l *ExclusionList) List() []string {
	out := make([]string, 0, l.authors.Size())
	l.authors.Range(func(author string, _ struct{}) bool {
		out = append(out, author)
		return true
	})
	slices.Sort(out)
	return out
}

// Replace swaps the whole list for authors.
func (l *ExclusionList) Replace(authors []string) {
	keep := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		if a = strings.TrimSpace(a); a != "" {
			keep[a] = struct{}{}
			l.authors.Store(a, struct{}{})
		}
	}
	l.authors.Range(func(author string, _ struct{}) bool {
		if _, ok := keep[author]; !ok {
			l.authors.Delete(author)
		}
		return true
	})
}

func (l *ExclusionList) Len() int { return l.authors.Size() }
