// Package violation tracks how many times each author has broken the chat
// rules since the last daily reset.
//
// Counters live in memory. Increments and reads run concurrently with each
// other; whole-store resets (manual or daily rollover) exclude every other
// operation for the duration of the clear.
package violation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/puzpuzpuz/xsync/v4"
)

// ErrInvalidAuthor is returned for an author that is blank or not a single
// subject-safe token.
var ErrInvalidAuthor = errors.New("violation: invalid author")

// ValidateAuthor checks that author is one non-blank word without NATS
// subject metacharacters. Authors are substituted into punishment commands,
// where the first word is the target, and used as a subject token.
func ValidateAuthor(author string) error {
	if author == "" {
		return fmt.Errorf("%w: blank", ErrInvalidAuthor)
	}
	if !utf8.ValidString(author) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidAuthor)
	}
	for _, r := range author {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace", ErrInvalidAuthor, author)
		}
		switch r {
		case '.', '*', '>':
			return fmt.Errorf("%w: %q contains %q", ErrInvalidAuthor, author, r)
		}
	}
	return nil
}

// retired marks a counter that was removed from the map by ResetOne. An
// increment that finds it retries against a fresh counter.
const retired = -1

type counter struct {
	n atomic.Int64
}

// Store is a concurrent author -> violation count map with a daily reset
// marker.
type Store struct {
	// mu is held shared by increments, reads and single-author resets, and
	// exclusively by whole-store resets.
	mu        sync.RWMutex
	counts    *xsync.Map[string, *counter]
	lastReset string

	now func() time.Time
	loc *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now as the source of the reset date.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the time zone that decides where a day starts.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewStore returns an empty store whose reset marker is today.
func NewStore(opts ...Option) *Store {
	s := &Store{
		counts: xsync.NewMap[string, *counter](),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastReset = s.Day(s.now())
	return s
}

// Day formats t as the store's reset date (YYYY-MM-DD in the store's zone).
func (s *Store) Day(t time.Time) string {
	return t.In(s.loc).Format(time.DateOnly)
}

// Increment adds one violation for author and returns the new count.
func (s *Store) Increment(author string) (int, error) {
	if err := ValidateAuthor(author); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for {
		c, _ := s.counts.LoadOrCompute(author, func() (*counter, bool) {
			return &counter{}, false
		})
		for {
			n := c.n.Load()
			if n == retired {
				break
			}
			if c.n.CompareAndSwap(n, n+1) {
				return int(n + 1), nil
			}
		}
	}
}

// Get returns author's count, 0 if the author has none.
func (s *Store) Get(author string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counts.Load(author)
	if !ok {
		return 0
	}
	return live(c.n.Load())
}

// HasViolations reports whether author has at least one violation.
func (s *Store) HasViolations(author string) bool {
	return s.Get(author) > 0
}

// ResetOne removes author's record and returns the count it held. An
// increment racing the reset is either included in the returned count or
// applied to a new record afterwards.
func (s *Store) ResetOne(author string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counts.LoadAndDelete(author)
	if !ok {
		return 0
	}
	return live(c.n.Swap(retired))
}

// ResetAll clears every record, stamps today as the reset date and returns
// the number of authors that had violations.
func (s *Store) ResetAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.authorsLocked()
	s.counts.Clear()
	s.lastReset = s.Day(s.now())
	return n
}

// CheckAndRollover resets the store when now falls on a different day than
// the last reset. It returns the number of authors cleared and true when a
// rollover happened. Concurrent callers roll over at most once per day.
func (s *Store) CheckAndRollover(now time.Time) (int, bool) {
	today := s.Day(now)

	s.mu.RLock()
	current := s.lastReset == today
	s.mu.RUnlock()
	if current {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReset == today {
		return 0, false
	}
	n := s.authorsLocked()
	s.counts.Clear()
	s.lastReset = today
	return n, true
}

// Snapshot returns a point-in-time copy of every non-zero count.
func (s *Store) Snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// DatedSnapshot returns the reset date and the counts recorded since, read
// together so a concurrent rollover cannot split them.
func (s *Store) DatedSnapshot() (string, map[string]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReset, s.snapshotLocked()
}

func (s *Store) snapshotLocked() map[string]int {
	out := make(map[string]int, s.counts.Size())
	s.counts.Range(func(author string, c *counter) bool {
		if n := live(c.n.Load()); n > 0 {
			out[author] = n
		}
		return true
	})
	return out
}

// Authors returns the number of authors with at least one violation.
func (s *Store) Authors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorsLocked()
}

// Total returns the sum of all counts.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	s.counts.Range(func(_ string, c *counter) bool {
		total += live(c.n.Load())
		return true
	})
	return total
}

// LastReset returns the date of the last reset as YYYY-MM-DD.
func (s *Store) LastReset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReset
}

// Restore adds persisted counts to the store if they were recorded on the
// current reset date. It returns the number of authors restored and whether
// the snapshot was applied.
func (s *Store) Restore(date string, counts map[string]int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date != s.lastReset {
		return 0, false
	}
	restored := 0
	for author, n := range counts {
		if n <= 0 || ValidateAuthor(author) != nil {
			continue
		}
		c, _ := s.counts.LoadOrCompute(author, func() (*counter, bool) {
			return &counter{}, false
		})
		c.n.Add(int64(n))
		restored++
	}
	return restored, true
}

func (s *Store) authorsLocked() int {
	n := 0
	s.counts.Range(func(_ string, c *counter) bool {
		if live(c.n.Load()) > 0 {
			n++
		}
		return true
	})
	return n
}

func live(n int64) int {
	if n < 0 {
		return 0
	}
	return int(n)
}
