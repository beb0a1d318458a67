package violation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIncrementAndGet(t *testing.T) {
	assert := assert.New(t)
	s := NewStore()

	n, err := s.Increment("alice")
	assert.NoError(err)
	assert.Equal(1, n)

	n, err = s.Increment("alice")
	assert.NoError(err)
	assert.Equal(2, n)

	assert.Equal(2, s.Get("alice"))
	assert.Equal(0, s.Get("nobody"))
	assert.True(s.HasViolations("alice"))
	assert.False(s.HasViolations("nobody"))
}

func TestIncrementRejectsInvalidAuthor(t *testing.T) {
	s := NewStore()
	for _, author := range []string{"", " ", "\t\n", "victim 30d", "a.b", "a*", "a>", "x\x00y"} {
		_, err := s.Increment(author)
		assert.ErrorIs(t, err, ErrInvalidAuthor, "author %q", author)
	}
	assert.Equal(t, 0, s.Authors())
}

func TestValidateAuthor(t *testing.T) {
	for _, author := range []string{"alice", "Mod_1", "玩家", "a-b", "o'neil"} {
		assert.NoError(t, ValidateAuthor(author), "author %q", author)
	}
}

func TestResetOne(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		_, _ = s.Increment("alice")
	}
	_, _ = s.Increment("bob")

	assert.Equal(t, 3, s.ResetOne("alice"))
	assert.Equal(t, 0, s.ResetOne("alice"))
	assert.Equal(t, 0, s.Get("alice"))
	assert.Equal(t, 1, s.Get("bob"))

	n, err := s.Increment("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResetAllIsIdempotent(t *testing.T) {
	day := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(day)), WithLocation(time.UTC))
	_, _ = s.Increment("alice")
	_, _ = s.Increment("bob")

	assert.Equal(t, 2, s.ResetAll())
	assert.Equal(t, 0, s.ResetAll())
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, "2024-05-10", s.LastReset())
}

func TestCheckAndRollover(t *testing.T) {
	day1 := time.Date(2024, 5, 10, 22, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(day1)), WithLocation(time.UTC))
	for i := 0; i < 3; i++ {
		_, _ = s.Increment("alice")
	}

	_, ok := s.CheckAndRollover(day1.Add(time.Hour))
	assert.False(t, ok, "same day")
	assert.Equal(t, 3, s.Get("alice"))

	day2 := day1.Add(3 * time.Hour)
	n, ok := s.CheckAndRollover(day2)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, "2024-05-11", s.LastReset())

	_, ok = s.CheckAndRollover(day2)
	assert.False(t, ok)

	c, err := s.Increment("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestRolloverUsesLocation(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	// 2024-05-10 15:00 UTC is already 2024-05-10 23:00 in UTC+8.
	base := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(base)), WithLocation(shanghai))

	_, ok := s.CheckAndRollover(base.Add(30 * time.Minute))
	assert.False(t, ok)

	_, ok = s.CheckAndRollover(base.Add(90 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, "2024-05-11", s.LastReset())
}

func TestConcurrentRolloverResetsOnce(t *testing.T) {
	day1 := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(day1)), WithLocation(time.UTC))
	_, _ = s.Increment("alice")

	var rolled atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.CheckAndRollover(day1.Add(2 * time.Hour)); ok {
				rolled.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), rolled.Load())
}

func TestConcurrentIncrements(t *testing.T) {
	s := NewStore()
	const goroutines, perG = 16, 500

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				if _, err := s.Increment("alice"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perG, s.Get("alice"))
}

// Every increment must end up either in a count returned by ResetOne or in
// the final count; none may be lost to the race.
func TestIncrementRacingResetOne(t *testing.T) {
	s := NewStore()
	const goroutines, perG = 8, 1000

	var reset atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			reset.Add(int64(s.ResetOne("alice")))
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				n, err := s.Increment("alice")
				if err != nil || n < 1 {
					t.Errorf("increment returned %d, %v", n, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done

	assert.Equal(t, int64(goroutines*perG), reset.Load()+int64(s.Get("alice")))
}

func TestIncrementRacingResetAll(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n, err := s.Increment("alice")
				if err != nil || n < 1 {
					t.Errorf("increment returned %d, %v", n, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		s.ResetAll()
	}
	wg.Wait()

	n := s.Get("alice")
	assert.GreaterOrEqual(t, n, 0)
	assert.LessOrEqual(t, n, 4000)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	_, _ = s.Increment("alice")
	_, _ = s.Increment("bob")
	_, _ = s.Increment("bob")

	snap := s.Snapshot()
	assert.Equal(t, map[string]int{"alice": 1, "bob": 2}, snap)

	_, _ = s.Increment("alice")
	snap["bob"] = 100
	assert.Equal(t, 1, snap["alice"])
	assert.Equal(t, 2, s.Get("bob"))

	assert.Equal(t, 2, s.Authors())
	assert.Equal(t, 4, s.Total())
}

func TestRestore(t *testing.T) {
	day := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(fixedClock(day)), WithLocation(time.UTC))
	_, _ = s.Increment("alice")

	n, ok := s.Restore("2024-05-09", map[string]int{"alice": 4})
	assert.False(t, ok)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, s.Get("alice"))

	n, ok = s.Restore("2024-05-10", map[string]int{"alice": 4, "bob": 2, "": 3, "zero": 0})
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, 5, s.Get("alice"))
	assert.Equal(t, 2, s.Get("bob"))

	date, counts := s.DatedSnapshot()
	assert.Equal(t, "2024-05-10", date)
	assert.Equal(t, map[string]int{"alice": 5, "bob": 2}, counts)
}

func TestStartRollover(t *testing.T) {
	yesterday := time.Now().Add(-48 * time.Hour)
	s := NewStore(WithClock(fixedClock(yesterday)))
	_, _ = s.Increment("alice")

	ctx, cancel := context.WithCancel(context.Background())
	cleared := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartRollover(ctx, s, time.Hour, nil, nil, func(n int) { cleared <- n })
	}()

	select {
	case n := <-cleared:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("rollover did not run on start")
	}
	cancel()
	<-done
	assert.Equal(t, 0, s.Get("alice"))
}

func TestStartRolloverUsesGivenClock(t *testing.T) {
	var now atomic.Pointer[time.Time]
	set := func(at time.Time) { now.Store(&at) }
	clock := func() time.Time { return *now.Load() }

	// A day far from the wall clock, so time.Now would always look like a
	// new day.
	set(time.Date(2031, 3, 1, 9, 0, 0, 0, time.UTC))
	s := NewStore(WithClock(clock), WithLocation(time.UTC))
	_, _ = s.Increment("alice")

	var resets atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartRollover(ctx, s, 5*time.Millisecond, clock, nil, func(int) { resets.Add(1) })
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), resets.Load(), "same day on the store's clock")
	assert.Equal(t, 1, s.Get("alice"))

	set(time.Date(2031, 3, 2, 0, 0, 1, 0, time.UTC))
	require.Eventually(t, func() bool { return resets.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Get("alice"))
	assert.Equal(t, "2031-03-02", s.LastReset())
}
