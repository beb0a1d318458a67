package audit

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chat-filter/internal/violation"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]violation.Incident
	err     error
}

func (f *fakeSink) CreateBatch(_ context.Context, incs []violation.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, slices.Clone(incs))
	return nil
}

func (f *fakeSink) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func incident(author string, count int) violation.Incident {
	return violation.Incident{
		ID: uuid.New(), Author: author, Pattern: "spam", Message: "spam!", Count: count, At: time.Now(),
	}
}

func TestWriterBatchesBySize(t *testing.T) {
	sink := &fakeSink{}
	w := NewWriter(sink, WriterConfig{BatchSize: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 1; i <= 4; i++ {
		require.True(t, w.Enqueue(incident("alice", i)))
	}
	require.Eventually(t, func() bool { return sink.total() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 2)
	assert.Equal(t, 1, sink.batches[0][0].Count)
	assert.Equal(t, 4, sink.batches[1][1].Count)
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	sink := &fakeSink{}
	w := NewWriter(sink, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})

	for i := 1; i <= 3; i++ {
		require.True(t, w.Enqueue(incident("bob", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, 3, sink.total())
}

func TestWriterFlushesOnInterval(t *testing.T) {
	sink := &fakeSink{}
	w := NewWriter(sink, WriterConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Enqueue(incident("carol", 1))
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriterDropsWhenFull(t *testing.T) {
	var dropped int
	w := NewWriter(&fakeSink{}, WriterConfig{QueueSize: 2, OnDrop: func(n int) { dropped += n }})

	assert.True(t, w.Enqueue(incident("dave", 1)))
	assert.True(t, w.Enqueue(incident("dave", 2)))
	assert.False(t, w.Enqueue(incident("dave", 3)))

	assert.Equal(t, int64(1), w.Dropped())
	assert.Equal(t, 1, dropped)
}

func TestWriterCountsFailedBatches(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	w := NewWriter(sink, WriterConfig{})
	w.Enqueue(incident("erin", 1))
	w.Enqueue(incident("erin", 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int64(2), w.Dropped())
}

// newTestStore requires a Postgres reachable through CHATFILTER_TEST_DATABASE_URL.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CHATFILTER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHATFILTER_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db), "migrations are idempotent")

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, `DELETE FROM moderation_incidents WHERE author LIKE 'test_%'`)
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM moderation_incidents WHERE author LIKE 'test_%'`)
		db.Close()
	})
	return NewStore(db)
}

func TestStoreCreateAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := incident("test_alice", 1)
	first.At = time.Now().Add(-time.Minute)
	require.NoError(t, s.Create(ctx, &first))

	second := incident("test_alice", 2)
	second.Stage = 1
	second.Commands = []string{"mute test_alice 5m"}
	require.NoError(t, s.CreateBatch(ctx, []violation.Incident{second, incident("test_bob", 1)}))

	got, err := s.Recent(ctx, "test_alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, []string{"mute test_alice 5m"}, got[0].Commands)
	assert.Nil(t, got[1].Commands)

	n, err := s.CountRecent(ctx, "test_alice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bad := incident("", 1)
	assert.Error(t, s.Create(ctx, &bad))
}
