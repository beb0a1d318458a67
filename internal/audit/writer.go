package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/whisper/chat-filter/internal/violation"
)

const (
	DefaultQueueSize     = 1024
	DefaultBatchSize     = 100
	DefaultFlushInterval = 2 * time.Second

	// shutdownFlushTimeout bounds the final flush after Run's context ends.
	shutdownFlushTimeout = 5 * time.Second
)

// Sink persists a batch of incidents. *Store satisfies it.
type Sink interface {
	CreateBatch(ctx context.Context, incs []violation.Incident) error
}

type WriterConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Logger        *slog.Logger
	// OnDrop is called for every incident discarded because the queue was
	// full or a batch failed to persist.
	OnDrop func(n int)
}

// Writer records incidents asynchronously so message evaluation never waits
// on the database. Enqueue never blocks; when the queue is full the incident
// is dropped and counted.
type Writer struct {
	sink          Sink
	queue         chan violation.Incident
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	onDrop        func(n int)
	dropped       atomic.Int64
}

func NewWriter(sink Sink, cfg WriterConfig) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		sink:          sink,
		queue:         make(chan violation.Incident, cfg.QueueSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger.With("component", "audit"),
		onDrop:        cfg.OnDrop,
	}
}

// Enqueue queues inc for writing and reports whether it was accepted.
func (w *Writer) Enqueue(inc violation.Incident) bool {
	select {
	case w.queue <- inc:
		return true
	default:
		w.drop(1)
		return false
	}
}

// Dropped returns the number of incidents discarded so far.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

func (w *Writer) drop(n int) {
	w.dropped.Add(int64(n))
	if w.onDrop != nil {
		w.onDrop(n)
	}
}

// Run writes queued incidents in batches until ctx is cancelled, then
// flushes whatever is still queued and returns nil.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]violation.Incident, 0, w.batchSize)
	for {
		select {
		case inc := <-w.queue:
			batch = append(batch, inc)
			if len(batch) >= w.batchSize {
				batch = w.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = w.flush(ctx, batch)
		case <-ctx.Done():
			w.drain(batch)
			return nil
		}
	}
}

func (w *Writer) drain(batch []violation.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	for {
		select {
		case inc := <-w.queue:
			batch = append(batch, inc)
			if len(batch) >= w.batchSize {
				batch = w.flush(ctx, batch)
			}
		default:
			w.flush(ctx, batch)
			return
		}
	}
}

// flush persists batch and returns it emptied for reuse.
func (w *Writer) flush(ctx context.Context, batch []violation.Incident) []violation.Incident {
	if len(batch) == 0 {
		return batch
	}
	if err := w.sink.CreateBatch(ctx, batch); err != nil {
		w.logger.Error("incident batch failed", "size", len(batch), "err", err)
		w.drop(len(batch))
	} else {
		w.logger.Debug("incidents written", "size", len(batch))
	}
	return batch[:0]
}
