package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/gem-relay/internal/metrics"
)

// BatchSender is the subset of *pgxpool.Pool used to write batches.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Execer is the subset of *pgxpool.Pool used to create the schema.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the connection_events table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, CreateTableSQL); err != nil {
		return fmt.Errorf("create connection_events: %w", err)
	}
	return nil
}

// Option configures a Writer.
type Option func(*Writer)

// WithMetrics records drops and flush failures on m.
func WithMetrics(m *metrics.Relay) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithClock sets the clock driving periodic flushes.
func WithClock(clock clockwork.Clock) Option {
	return func(w *Writer) { w.clock = clock }
}

// Writer buffers connection events and writes them to connection_events in batches.
type Writer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Relay
	clock   clockwork.Clock

	input *Buffer[Event]
	db    BatchSender

	// Batching
	batch   []Event
	batchMu sync.Mutex
	flushMu sync.Mutex

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	consumerDone chan struct{}
	tickerDone   chan struct{}

	stats Stats
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	w := &Writer{
		cfg:    cfg,
		logger: logger,
		db:     db,
		input:  NewBuffer[Event](cfg.BufferSize, cfg.MaxBufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	return w
}

// Record enqueues an event without blocking. Returns false if it was dropped.
func (w *Writer) Record(ev Event) bool {
	if w.input.Send(ev) {
		return true
	}

	w.batchMu.Lock()
	w.stats.Dropped++
	dropped := w.stats.Dropped
	w.batchMu.Unlock()

	w.metrics.JournalDrop()
	// Log the first drop and every thousandth after it
	if dropped%1000 == 1 {
		w.logger.Warn("journal buffer full, dropping events", "dropped", dropped)
	}
	return false
}

// Start begins consuming events and writing to the database. Cancelling ctx
// does not stop the writer; only Stop does, so events recorded while the
// process shuts down are still written.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.consumerDone = make(chan struct{})
	w.tickerDone = make(chan struct{})

	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains buffered events, writes them and shuts the writer down.
// The final flush uses ctx, so it is bounded by the caller's deadline.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	// Closing the buffer lets the consumer drain what is left and exit
	w.input.Close()

	if w.cancel != nil {
		select {
		case <-w.consumerDone:
		case <-ctx.Done():
			w.logger.Warn("journal writer stop timed out")
		}
		w.cancel()
		<-w.tickerDone
	}

	// Pick up anything the consumer did not get to
	if rest := w.input.DrainTo(0); len(rest) > 0 {
		w.batchMu.Lock()
		w.batch = append(w.batch, rest...)
		w.stats.Recorded += int64(len(rest))
		w.batchMu.Unlock()
	}

	if err := w.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current statistics.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	stats := w.stats
	w.batchMu.Unlock()

	stats.Buffer = w.input.Stats()
	return stats
}

// consumeLoop moves events from the buffer into the current batch.
func (w *Writer) consumeLoop() {
	defer close(w.consumerDone)

	for {
		ev, ok := w.input.Receive()
		if !ok {
			return
		}

		w.batchMu.Lock()
		w.batch = append(w.batch, ev)
		w.stats.Recorded++
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush(w.ctx)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer close(w.tickerDone)

	ticker := w.clock.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.Chan():
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := w.clock.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		w.metrics.JournalFlushError()
		return err
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch))
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed connection events",
		"count", len(batch),
		"duration", w.clock.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch.
func (w *Writer) batchInsert(ctx context.Context, events []Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEventSQL, w.row(ev)...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// row converts an Event into insert arguments. Closed-only columns are NULL
// for opened events.
func (w *Writer) row(ev Event) []any {
	var (
		reason    *string
		duration  *int64
		framesIn  *int64
		framesOut *int64
	)
	if ev.Kind == EventClosed {
		ms := ev.Duration.Milliseconds()
		reason, duration = &ev.Reason, &ms
		framesIn, framesOut = &ev.FramesIn, &ev.FramesOut
	}

	return []any{
		w.cfg.Instance,
		string(ev.Kind),
		ev.ConnID,
		ev.Role,
		ev.RemoteAddr,
		reason,
		duration,
		framesIn,
		framesOut,
		ev.At.UTC(),
	}
}
