// Package batch implements the Batch Writer (C6): a single-writer,
// bounded-buffer component that batches MetricRow inserts and flushes them
// to the Store on a size or time trigger, per spec.md §4.6.
//
// Grounded on the teacher's internal/pool — buffer mutation guarded by one
// mutex, single-inflight drain — generalized from a connection free-list
// to a row buffer with a flush-interval timer instead of an idle timeout.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

// defaultBatchSize and defaultFlushInterval are §4.6's defaults.
const (
	defaultBatchSize     = 100
	defaultFlushInterval = 30 * time.Second
)

// FlushResult is the return shape of flush() (§4.6).
type FlushResult struct {
	Total        int
	Valid        int
	Invalid      int
	Duplicates   int
	StorageTimeS float64
	Errors       []string
}

// Writer is the Batch Writer component (C6).
type Writer struct {
	mu            sync.Mutex
	flushMu       sync.Mutex // held for the duration of one flush; guarantees single-inflight
	store         store.Store
	batchSize     int
	flushInterval time.Duration
	buffer        []models.MetricRow
	lastFlush     time.Time

	lastResult FlushResult
}

// New constructs a Writer. batchSize<=0 and flushInterval<=0 fall back to
// the §4.6 defaults.
func New(s store.Store, batchSize int, flushInterval time.Duration) *Writer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &Writer{store: s, batchSize: batchSize, flushInterval: flushInterval, lastFlush: time.Now()}
}

// Add enqueues one row. If after enqueue the buffer has reached batchSize,
// or flushInterval has elapsed since the last flush, Add triggers a flush
// synchronously (§4.6). Concurrent Add calls are safe; flush is strictly
// single-inflight.
func (w *Writer) Add(ctx context.Context, row models.MetricRow) (triggered bool, res FlushResult, err error) {
	return w.AddAll(ctx, []models.MetricRow{row})
}

// AddAll enqueues rows and applies the same size/time trigger as Add.
func (w *Writer) AddAll(ctx context.Context, rows []models.MetricRow) (triggered bool, res FlushResult, err error) {
	w.mu.Lock()
	w.buffer = append(w.buffer, rows...)
	shouldFlush := len(w.buffer) >= w.batchSize || time.Since(w.lastFlush) >= w.flushInterval
	w.mu.Unlock()

	if !shouldFlush {
		return false, FlushResult{}, nil
	}
	res, err = w.Flush(ctx)
	return true, res, err
}

// Flush atomically drains the buffer and performs one bulk insert. On
// insert failure, rows are NOT re-enqueued — the error is recorded and the
// buffer is cleared to avoid unbounded growth (§4.6's back-pressure
// policy).
func (w *Writer) Flush(ctx context.Context) (FlushResult, error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	drained := w.buffer
	w.buffer = nil
	w.lastFlush = time.Now()
	w.mu.Unlock()

	if len(drained) == 0 {
		return FlushResult{}, nil
	}

	started := time.Now()
	stats, err := w.store.InsertRows(ctx, drained)
	elapsed := time.Since(started).Seconds()

	res := FlushResult{
		Total:        stats.Total,
		Valid:        stats.Valid,
		Invalid:      stats.Invalid,
		Duplicates:   stats.Duplicates,
		StorageTimeS: elapsed,
		Errors:       stats.Errors,
	}
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Valid = 0
		res.Invalid = len(drained)
	}

	w.mu.Lock()
	w.lastResult = res
	w.mu.Unlock()

	return res, err
}

// LastResult returns the most recent flush's result, for health reporting.
func (w *Writer) LastResult() FlushResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult
}

// BufferLen reports the number of rows currently buffered, unflushed.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
