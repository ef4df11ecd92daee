package login

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/observability/metrics"
	"github.com/finthenticate/server/internal/pkg/batch"
)

// Publisher pushes an encoded batch onto the queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Accumulator buffers validated login intents and flushes them as one queue
// message, whichever comes first: the buffer reaching its size cap, or the
// debounce window elapsing after the most recent push. Each push restarts the
// debounce timer, so a steady trickle still flushes within one window of its
// last arrival.
type Accumulator struct {
	publisher Publisher
	queue     string
	maxSize   int
	debounce  time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	buf    []domain.LoginIntent
	timer  *time.Timer
	closed bool
}

func NewAccumulator(publisher Publisher, queue string, maxSize int, debounce time.Duration, logger *slog.Logger) *Accumulator {
	return &Accumulator{
		publisher: publisher,
		queue:     queue,
		maxSize:   maxSize,
		debounce:  debounce,
		logger:    logger,
		buf:       make([]domain.LoginIntent, 0, maxSize),
	}
}

// Push buffers an intent. A duplicate of an intent already pending returns
// domain.ErrConflict and leaves the buffer untouched.
func (a *Accumulator) Push(intent domain.LoginIntent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return domain.ErrDownstream
	}
	for _, pending := range a.buf {
		if pending.SameRequest(intent) {
			return domain.ErrConflict
		}
	}

	a.buf = append(a.buf, intent)
	if len(a.buf) >= a.maxSize {
		a.flushLocked()
		return nil
	}

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounce, a.Flush)
	return nil
}

// Flush publishes whatever is buffered. Safe to call at any time; a flush of
// an empty buffer is a no-op.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

// flushLocked snapshots and clears the buffer before publishing, so intake
// keeps accepting while the publish is in flight. A failed publish drops the
// batch: clients time out and retry, which beats double-processing.
func (a *Accumulator) flushLocked() {
	if len(a.buf) == 0 {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}

	snapshot := a.buf
	a.buf = make([]domain.LoginIntent, 0, a.maxSize)

	go func() {
		records := make([]domain.BatchRecord, len(snapshot))
		for i, intent := range snapshot {
			records[i] = domain.BatchRecord{Data: intent}
		}

		encoded, err := batch.Encode(records)
		if err != nil {
			a.logger.Error("batch encode failed, dropping batch", "size", len(records), "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.publisher.Publish(ctx, a.queue, encoded); err != nil {
			a.logger.Error("batch publish failed, dropping batch", "size", len(records), "error", err)
			return
		}
		metrics.BatchesFlushed.Inc()
		metrics.BatchSize.Observe(float64(len(records)))
	}()
}

// Close flushes the remaining buffer and rejects further pushes.
func (a *Accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
	a.closed = true
}
