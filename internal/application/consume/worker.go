package consume

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/pkg/batch"
	"github.com/finthenticate/server/internal/pkg/id"
)

type job struct {
	records []domain.BatchRecord
	done    chan Summary
}

// RoundLock serializes aggregation rounds across worker instances.
type RoundLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Worker adapts queue deliveries to the processor. Decoded messages are
// aggregated for a short window so several small queue messages share one
// store pipeline; acknowledgements wait until the aggregated round has run.
type Worker struct {
	proc   *Processor
	max    int
	window time.Duration
	lock   RoundLock
	logger *slog.Logger
	jobs   chan job
}

// NewWorker builds a worker. lock may be nil when a single instance runs.
func NewWorker(proc *Processor, maxMessages int, window time.Duration, lock RoundLock, logger *slog.Logger) *Worker {
	return &Worker{
		proc:   proc,
		max:    maxMessages,
		window: window,
		lock:   lock,
		logger: logger,
		jobs:   make(chan job, maxMessages),
	}
}

// Start launches the aggregation loop. It runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Handle is the queue handler. A message that cannot be decoded is returned
// as an error so it dead-letters; decodable messages block until their
// aggregated round has been processed, then reply with the round's summary.
func (w *Worker) Handle(ctx context.Context, body []byte) ([]byte, error) {
	records, err := batch.Decode(body)
	if err != nil {
		return nil, err
	}

	j := job{records: records, done: make(chan Summary, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case sum := <-j.done:
		reply, err := json.Marshal(sum)
		if err != nil {
			return nil, err
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	var pending []job
	var timer *time.Timer
	var timeout <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		var records []domain.BatchRecord
		for _, j := range pending {
			records = append(records, j.records...)
		}

		round := id.New()
		w.acquireRound(ctx)
		sum := w.proc.ProcessBatch(ctx, records)
		w.releaseRound(ctx)

		w.logger.Info("batch round processed",
			"round", round, "messages", len(pending), "records", len(records), "failed", sum.Failed)
		for _, j := range pending {
			j.done <- sum
		}
		pending = nil
		timeout = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case j := <-w.jobs:
			pending = append(pending, j)
			if len(pending) >= w.max {
				if timer != nil {
					timer.Stop()
				}
				flush()
				continue
			}
			if len(pending) == 1 {
				timer = time.NewTimer(w.window)
				timeout = timer.C
			}
		case <-timeout:
			flush()
		}
	}
}

// acquireRound takes the round lock, waiting out whichever sibling instance
// holds it. Contention is expected and brief.
func (w *Worker) acquireRound(ctx context.Context) {
	if w.lock == nil {
		return
	}
	for {
		err := w.lock.Acquire(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrConflict) {
			w.logger.Warn("round lock unavailable, proceeding without it", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (w *Worker) releaseRound(ctx context.Context) {
	if w.lock == nil {
		return
	}
	if err := w.lock.Release(ctx); err != nil {
		w.logger.Warn("round lock release failed", "error", err)
	}
}
