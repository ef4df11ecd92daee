package consume

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/pkg/batch"
)

func TestWorkerAggregatesMessages(t *testing.T) {
	f := newFixture(t)
	f.devices.trusted["u-1/dev-1"] = true
	f.devices.trusted["u-2/dev-1"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(f.proc, 10, 50*time.Millisecond, nil, slog.Default())
	w.Start(ctx)

	msg1, err := batch.Encode([]domain.BatchRecord{record("u-1")})
	require.NoError(t, err)
	msg2, err := batch.Encode([]domain.BatchRecord{record("u-2")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	replies := make([][]byte, 2)
	for i, msg := range [][]byte{msg1, msg2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := w.Handle(ctx, msg)
			require.NoError(t, err)
			replies[i] = reply
		}()
	}
	wg.Wait()

	// Both messages were processed in one round and share its summary.
	for _, reply := range replies {
		var sum Summary
		require.NoError(t, json.Unmarshal(reply, &sum))
		assert.Equal(t, Summary{Processed: 2}, sum)
	}
	assert.Len(t, f.events.events, 2)
}

func TestWorkerFlushesAtMessageCap(t *testing.T) {
	f := newFixture(t)
	f.devices.trusted["u-1/dev-1"] = true
	f.devices.trusted["u-2/dev-1"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A window far longer than the test: only the cap can trigger the flush.
	w := NewWorker(f.proc, 2, time.Hour, nil, slog.Default())
	w.Start(ctx)

	msg1, err := batch.Encode([]domain.BatchRecord{record("u-1")})
	require.NoError(t, err)
	msg2, err := batch.Encode([]domain.BatchRecord{record("u-2")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, msg := range [][]byte{msg1, msg2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Handle(ctx, msg)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.events.events, 2)
}

func TestWorkerRejectsUndecodableMessage(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(f.proc, 10, 50*time.Millisecond, nil, slog.Default())
	w.Start(ctx)

	_, err := w.Handle(ctx, []byte("garbage"))
	assert.Error(t, err)
	assert.Empty(t, f.events.events)
}
