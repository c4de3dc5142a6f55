package asynclog

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncRecorder is a minimal slog.Handler that records records for
// assertions, guarding access with a mutex since Handle is invoked from
// the Handler's own drain goroutine, not the test goroutine.
type syncRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (r *syncRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *syncRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}
func (r *syncRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *syncRecorder) WithGroup(string) slog.Handler      { return r }

func (r *syncRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

func TestHandlerDeliversRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &syncRecorder{}
	h := NewHandler(ctx, rec)
	logger := slog.New(h)

	logger.Info("hello", "n", 1)
	logger.Warn("world")

	waitFor(t, func() bool { return rec.count() == 2 })
}

func TestHandlerEnabledDelegates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &syncRecorder{}
	h := NewHandler(ctx, rec)
	assert.True(t, h.Enabled(ctx, slog.LevelDebug))
}

func TestHandlerWithAttrsPreservesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &syncRecorder{}
	h := NewHandler(ctx, rec)
	scoped := slog.New(h).With("call_id", "abc")

	scoped.Info("scoped message")
	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestHandlerDropsUnderBackpressureWithoutBlocking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A handler that never drains lets the queue fill up; Handle must
	// still return immediately instead of blocking the caller.
	block := make(chan struct{})
	blocking := &blockingHandler{unblock: block}
	h := NewHandler(ctx, blocking)

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueCapacity*2; i++ {
			h.Handle(ctx, slog.Record{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked under backpressure")
	}
	close(block)
}

func TestCloseFlushesQueuedRecordsEvenAfterCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &syncRecorder{}
	h := NewHandler(ctx, rec)
	logger := slog.New(h)

	logger.Info("shutdown complete")
	cancel() // simulate the interrupt-driven shutdown racing Close

	h.Close()
	assert.Equal(t, 1, rec.count(), "Close must flush records queued before it was called")
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHandler(ctx, &syncRecorder{})
	assert.NotPanics(t, func() {
		h.Close()
		h.Close()
	})
}

func TestCloseOnDerivedHandlerStopsSharedDrain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &syncRecorder{}
	h := NewHandler(ctx, rec)
	derived := h.WithAttrs([]slog.Attr{slog.String("call_id", "abc")}).(*Handler)

	derived.Close()
	assert.Equal(t, 0, rec.count())
}

type blockingHandler struct{ unblock chan struct{} }

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.unblock
	return nil
}
func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }
