// Package asynclog provides a non-blocking slog.Handler for the hot
// audio-processing goroutines (C2/C3/C6), which must never stall on a
// slow log destination (a pipe to a log shipper, a slow terminal).
//
// The teacher logs straight through *slog.Logger from those same
// goroutines (bridge/media_bridge.go's writeSIP/writeTG loops); this
// module's ingress/egress paths run on a tighter 20ms budget with no
// headroom for a blocking write, so records are queued and handed off
// to one drain goroutine instead. Because it implements slog.Handler
// rather than exposing its own logging API, slog.New(asynclog.NewHandler(...))
// produces an ordinary *slog.Logger that drops straight into every
// existing call site (h.logger.Warn(...), callLogger.With(...), etc.)
// without those call sites knowing the sink is asynchronous.
package asynclog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// queueCapacity bounds the backlog of pending records before new ones
// are dropped (counted, not silently).
const queueCapacity = 512

// dropReportInterval is how often the drain goroutine reports an
// accumulated drop count, so backpressure is visible without a log
// line per dropped record.
const dropReportInterval = 5 * time.Second

// Handler is a slog.Handler that never blocks Handle: records are
// submitted to a bounded channel and written by a single drain
// goroutine through the wrapped handler.
type Handler struct {
	next      slog.Handler
	queue     chan slog.Record
	dropped   *atomic.Uint64
	closeOnce *sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}
}

// NewHandler wraps next, draining records on a goroutine until Close is
// called or ctx is cancelled (the two converge on the same shutdown
// path, so whichever happens first still flushes the queue). next
// performs the actual formatting/output (e.g.
// slog.NewTextHandler/slog.NewJSONHandler); asynclog only adds the
// non-blocking queue in front of it.
func NewHandler(ctx context.Context, next slog.Handler) *Handler {
	h := &Handler{
		next:      next,
		queue:     make(chan slog.Record, queueCapacity),
		dropped:   new(atomic.Uint64),
		closeOnce: new(sync.Once),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go h.drain()
	go func() {
		<-ctx.Done()
		h.Close()
	}()
	return h
}

func (h *Handler) drain() {
	ticker := time.NewTicker(dropReportInterval)
	defer ticker.Stop()
	defer close(h.doneCh)
	for {
		select {
		case <-h.closeCh:
			h.flush()
			return
		case rec := <-h.queue:
			_ = h.next.Handle(context.Background(), rec)
		case <-ticker.C:
			if n := h.dropped.Swap(0); n > 0 {
				rec := slog.NewRecord(time.Now(), slog.LevelWarn,
					"asynclog: dropped records under backpressure", 0)
				rec.AddAttrs(slog.Uint64("count", n))
				_ = h.next.Handle(context.Background(), rec)
			}
		}
	}
}

// flush writes every record still queued, without blocking for more to
// arrive; called once drain has been told to stop.
func (h *Handler) flush() {
	for {
		select {
		case rec := <-h.queue:
			_ = h.next.Handle(context.Background(), rec)
		default:
			return
		}
	}
}

// Close stops the drain goroutine after it has written every record
// queued at the time Close is called, then returns. It is safe to call
// more than once, and safe to call from a handler derived via WithAttrs
// or WithGroup (they share the same queue and drain goroutine).
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closeCh) })
	<-h.doneCh
}

// Enabled delegates to the wrapped handler so level filtering still
// happens before a record is ever queued.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle submits rec to the queue without blocking. If the queue is
// full, the record is dropped and counted; the count surfaces
// periodically via the drain goroutine's ticker rather than per-drop,
// so a backpressure burst doesn't itself become a logging storm.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.queue <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs/WithGroup wrap the next handler so attribute scoping
// (callLogger := logger.With("call_id", id)) still works end to end;
// the returned Handler shares this one's queue and drain goroutine.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		next: h.next.WithAttrs(attrs), queue: h.queue, dropped: h.dropped,
		closeOnce: h.closeOnce, closeCh: h.closeCh, doneCh: h.doneCh,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		next: h.next.WithGroup(name), queue: h.queue, dropped: h.dropped,
		closeOnce: h.closeOnce, closeCh: h.closeCh, doneCh: h.doneCh,
	}
}
