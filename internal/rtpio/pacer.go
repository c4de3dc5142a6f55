// Package rtpio implements the RTP egress pacer (20ms fixed-cadence
// output with jitter-free timing) and the symmetric-RTP destination
// binder used to traverse NATs without relying on ICE.
//
// Grounded on the teacher's writeSIP/writeTG ticker loops in
// bridge/media_bridge.go (drift accumulator, backlog draining) and on
// the leaky-bucket pacer in the camsRelay reference example (explicit
// monotonic scheduling, catch-up on overrun, burst absorption).
package rtpio

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pion/rtp"
)

const (
	frameDur = 20 * time.Millisecond

	// sleepCoarseMargin is how far ahead of the deadline the loop switches
	// from time.Sleep to the busy-wait tail, trading CPU for timing
	// precision only in the final stretch.
	sleepCoarseMargin = 2 * time.Millisecond
	busyWaitStep      = 500 * time.Microsecond

	// overrunThreshold is how far behind the scheduled deadline the loop
	// tolerates before giving up on catching up and resyncing to wall
	// clock instead (a debugger pause, GC stall, or scheduler hiccup).
	overrunThreshold = 40 * time.Millisecond

	// minBufferFrames is how many encoded frames must be queued before
	// the pacer starts emitting real audio, both at stream start and
	// after an underrun empties the queue.
	minBufferFrames = 3
)

// RTPWriter is the minimal sink a Pacer writes paced packets to. diago's
// RTPWriter() and a bare pion/rtp connection both satisfy this shape.
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Pacer emits one RTP packet every 20ms onto an RTPWriter, drawing
// encoded payloads from an internal queue fed by Enqueue. When the queue
// runs dry it emits a cached silence frame instead of stalling, and
// re-enters a short buffering phase before resuming real audio so a
// burst of decoder output doesn't immediately underrun again.
type Pacer struct {
	writer      RTPWriter
	payloadType uint8
	ssrc        uint32
	samplesPer  uint32 // RTP timestamp advance per frame
	silence     []byte

	queue chan []byte

	onUnderrun func() // fired once per underrun streak, nil-safe

	mu        sync.Mutex
	seq       uint16
	timestamp uint32
	buffering bool
	underrun  bool // true while in an active underrun streak (for one-shot firing)
}

// NewPacer constructs a Pacer for one call's egress direction. silence is
// a pre-encoded frame of comfort noise (e.g. an all-0xFF µ-law frame) of
// the same size as a normal encoded frame for this codec; samplesPerFrame
// is the RTP clock advance per 20ms frame (e.g. 160 at 8kHz, which also
// applies to G.722 since its RTP clock runs at 8kHz).
func NewPacer(writer RTPWriter, payloadType uint8, samplesPerFrame int, silence []byte) *Pacer {
	p := &Pacer{
		writer:      writer,
		payloadType: payloadType,
		samplesPer:  uint32(samplesPerFrame),
		silence:     silence,
		queue:       make(chan []byte, 64),
		buffering:   true,
	}
	p.ssrc = randUint32()
	p.seq = uint16(randUint32())
	p.timestamp = randUint32()
	return p
}

// SetUnderrunCallback registers a callback invoked once at the start of
// each underrun streak: the first silence frame sent (at stream start,
// while buffering, or because the queue is empty) fires it. It is not
// invoked again until a real frame has been sent and a silence frame
// follows again.
func (p *Pacer) SetUnderrunCallback(fn func()) {
	p.mu.Lock()
	p.onUnderrun = fn
	p.mu.Unlock()
}

// Enqueue submits an encoded frame for transmission. It never blocks
// indefinitely: if the queue is saturated the oldest queued frame is
// dropped to make room, since a backed-up egress queue means the output
// is already behind and holding more stale audio only makes it worse.
func (p *Pacer) Enqueue(payload []byte) {
	for {
		select {
		case p.queue <- payload:
			return
		default:
			select {
			case <-p.queue:
			default:
			}
		}
	}
}

// Clear drains all queued frames and forces the pacer back into its
// buffering phase, as if the stream had just started. Used when the
// turn controller invalidates in-flight AI audio on barge-in.
func (p *Pacer) Clear() {
	for {
		select {
		case <-p.queue:
		default:
			p.mu.Lock()
			p.buffering = true
			p.mu.Unlock()
			return
		}
	}
}

// Run drives the pacing loop until ctx is cancelled. It is meant to run
// in its own goroutine for the lifetime of the call.
func (p *Pacer) Run(ctx context.Context) {
	next := time.Now()
	for {
		next = next.Add(frameDur)
		now := time.Now()
		if d := next.Sub(now); d < -overrunThreshold {
			// Fallen too far behind to catch up without audible
			// artifacts; resync the schedule to wall clock.
			next = now.Add(frameDur)
		}
		if !sleepUntil(ctx, next) {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		p.sendNext()
	}
}

// sleepUntil blocks until deadline or ctx cancellation, returning false
// on cancellation. It sleeps coarsely until close to the deadline, then
// busy-waits in short steps for precise wakeup timing.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining > sleepCoarseMargin {
			timer := time.NewTimer(remaining - sleepCoarseMargin)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false
			}
			continue
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if remaining > busyWaitStep {
			time.Sleep(busyWaitStep)
		} else {
			time.Sleep(remaining)
			return true
		}
	}
}

func (p *Pacer) sendNext() {
	p.mu.Lock()
	buffering := p.buffering
	if buffering && len(p.queue) >= minBufferFrames {
		buffering = false
		p.buffering = false
	}
	p.mu.Unlock()

	var payload []byte
	if !buffering {
		select {
		case payload = <-p.queue:
		default:
		}
	}

	if payload == nil {
		p.mu.Lock()
		if !p.underrun {
			p.underrun = true
			cb := p.onUnderrun
			p.mu.Unlock()
			if cb != nil {
				cb()
			}
		} else {
			p.mu.Unlock()
		}
		payload = p.silence
		// An empty queue means the next real frame should restart the
		// buffering phase rather than play out in dribbles.
		p.mu.Lock()
		p.buffering = true
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		p.underrun = false
		p.mu.Unlock()
	}

	p.writeFrame(payload)
}

func (p *Pacer) writeFrame(payload []byte) {
	p.mu.Lock()
	seq := p.seq
	ts := p.timestamp
	p.seq++
	p.timestamp += p.samplesPer
	p.mu.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.payloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	_ = p.writer.WriteRTP(pkt)
}

func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back
		// to a fixed but non-zero value rather than panicking the call.
		return 0x4a17c3e9
	}
	return binary.BigEndian.Uint32(b[:])
}
