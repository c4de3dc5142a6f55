// Package audio holds the bounded frame queues that decouple the
// decoder/AI client from the real-time pacer, and the downlink assembler
// that turns arbitrarily-chunked AI audio into fixed 20ms frames.
//
// Grounded on the teacher's PCMPlayoutBuffer (bridge/pcm/playout_buffer.go,
// drop-oldest-on-overflow FIFO) and FrameAssembler (bridge/pcm/assembler.go,
// residual-tail chunking), generalized into a typed generic queue.
package audio

import "context"

// Frame is one 20ms slice of mono PCM16 audio moving through the bridge.
type Frame struct {
	PCM []int16
}

// BoundedStream is a fixed-capacity FIFO queue that never blocks on Push:
// once full, the oldest queued item is dropped to make room for the new
// one, since holding stale audio only increases latency further once a
// producer is already ahead of its consumer.
type BoundedStream[T any] struct {
	ch chan T
}

// NewBoundedStream returns a BoundedStream holding up to capacity items.
func NewBoundedStream[T any](capacity int) *BoundedStream[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedStream[T]{ch: make(chan T, capacity)}
}

// Push enqueues v, dropping the oldest queued item first if the stream
// is at capacity.
func (s *BoundedStream[T]) Push(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Get blocks until an item is available or ctx is done.
func (s *BoundedStream[T]) Get(ctx context.Context) (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryGet returns immediately with ok=false if the stream is empty.
func (s *BoundedStream[T]) TryGet() (v T, ok bool) {
	select {
	case v = <-s.ch:
		return v, true
	default:
		return v, false
	}
}

// Len reports the number of items currently queued.
func (s *BoundedStream[T]) Len() int { return len(s.ch) }

// Drain empties the stream, discarding everything queued.
func (s *BoundedStream[T]) Drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

const (
	// UplinkCapacity holds ~2s of caller audio (100 frames @ 20ms) awaiting
	// upload to the AI realtime session.
	UplinkCapacity = 100
	// DownlinkCapacity holds ~4s of AI audio (200 frames @ 20ms) awaiting
	// playout through the pacer; deeper than uplink since AI responses
	// can burst well ahead of real-time playback.
	DownlinkCapacity = 200
)

// NewUplink returns the caller->AI frame queue.
func NewUplink() *BoundedStream[Frame] {
	return NewBoundedStream[Frame](UplinkCapacity)
}

// Downlink reassembles AI audio, which arrives in arbitrarily-sized
// base64-decoded chunks, into fixed 20ms PCM16 frames for the egress
// pacer. A residual tail is carried across Feed calls; Close pads and
// flushes whatever is left rather than discarding a partial frame.
type Downlink struct {
	stream     *BoundedStream[Frame]
	frameBytes int
	residual   []byte
}

// NewDownlink returns a Downlink that frames audio at sampleRate (mono)
// into 20ms chunks.
func NewDownlink(sampleRate int) *Downlink {
	frameSamples := sampleRate / 50 // 20ms
	if frameSamples < 1 {
		frameSamples = 1
	}
	return &Downlink{
		stream:     NewBoundedStream[Frame](DownlinkCapacity),
		frameBytes: frameSamples * 2,
	}
}

// Stream returns the underlying frame queue for the pacer to consume.
func (d *Downlink) Stream() *BoundedStream[Frame] { return d.stream }

// Feed appends raw PCM16LE bytes (already base64-decoded) and emits any
// complete 20ms frames it can assemble, carrying a partial tail forward.
func (d *Downlink) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	d.residual = append(d.residual, chunk...)
	for len(d.residual) >= d.frameBytes {
		d.stream.Push(Frame{PCM: bytesToPCM16(d.residual[:d.frameBytes])})
		d.residual = d.residual[d.frameBytes:]
	}
}

// Close flushes a zero-padded partial tail frame, if any, and resets the
// residual buffer. Call when the AI response ends (response.done) or the
// downlink is being torn down.
func (d *Downlink) Close() {
	if len(d.residual) == 0 {
		return
	}
	padded := make([]byte, d.frameBytes)
	copy(padded, d.residual)
	d.stream.Push(Frame{PCM: bytesToPCM16(padded)})
	d.residual = nil
}

// Reset discards any partial tail and empties the queue, used when AI
// audio in flight is invalidated by a barge-in.
func (d *Downlink) Reset() {
	d.residual = nil
	d.stream.Drain()
}

func bytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// PCM16ToBytes converts mono PCM16 samples to little-endian wire bytes,
// the inverse of bytesToPCM16, used when handing uplink frames to the
// base64 encoder for the AI realtime session.
func PCM16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
