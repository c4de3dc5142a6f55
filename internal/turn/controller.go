// Package turn implements the call's turn-taking state machine: the
// lifecycle gate that decides when the AI may start a new response, the
// echo guard that suppresses immediate self-triggering, the
// buffer-clear-exactly-once rule, and barge-in handling.
//
// Implemented as a single-owner actor (design notes, generalized from the
// teacher's one-goroutine-per-direction convention in
// bridge/media_bridge.go): one goroutine owns every Lifecycle field and a
// mailbox of closures. Callers never touch state directly; they enqueue a
// message, and read state back only through an immutable Snapshot handed
// across the mailbox. This rules out the shared-atomics races that
// plague ad hoc "check-then-act" lifecycle code under concurrent AI
// events and SIP-side barge-in detection.
package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sipaibridge/internal/audio"
	"sipaibridge/internal/realtime"
	"sipaibridge/internal/rtpio"
)

// State is the coarse call phase, mirroring spec.md §4.8's diagram.
type State int

const (
	StateIdle State = iota
	StateListening
	StateAwaitingSTT
	StateReadyToReply
	StateRequesting
	StateSpeaking
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingSTT:
		return "awaiting_stt"
	case StateReadyToReply:
		return "ready_to_reply"
	case StateRequesting:
		return "requesting"
	case StateSpeaking:
		return "speaking"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

const (
	gateQuietPeriod  = 300 * time.Millisecond
	echoGuardWindow  = 500 * time.Millisecond
	transcriptWatchdogTimeout = 3 * time.Second
	gatePollInterval = 10 * time.Millisecond

	// replyDelay is the SIP-safe lead-in applied before a normal
	// (non-greeting) response.create, matching spec.md §4.8's "60 ms for
	// quotes" default for ordinary turn exchanges.
	replyDelay = 60 * time.Millisecond
	// greetingLeadIn is the fixed delay before the one gate-bypassing
	// response.create allowed per call.
	greetingLeadIn = 180 * time.Millisecond
)

// Snapshot is an immutable view of the controller's observable state,
// handed back through the mailbox rather than a shared pointer.
type Snapshot struct {
	State             State
	ResponseActive    bool
	ResponseQueued    bool
	TranscriptPending bool
	CallEnded         bool
	SocketConnected   bool
	LastUserSpeechAt  time.Time
	LastAIFinishedAt  time.Time
}

func canCreateResponse(s Snapshot) bool {
	return !s.ResponseActive && !s.ResponseQueued && !s.TranscriptPending &&
		!s.CallEnded && s.SocketConnected &&
		(s.LastUserSpeechAt.IsZero() || time.Since(s.LastUserSpeechAt) > gateQuietPeriod)
}

func echoGuardBlocks(s Snapshot) bool {
	return !s.LastAIFinishedAt.IsZero() && time.Since(s.LastAIFinishedAt) < echoGuardWindow
}

// Controller is a per-call turn controller. Construct one per call,
// start Run in its own goroutine, and wire its On* methods as the
// realtime.Client's Handlers.
type Controller struct {
	rt       *realtime.Client
	pacer    *rtpio.Pacer
	downlink *audio.Downlink
	log      *slog.Logger

	mailbox chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	stopOnce sync.Once

	// Fields below are owned exclusively by the Run goroutine; every
	// mutation happens inside a closure processed there.
	state             State
	responseActive    bool
	responseQueued    bool
	transcriptPending bool
	callEnded         bool
	socketConnected   bool
	lastUserSpeechAt  time.Time
	lastAIFinishedAt  time.Time
	greetingSent      bool

	watchdogTimer *time.Timer
	watchdogGen   int
}

// New constructs a Controller for one call. ctx bounds the controller's
// lifetime; cancelling it (or calling Stop) ends Run.
func New(ctx context.Context, rt *realtime.Client, pacer *rtpio.Pacer, downlink *audio.Downlink, log *slog.Logger) *Controller {
	cctx, cancel := context.WithCancel(ctx)
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		rt:              rt,
		pacer:           pacer,
		downlink:        downlink,
		log:             log,
		mailbox:         make(chan func(), 64),
		ctx:             cctx,
		cancel:          cancel,
		state:           StateIdle,
		socketConnected: true,
	}
}

// AttachClient sets the realtime client the controller drives. It must
// be called after New and before Run starts draining the mailbox (the
// call handler resolves a circular dependency this way: the client's
// Handlers close over the controller's methods before the client
// exists, so the controller is built with a nil client, the client is
// dialed, and then it is attached here). Any events that arrive between
// Dial returning and Run starting are simply queued in the mailbox
// until Run begins processing them, by which point rt is already set.
func (c *Controller) AttachClient(rt *realtime.Client) {
	c.rt = rt
}

// Run processes the mailbox until ctx is cancelled or Stop is called.
// Call this in its own goroutine for the life of the call.
func (c *Controller) Run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.mailbox:
			fn()
		}
	}
}

// Stop ends Run and cancels any pending watchdog. Safe to call more than
// once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
	})
}

func (c *Controller) post(fn func()) {
	select {
	case c.mailbox <- fn:
	case <-c.ctx.Done():
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:             c.state,
		ResponseActive:    c.responseActive,
		ResponseQueued:    c.responseQueued,
		TranscriptPending: c.transcriptPending,
		CallEnded:         c.callEnded,
		SocketConnected:   c.socketConnected,
		LastUserSpeechAt:  c.lastUserSpeechAt,
		LastAIFinishedAt:  c.lastAIFinishedAt,
	}
}

// Snapshot returns the controller's current observable state. Safe to
// call concurrently; blocks briefly on the mailbox.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	c.post(func() { reply <- c.snapshotLocked() })
	select {
	case s := <-reply:
		return s
	case <-c.ctx.Done():
		return Snapshot{State: StateTerminal, CallEnded: true}
	}
}

// --- Inbound AI event handlers (wire these as realtime.Handlers) ---

func (c *Controller) OnResponseCreated() {
	c.post(func() {
		c.responseActive = true
		c.responseQueued = false
		c.state = StateSpeaking
		if err := c.rt.ClearInputBuffer(); err != nil {
			c.log.Error("turn: clear input buffer failed", "error", err)
		}
	})
}

func (c *Controller) OnResponseDone() {
	c.post(func() {
		c.responseActive = false
		c.lastAIFinishedAt = time.Now()
		if c.state != StateTerminal {
			c.state = StateIdle
		}
	})
}

func (c *Controller) OnSpeechStarted() {
	c.post(func() {
		c.lastUserSpeechAt = time.Now()
		if c.state == StateIdle {
			c.state = StateListening
		}
	})
}

func (c *Controller) OnSpeechStopped() {
	c.post(func() {
		c.lastUserSpeechAt = time.Now()
		c.transcriptPending = true
		c.state = StateAwaitingSTT
		c.armWatchdog()
	})
}

func (c *Controller) OnTranscriptionCompleted(text string) {
	c.post(func() {
		c.transcriptPending = false
		c.disarmWatchdog()
		if c.state == StateAwaitingSTT {
			c.state = StateReadyToReply
		}
	})
	// A completed transcript is what makes the controller eligible to
	// reply; queue the request now, subject to the gate and echo guard.
	c.QueueResponseCreate(replyDelay, false, 2*time.Second, "")
}

func (c *Controller) OnTranscriptDelta(string) {}
func (c *Controller) OnTranscriptDone(string)  {}

func (c *Controller) OnError(err error) {
	c.log.Warn("turn: realtime error event", "error", err)
}

// OnSocketDisconnect marks the call ended due to a fatal WebSocket
// error; per spec.md §7, this escalates to call termination.
func (c *Controller) OnSocketDisconnect(err error) {
	c.post(func() {
		c.socketConnected = false
		c.callEnded = true
		c.state = StateTerminal
		c.disarmWatchdog()
	})
}

// OnCallEnded marks the call over (BYE received, operator hangup, etc).
func (c *Controller) OnCallEnded() {
	c.post(func() {
		c.callEnded = true
		c.state = StateTerminal
		c.disarmWatchdog()
	})
}

// ReportBargeIn is called by the ingress DSP/decoder pipeline when
// caller energy crosses the barge-in threshold while the AI is
// speaking. Idempotent: calling it when no response is active is a
// no-op, matching the idempotence law required by spec.md §8.
func (c *Controller) ReportBargeIn() {
	c.post(func() {
		if !c.responseActive {
			return
		}
		c.pacer.Clear()
		c.downlink.Reset()
		if err := c.rt.CancelResponse(); err != nil {
			c.log.Error("turn: cancel response failed", "error", err)
		}
		c.responseActive = false
		c.responseQueued = false
		c.state = StateListening
		c.lastUserSpeechAt = time.Now()
	})
}

// --- Response-creation channel ---

// QueueResponseCreate implements spec.md §4.8's
// queue-response-create(delay_ms, wait_for_current, max_wait_ms): it
// optionally waits for any in-flight response to finish, then waits for
// the gate (including the echo guard) to open, then sleeps delay before
// committing response.create. If the gate never opens within max_wait,
// the request is dropped silently. instructions may be empty.
func (c *Controller) QueueResponseCreate(delay time.Duration, waitForCurrent bool, maxWait time.Duration, instructions string) {
	go c.runResponseCreateRequest(delay, waitForCurrent, maxWait, instructions)
}

func (c *Controller) runResponseCreateRequest(delay time.Duration, waitForCurrent bool, maxWait time.Duration, instructions string) {
	deadline := time.Now().Add(maxWait)

	if waitForCurrent {
		if !c.waitUntil(deadline, func(s Snapshot) bool { return !s.ResponseActive }) {
			return
		}
	}

	if !c.waitUntil(deadline, func(s Snapshot) bool {
		return canCreateResponse(s) && !echoGuardBlocks(s)
	}) {
		return
	}

	select {
	case <-time.After(delay):
	case <-c.ctx.Done():
		return
	}

	c.commitResponseCreate(instructions)
}

// waitUntil polls Snapshot until cond is satisfied or deadline/ctx
// passes. Returns false on timeout or cancellation (the "drop silently"
// path).
func (c *Controller) waitUntil(deadline time.Time, cond func(Snapshot) bool) bool {
	for {
		if cond(c.Snapshot()) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(gatePollInterval):
		case <-c.ctx.Done():
			return false
		}
	}
}

func (c *Controller) commitResponseCreate(instructions string) {
	c.post(func() {
		snap := c.snapshotLocked()
		if !canCreateResponse(snap) || echoGuardBlocks(snap) {
			return // conditions changed between gate-pass and commit; drop
		}
		c.responseQueued = true
		c.state = StateRequesting
		if err := c.rt.CreateResponse(instructions); err != nil {
			c.log.Error("turn: create response failed", "error", err)
			c.responseQueued = false
			c.state = StateReadyToReply
		}
	})
}

// SendGreeting sends the one response.create per call allowed to bypass
// the gate: the initial greeting, after a fixed lead-in, before any
// caller audio has been processed.
func (c *Controller) SendGreeting(instructions string) {
	go func() {
		select {
		case <-time.After(greetingLeadIn):
		case <-c.ctx.Done():
			return
		}
		c.post(func() {
			if c.callEnded || c.greetingSent {
				return
			}
			c.greetingSent = true
			c.responseQueued = true
			c.state = StateRequesting
			if err := c.rt.CreateResponse(instructions); err != nil {
				c.log.Error("turn: greeting create response failed", "error", err)
				c.responseQueued = false
				c.state = StateIdle
			}
		})
	}()
}

// --- Transcript watchdog ---

func (c *Controller) armWatchdog() {
	c.disarmWatchdog()
	c.watchdogGen++
	gen := c.watchdogGen
	c.watchdogTimer = time.AfterFunc(transcriptWatchdogTimeout, func() {
		c.post(func() {
			if c.watchdogGen != gen || !c.transcriptPending {
				return
			}
			c.transcriptPending = false
			c.log.Warn("turn: transcript watchdog fired, releasing transcript-pending")
			if c.state == StateAwaitingSTT {
				c.state = StateReadyToReply
			}
		})
	})
}

// disarmWatchdog must only be called from within a mailbox closure (the
// Run goroutine), since it mutates watchdog state directly.
func (c *Controller) disarmWatchdog() {
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
	}
	c.watchdogGen++
}
