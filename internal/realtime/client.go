// Package realtime implements the WebSocket client for the conversational
// AI's realtime endpoint: connection setup (edge mode with no auth header,
// or direct mode with a bearer token and an explicit session.update), the
// outbound event senders the turn controller is allowed to call, and the
// inbound event dispatch that drives the turn controller's state machine.
//
// Grounded on iamprashant-voice-ai's websocketExecutor
// (establishConnection's dialer/header/query-param setup, sendMessage's
// write-mutex, responseListener's read loop and close-error handling,
// idempotent Close), adapted from its generic envelope to this spec's
// realtime event taxonomy and from text chat to audio streaming.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Mode selects how the client authenticates and initializes the session.
type Mode int

const (
	// ModeEdge dials a pre-authenticated edge-function URL; no
	// Authorization header is sent and no session.update is needed.
	ModeEdge Mode = iota
	// ModeDirect dials the vendor's realtime endpoint directly with a
	// bearer token, and sends a session.update to configure model/voice.
	ModeDirect
)

// Config describes how to reach and authenticate to the AI realtime
// endpoint for one call.
type Config struct {
	URL      string
	Mode     Mode
	APIKey   string // required for ModeDirect
	CallerID string // carried as a query parameter on the dial URL

	// Direct-mode session configuration; ignored in ModeEdge.
	Model        string
	Voice        string
	Instructions string
}

// Handlers are the turn controller's callbacks for inbound events. Each
// is invoked synchronously from the read pump goroutine; handlers must
// not block or they will stall delivery of subsequent events.
type Handlers struct {
	OnResponseCreated        func()
	OnResponseDone           func()
	OnAudioDelta             func(pcm []byte)
	OnTranscriptDelta        func(text string)
	OnTranscriptDone         func(text string)
	OnSpeechStarted          func()
	OnSpeechStopped          func()
	OnTranscriptionCompleted func(text string)
	OnError                  func(err error)
	// OnDisconnect is invoked once when the read pump exits for any
	// reason (clean close, network error, or ctx cancellation).
	OnDisconnect func(err error)
}

// Client is one call's connection to the AI realtime endpoint.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the WebSocket connection and starts the inbound read pump.
// In ModeDirect it also sends the initial session.update before
// returning.
func Dial(ctx context.Context, cfg Config, handlers Handlers) (*Client, error) {
	if cfg.Mode == ModeDirect && cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime: direct mode requires an API key")
	}

	dialURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: invalid url: %w", err)
	}
	if cfg.CallerID != "" {
		q := dialURL.Query()
		q.Set("caller_id", cfg.CallerID)
		dialURL.RawQuery = q.Encode()
	}

	headers := http.Header{}
	if cfg.Mode == ModeDirect {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, dialURL.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)

	c := &Client{
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}

	if cfg.Mode == ModeDirect {
		if err := c.sendSessionUpdate(cfg); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	go c.readPump()
	return c, nil
}

func (c *Client) sendSessionUpdate(cfg Config) error {
	return c.send(outboundEvent{
		Type: evSessionUpdate,
		Session: &sessionConfig{
			Model:        cfg.Model,
			Voice:        cfg.Voice,
			Instructions: cfg.Instructions,
			Modalities:   []string{"audio", "text"},
		},
	})
}

// AppendAudio base64-encodes pcm and sends an input_audio_buffer.append
// event, the uplink path for each 20ms caller frame.
func (c *Client) AppendAudio(pcm []byte) error {
	return c.send(outboundEvent{
		Type:  evInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// ClearInputBuffer sends input_audio_buffer.clear. The turn controller
// is the only caller permitted to invoke this, and only immediately
// after observing response.created (the buffer-clear rule).
func (c *Client) ClearInputBuffer() error {
	return c.send(outboundEvent{Type: evInputAudioBufferClear})
}

// CreateResponse sends response.create, optionally supplying an
// instructions override (used for the initial greeting). It never sets
// the modalities field.
func (c *Client) CreateResponse(instructions string) error {
	var opts *responseOptions
	if instructions != "" {
		opts = &responseOptions{Prompt: instructions}
	}
	return c.send(outboundEvent{Type: evResponseCreate, Response: opts})
}

// CancelResponse sends response.cancel, used when a barge-in interrupts
// an in-flight AI response.
func (c *Client) CancelResponse() error {
	return c.send(outboundEvent{Type: evResponseCancel})
}

func (c *Client) send(ev outboundEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (c *Client) readPump() {
	var exitErr error
	defer func() {
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(exitErr)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				exitErr = err
			}
			return
		}

		var ev inboundEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("realtime: malformed event: %w", err))
			}
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev inboundEvent) {
	switch ev.Type {
	case evResponseCreated:
		if c.handlers.OnResponseCreated != nil {
			c.handlers.OnResponseCreated()
		}
	case evResponseDone:
		if c.handlers.OnResponseDone != nil {
			c.handlers.OnResponseDone()
		}
	case evResponseAudioDelta:
		if c.handlers.OnAudioDelta == nil || ev.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("realtime: bad audio delta: %w", err))
			}
			return
		}
		c.handlers.OnAudioDelta(pcm)
	case evAudioTranscriptDelta:
		if c.handlers.OnTranscriptDelta != nil {
			c.handlers.OnTranscriptDelta(ev.Delta)
		}
	case evAudioTranscriptDone:
		if c.handlers.OnTranscriptDone != nil {
			c.handlers.OnTranscriptDone(ev.Transcript)
		}
	case evSpeechStarted:
		if c.handlers.OnSpeechStarted != nil {
			c.handlers.OnSpeechStarted()
		}
	case evSpeechStopped:
		if c.handlers.OnSpeechStopped != nil {
			c.handlers.OnSpeechStopped()
		}
	case evTranscriptionCompleted:
		if c.handlers.OnTranscriptionCompleted != nil {
			c.handlers.OnTranscriptionCompleted(ev.Transcript)
		}
	case evError:
		if c.handlers.OnError != nil {
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			c.handlers.OnError(fmt.Errorf("realtime: server error: %s", msg))
		}
	}
}

// Disconnect closes the connection and stops the read pump. It is safe
// to call more than once or concurrently with an in-flight read error.
func (c *Client) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
