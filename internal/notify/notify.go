// Package notify sends fire-and-forget HTTP notifications for call
// lifecycle events (the call handler sends call.started and call.ended)
// to an operator-configured webhook. The payload schema is deliberately
// left open (SPEC_FULL.md's dispatch-webhook Open Question resolves to
// "integration-time decision, not guessed") — callers pass whatever
// fields matter to them, and Notifier ships them as a JSON object.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// defaultTimeout bounds a single notification request; notifications
// are best-effort, so a stalled webhook must never hold up the caller.
const defaultTimeout = 5 * time.Second

// Notifier posts event payloads to a configured webhook URL without
// blocking the caller on the network round trip.
type Notifier struct {
	client *resty.Client
	url    string
	logger *slog.Logger
}

// New builds a Notifier posting to url. An empty url disables sending;
// Send becomes a no-op, which lets callers wire a Notifier
// unconditionally even when no webhook is configured.
func New(url string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(defaultTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Notifier{client: client, url: url, logger: logger}
}

// Send posts event and payload to the configured webhook on its own
// goroutine; it returns immediately and never propagates a delivery
// error to the caller, only logs it. payload is marshaled as the JSON
// request body alongside the event name.
//
// The request is detached from ctx rather than bound to it: the most
// common call site is call teardown, where ctx is cancelled right as
// Send is called, and a notification about a call ending must not be
// aborted by that same call's context going away.
func (n *Notifier) Send(ctx context.Context, event string, payload map[string]any) {
	if n == nil || n.url == "" {
		return
	}
	body := map[string]any{
		"event": event,
		"data":  payload,
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		resp, err := n.client.R().
			SetContext(sendCtx).
			SetBody(body).
			Post(n.url)
		if err != nil {
			n.logger.Warn("notify: delivery failed", "event", event, "err", err)
			return
		}
		if resp.IsError() {
			n.logger.Warn("notify: webhook returned error status", "event", event, "status", resp.StatusCode())
		}
	}()
}
