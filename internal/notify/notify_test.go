package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

func TestSendPostsEventAndPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, slog.Default())
	n.Send(context.Background(), "call.started", map[string]any{"call_id": "abc123"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotBody != nil
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "call.started", gotBody["event"])
	data, ok := gotBody["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc123", data["call_id"])
}

func TestSendNoopWithEmptyURL(t *testing.T) {
	n := New("", slog.Default())
	// Must not panic and must not attempt any network call.
	n.Send(context.Background(), "call.started", map[string]any{"call_id": "abc"})
}

func TestSendNoopOnNilNotifier(t *testing.T) {
	var n *Notifier
	n.Send(context.Background(), "call.started", map[string]any{})
}

func TestSendSurvivesCancelledContext(t *testing.T) {
	var delivered atomicBool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.set(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	n.Send(ctx, "call.ended", map[string]any{"call_id": "xyz"})
	cancel() // the call's own context is usually cancelled right at teardown

	waitFor(t, func() bool { return delivered.get() })
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicBool) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}
