// internal/common/agent/client_test.go
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plan-generator/internal/common/config"
	"plan-generator/internal/common/logger"
)

// ==========================
// Helpers
// ==========================

type recorder struct {
	events []string
	final  Frame
	err    error
}

func (r *recorder) config() InvokeConfig {
	return InvokeConfig{
		AppID:   "269",
		AgentID: "298",
		OnOutputs: func(f Frame) {
			r.events = append(r.events, fmt.Sprintf("outputs:%v", f.Outputs["step"]))
		},
		OnComplete: func(f Frame) {
			r.events = append(r.events, "complete")
			r.final = f
		},
		OnError: func(err error) {
			r.events = append(r.events, "error")
			r.err = err
		},
	}
}

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, send func(event, data string))) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		send := func(event, data string) {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
			flusher.Flush()
		}
		handler(w, r, send)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	return NewClient(config.AgentConfig{BaseURL: baseURL, APIKey: "secret"}, logger.NewTestLogger(t))
}

func waitDone(t *testing.T, inv *Invocation) {
	t.Helper()
	select {
	case <-inv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("invocation did not settle")
	}
}

// ==========================
// Invoke
// ==========================

func TestInvoke_StreamsOutputsThenComplete(t *testing.T) {
	type captured struct {
		path, auth string
		body       map[string]interface{}
	}
	requests := make(chan captured, 1)

	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string, string)) {
		c := captured{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.body)
		requests <- c

		fmt.Fprint(w, ": keep-alive\n\n")
		send(EventOutputs, `{"outputs":{"step":1},"frame":{"id":"a"}}`)
		send(EventOutputs, `{"outputs":{"step":2},"frame":{"id":"b"}}`)
		send(EventComplete, `{"outputs":{"final_plan":"# Plan"},"frame":{"id":"c"}}`)
	})

	rec := &recorder{}
	inv, err := newTestClient(t, srv.URL+"/").Invoke(context.Background(), rec.config())
	require.NoError(t, err)
	waitDone(t, inv)

	assert.NoError(t, inv.Err())
	assert.Equal(t, []string{"outputs:1", "outputs:2", "complete"}, rec.events)
	assert.Equal(t, "# Plan", rec.final.Outputs["final_plan"])
	assert.Equal(t, "c", rec.final.Frame["id"])

	got := <-requests
	assert.Equal(t, "/api/apps/269/agents/298/trigger", got.path)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, map[string]interface{}{"variables": map[string]interface{}{}}, got.body)
}

func TestInvoke_ErrorEvent(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string, string)) {
		send(EventOutputs, `{"outputs":{"step":1}}`)
		send(EventError, `{"error":"agent crashed"}`)
		send(EventComplete, `{"outputs":{"final_plan":"late"}}`)
	})

	rec := &recorder{}
	inv, err := newTestClient(t, srv.URL).Invoke(context.Background(), rec.config())
	require.NoError(t, err)
	waitDone(t, inv)

	assert.Equal(t, []string{"outputs:1", "error"}, rec.events)
	require.Error(t, rec.err)
	assert.Contains(t, rec.err.Error(), "agent crashed")
	assert.Equal(t, rec.err, inv.Err())
}

func TestInvoke_StreamEndsWithoutTerminalEvent(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string, string)) {
		send(EventOutputs, `{"outputs":{"step":1}}`)
	})

	rec := &recorder{}
	inv, err := newTestClient(t, srv.URL).Invoke(context.Background(), rec.config())
	require.NoError(t, err)
	waitDone(t, inv)

	assert.Equal(t, []string{"outputs:1", "error"}, rec.events)
	assert.ErrorIs(t, rec.err, ErrStreamEnded)
}

func TestInvoke_MalformedOutputsFrameIsSkipped(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string, string)) {
		send(EventOutputs, `not json`)
		send(EventComplete, `{"outputs":{"final_plan":"ok"}}`)
	})

	rec := &recorder{}
	inv, err := newTestClient(t, srv.URL).Invoke(context.Background(), rec.config())
	require.NoError(t, err)
	waitDone(t, inv)

	assert.Equal(t, []string{"complete"}, rec.events)
}

func TestInvoke_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agent", http.StatusNotFound)
	}))
	defer srv.Close()

	rec := &recorder{}
	inv, err := newTestClient(t, srv.URL).Invoke(context.Background(), rec.config())
	require.Error(t, err)
	assert.Nil(t, inv)
	assert.Contains(t, err.Error(), "404")
	assert.Empty(t, rec.events)
}

func TestInvoke_RequiresIDs(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Invoke(context.Background(), InvokeConfig{})
	assert.Error(t, err)
}

func TestInvoke_CancelFiresNoCallback(t *testing.T) {
	first := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request, send func(string, string)) {
		send(EventOutputs, `{"outputs":{"step":1}}`)
		<-r.Context().Done()
	})

	rec := &recorder{}
	cfg := rec.config()
	onOutputs := cfg.OnOutputs
	cfg.OnOutputs = func(f Frame) {
		onOutputs(f)
		close(first)
	}

	inv, err := newTestClient(t, srv.URL).Invoke(context.Background(), cfg)
	require.NoError(t, err)

	<-first
	inv.Cancel()
	waitDone(t, inv)

	assert.ErrorIs(t, inv.Err(), context.Canceled)
	assert.Equal(t, []string{"outputs:1"}, rec.events)
}

// ==========================
// SSEReader
// ==========================

func TestSSEReader(t *testing.T) {
	stream := strings.Join([]string{
		": comment",
		"",
		"event: outputs",
		"data: {\"a\":1}",
		"",
		"data: line one\r",
		"data: line two",
		"id: 7",
		"",
		"event: complete",
		"data:{}",
		"",
		"event: dangling",
		"data: never terminated",
	}, "\n")

	r := NewSSEReader(strings.NewReader(stream))

	event, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "outputs", event)
	assert.Equal(t, `{"a":1}`, string(data))

	event, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", event)
	assert.Equal(t, "line one\nline two", string(data))

	event, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "complete", event)
	assert.Equal(t, "{}", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestInvocation_FinishOnce(t *testing.T) {
	cancelled := false
	inv := NewInvocation(func() { cancelled = true })

	inv.Finish(nil)
	inv.Finish(fmt.Errorf("late"))
	inv.Cancel()

	assert.True(t, cancelled)
	assert.NoError(t, inv.Err())
}
