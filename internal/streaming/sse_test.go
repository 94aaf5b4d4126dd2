package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStream returns once the handler has subscribed and flushed its headers.
func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func readEvent(t *testing.T, r *bufio.Reader) (string, ProgressEvent) {
	t.Helper()
	var name string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var evt ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
			return name, evt
		}
	}
}

func TestSSEHandler_SessionStream(t *testing.T) {
	hub := NewMemoryHub()
	srv := httptest.NewServer(NewSSEHandler(hub, nil))
	defer srv.Close()

	stream := openStream(t, srv.URL+"/sessions/s1/events?type=chapter.completed")

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s2", EventType: "chapter.completed", Chapter: 9}))
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s1", EventType: "outline.ready"}))
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s1", EventType: "chapter.completed", Chapter: 1, Total: 3}))

	name, evt := readEvent(t, stream)
	assert.Equal(t, "chapter.completed", name)
	assert.Equal(t, "s1", evt.SessionID)
	assert.Equal(t, 1, evt.Chapter)
	assert.Equal(t, 3, evt.Total)
}

func TestSSEHandler_AllSessions(t *testing.T) {
	hub := NewMemoryHub()
	srv := httptest.NewServer(NewSSEHandler(hub, nil))
	defer srv.Close()

	stream := openStream(t, srv.URL+"/events")

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "a", EventType: "outline.ready"}))
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "b", EventType: "book.completed"}))

	_, first := readEvent(t, stream)
	_, second := readEvent(t, stream)
	assert.Equal(t, "a", first.SessionID)
	assert.Equal(t, "b", second.SessionID)
}

func TestSSEHandler_UnknownRoute(t *testing.T) {
	srv := httptest.NewServer(NewSSEHandler(NewMemoryHub(), nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
