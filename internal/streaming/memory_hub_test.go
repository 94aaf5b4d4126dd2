package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan ProgressEvent) ProgressEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return ProgressEvent{}
}

func assertEmpty(t *testing.T, ch <-chan ProgressEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, ProgressEvent{
		SessionID: "s-1",
		EventType: "chapter.completed",
		Chapter:   2,
		Total:     10,
	}))

	got := receive(t, ch)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, 2, got.Chapter)
	assert.Equal(t, 10, got.Total)
}

func TestFilterBySession(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "s-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s-1", EventType: "outline.ready"}))
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s-2", EventType: "outline.ready"}))

	assert.Equal(t, "s-1", receive(t, ch).SessionID)
	assertEmpty(t, ch)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{"pipeline.completed", "pipeline.failed"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s", EventType: "chapter.completed"}))
	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s", EventType: "pipeline.failed"}))

	assert.Equal(t, "pipeline.failed", receive(t, ch).EventType)
	assertEmpty(t, ch)
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()
	cancel()

	require.NoError(t, hub.Publish(ctx, ProgressEvent{SessionID: "s", EventType: "outline.ready"}))
	_, open := <-ch
	assert.False(t, open)

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelBuffer*2; i++ {
			_ = hub.Publish(ctx, ProgressEvent{SessionID: "s", EventType: "chapter.completed", Chapter: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, hub.Publish(ctx, ProgressEvent{}))
}
