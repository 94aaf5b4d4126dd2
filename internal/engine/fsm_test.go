package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/internal/streaming"
	"github.com/rendis/bookforge/pkg/schema"
)

// recordingPublisher records published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []streaming.ProgressEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e streaming.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

func TestPipelineFSM_HappyPath(t *testing.T) {
	pub := &recordingPublisher{}
	fsm := NewPipelineFSM(pub)
	ctx := context.Background()

	steps := []schema.PipelineStatus{
		schema.StatusNotStarted,
		schema.StatusOutlineGenerating,
		schema.StatusOutlineReady,
		schema.StatusChapterGenerating,
		schema.StatusChapterGenerating,
		schema.StatusConclusionGenerating,
		schema.StatusAssembling,
		schema.StatusCompleted,
	}
	for i := 1; i < len(steps); i++ {
		require.NoError(t, fsm.Transition(ctx, "s-1", steps[i-1], steps[i], Progress{Chapter: i}))
	}

	assert.Equal(t, []string{
		schema.EventPipelineStarted,
		schema.EventOutlineReady,
		schema.EventChapterCompleted,
		schema.EventChapterCompleted,
		schema.EventConclusionCompleted,
		schema.EventPipelineCompleted,
	}, pub.Types())
}

func TestPipelineFSM_ResumeSkipsOutline(t *testing.T) {
	pub := &recordingPublisher{}
	fsm := NewPipelineFSM(pub)

	require.NoError(t, fsm.Transition(context.Background(), "s", schema.StatusNotStarted, schema.StatusChapterGenerating, Progress{Chapter: 4}))
	assert.Equal(t, []string{schema.EventPipelineResumed}, pub.Types())
}

func TestPipelineFSM_InvalidTransition(t *testing.T) {
	fsm := NewPipelineFSM(nil)

	err := fsm.Transition(context.Background(), "s", schema.StatusOutlineGenerating, schema.StatusAssembling, Progress{})
	require.Error(t, err)

	var pe *schema.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, schema.ErrCodeInvalidTransition, pe.Code)
	assert.Contains(t, pe.Message, "outline_generating")
}

func TestPipelineFSM_TerminalStatesAbsorb(t *testing.T) {
	for _, terminal := range []schema.PipelineStatus{schema.StatusCompleted, schema.StatusCancelled, schema.StatusFailed} {
		assert.True(t, terminal.Terminal())
		for to := range ValidTransitions {
			assert.False(t, IsValidTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestPipelineFSM_CancelAndFailFromEveryInProgressState(t *testing.T) {
	for from := range ValidTransitions {
		if from.Terminal() {
			continue
		}
		assert.True(t, IsValidTransition(from, schema.StatusCancelled), "%s -> cancelled", from)
		assert.True(t, IsValidTransition(from, schema.StatusFailed), "%s -> failed", from)
	}
}
