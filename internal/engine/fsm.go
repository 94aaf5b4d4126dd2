package engine

import (
	"context"
	"slices"

	"github.com/rendis/bookforge/internal/streaming"
	"github.com/rendis/bookforge/pkg/schema"
)

// Publisher is satisfied by streaming.Hub; used to emit progress on transitions.
type Publisher interface {
	Publish(ctx context.Context, event streaming.ProgressEvent) error
}

// PipelineFSM validates chapter pipeline transitions and publishes progress events.
// It holds no per-session state; the pipeline passes the current status in.
type PipelineFSM struct {
	publisher Publisher
}

// NewPipelineFSM creates an FSM that publishes to p (nil disables publishing).
func NewPipelineFSM(p Publisher) *PipelineFSM {
	return &PipelineFSM{publisher: p}
}

// Progress carries optional detail attached to the emitted event.
type Progress struct {
	Chapter int
	Total   int
	Payload map[string]any
}

// Transition validates from -> to and publishes the matching event.
func (f *PipelineFSM) Transition(ctx context.Context, sessionID string, from, to schema.PipelineStatus, p Progress) error {
	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid pipeline transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	if eventType := transitionEvent(from, to); eventType != "" {
		f.Emit(ctx, sessionID, eventType, to, p)
	}
	return nil
}

// Emit publishes an event outside a transition (e.g. outline fallback).
// Publishing failures never affect the pipeline.
func (f *PipelineFSM) Emit(ctx context.Context, sessionID, eventType string, status schema.PipelineStatus, p Progress) {
	if f.publisher == nil {
		return
	}
	_ = f.publisher.Publish(context.WithoutCancel(ctx), streaming.ProgressEvent{
		SessionID: sessionID,
		EventType: eventType,
		Status:    string(status),
		Chapter:   p.Chapter,
		Total:     p.Total,
		Payload:   p.Payload,
	})
}

func transitionEvent(from, to schema.PipelineStatus) string {
	switch {
	case to == schema.StatusFailed:
		return schema.EventPipelineFailed
	case to == schema.StatusCancelled:
		return schema.EventPipelineCancelled
	case from == schema.StatusNotStarted && to == schema.StatusOutlineGenerating:
		return schema.EventPipelineStarted
	case from == schema.StatusNotStarted:
		return schema.EventPipelineResumed
	case to == schema.StatusOutlineReady:
		return schema.EventOutlineReady
	case from == schema.StatusChapterGenerating:
		return schema.EventChapterCompleted
	case from == schema.StatusConclusionGenerating:
		return schema.EventConclusionCompleted
	case to == schema.StatusCompleted:
		return schema.EventPipelineCompleted
	default:
		return ""
	}
}

// IsValidTransition reports whether the transition table allows from -> to.
func IsValidTransition(from, to schema.PipelineStatus) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// ValidTransitions defines the chapter pipeline state machine. Cancelled and
// Failed are reachable from every in-progress state.
var ValidTransitions = map[schema.PipelineStatus][]schema.PipelineStatus{
	schema.StatusNotStarted: {
		schema.StatusOutlineGenerating, schema.StatusChapterGenerating,
		schema.StatusConclusionGenerating, schema.StatusAssembling,
		schema.StatusCancelled, schema.StatusFailed,
	},
	schema.StatusOutlineGenerating:    {schema.StatusOutlineReady, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusOutlineReady:         {schema.StatusChapterGenerating, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusChapterGenerating:    {schema.StatusChapterGenerating, schema.StatusConclusionGenerating, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusConclusionGenerating: {schema.StatusAssembling, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusAssembling:           {schema.StatusCompleted, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusCompleted:            {},
	schema.StatusCancelled:            {},
	schema.StatusFailed:               {},
}
