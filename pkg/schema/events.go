package schema

// Progress event types published on every pipeline transition.
const (
	EventPipelineStarted     = "pipeline.started"
	EventPipelineResumed     = "pipeline.resumed"
	EventOutlineReady        = "outline.ready"
	EventOutlineFallback     = "outline.fallback"
	EventChapterCompleted    = "chapter.completed"
	EventConclusionCompleted = "conclusion.completed"
	EventPipelineCompleted   = "pipeline.completed"
	EventPipelineFailed      = "pipeline.failed"
	EventPipelineCancelled   = "pipeline.cancelled"
)

// PipelineStatus is a state of the chapter pipeline state machine.
type PipelineStatus string

const (
	StatusNotStarted           PipelineStatus = "not_started"
	StatusOutlineGenerating    PipelineStatus = "outline_generating"
	StatusOutlineReady         PipelineStatus = "outline_ready"
	StatusChapterGenerating    PipelineStatus = "chapter_generating"
	StatusConclusionGenerating PipelineStatus = "conclusion_generating"
	StatusAssembling           PipelineStatus = "assembling"
	StatusCompleted            PipelineStatus = "completed"
	StatusCancelled            PipelineStatus = "cancelled"
	StatusFailed               PipelineStatus = "failed"
)

// Terminal reports whether no further transitions leave s.
func (s PipelineStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}
