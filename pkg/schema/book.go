package schema

import (
	"strings"
	"time"
)

// GenerationRequest asks for one book on Topic. SessionID keys the checkpoint,
// the rate limiter history and the cancellation flag.
type GenerationRequest struct {
	Topic     string `json:"topic"`
	SessionID string `json:"session_id"`
	CallerID  string `json:"caller_id,omitempty"`
}

// ChapterOutlineEntry is one chapter of a parsed outline.
type ChapterOutlineEntry struct {
	Title     string   `json:"title"`
	Subtopics []string `json:"subtopics"`
}

// SectionKind identifies what a generated section holds.
type SectionKind string

const (
	SectionOutline    SectionKind = "outline"
	SectionChapter    SectionKind = "chapter"
	SectionConclusion SectionKind = "conclusion"
)

// GeneratedSection is raw text returned by the model for one pipeline step.
type GeneratedSection struct {
	Kind    SectionKind `json:"kind"`
	Ordinal int         `json:"ordinal"`
	RawText string      `json:"raw_text"`
}

// Side-channel names used in PipelineState.SideArtifacts.
const (
	SideGlossary = "glossary"
	SideQuiz     = "quiz"
)

// SideRecord is one structured side-artifact entry (a glossary term, a quiz question).
type SideRecord struct {
	Chapter int    `json:"chapter"`
	Term    string `json:"term,omitempty"`
	Text    string `json:"text"`
	Answer  string `json:"answer,omitempty"`
}

// PipelineState is the checkpoint record persisted after every transition.
type PipelineState struct {
	Topic                 string                  `json:"topic"`
	Outline               []ChapterOutlineEntry   `json:"outline"`
	CompletedChapterCount int                     `json:"completed_chapter_count"`
	GeneratedSectionRefs  []string                `json:"generated_section_refs"`
	RunningContext        string                  `json:"running_context"`
	SideArtifacts         map[string][]SideRecord `json:"side_artifacts"`
	OutlineReady          bool                    `json:"outline_ready"`
	ConclusionReady       bool                    `json:"conclusion_ready,omitempty"`
	UsedFallbackOutline   bool                    `json:"used_fallback_outline,omitempty"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// NewPipelineState returns an empty state for topic.
func NewPipelineState(topic string) *PipelineState {
	return &PipelineState{
		Topic:         topic,
		SideArtifacts: make(map[string][]SideRecord),
	}
}

// AppendSide appends records to a side channel, creating it when absent.
func (s *PipelineState) AppendSide(channel string, records ...SideRecord) {
	if len(records) == 0 {
		return
	}
	if s.SideArtifacts == nil {
		s.SideArtifacts = make(map[string][]SideRecord)
	}
	s.SideArtifacts[channel] = append(s.SideArtifacts[channel], records...)
}

// ChaptersRemaining reports whether chapters are still to be generated.
func (s *PipelineState) ChaptersRemaining() bool {
	return s.CompletedChapterCount < len(s.Outline)
}

// RenderedDiagram is a diagram block rendered by the external service.
type RenderedDiagram struct {
	SourceBlockID string `json:"source_block_id"`
	EncodedImage  string `json:"encoded_image"`
	MediaType     string `json:"media_type"`
	Caption       string `json:"caption"`
	FigureNumber  string `json:"figure_number"`
}

// SessionKey derives the sanitized checkpoint key from a caller id and topic.
// Only [a-z0-9_-] survive; runs of other characters collapse into one underscore.
func SessionKey(callerID, topic string) string {
	raw := strings.ToLower(strings.TrimSpace(callerID) + "_" + strings.Join(strings.Fields(topic), " "))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	key := strings.Trim(b.String(), "_")
	if len(key) > 120 {
		key = key[:120]
	}
	if key == "" {
		return "session"
	}
	return key
}

// BookResult is the outcome of a completed pipeline run.
type BookResult struct {
	SessionID           string `json:"session_id"`
	Topic               string `json:"topic"`
	Chapters            int    `json:"chapters"`
	HTML                string `json:"-"`
	PDF                 []byte `json:"-"`
	UsedFallbackOutline bool   `json:"used_fallback_outline"`
	Resumed             bool   `json:"resumed"`
}
