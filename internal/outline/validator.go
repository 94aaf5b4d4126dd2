package outline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/bookforge/internal/expressions"
	"github.com/rendis/bookforge/pkg/schema"
)

// DefaultRule accepts an outline with exactly the configured number of
// chapters, each carrying enough subtopics.
const DefaultRule = `len(entries) == chapterCount && all(entries, len(.Subtopics) >= minSubtopics)`

// Validator decides whether a parsed outline is accepted, using an expr rule
// over entries, chapterCount and minSubtopics.
type Validator struct {
	rule         string
	chapterCount int
	engine       *expressions.ExprEngine
}

// NewValidator compiles rule (DefaultRule when empty) for chapterCount chapters.
func NewValidator(engine *expressions.ExprEngine, rule string, chapterCount int) (*Validator, error) {
	if engine == nil {
		engine = expressions.NewExprEngine()
	}
	if rule == "" {
		rule = DefaultRule
	}
	if chapterCount <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "chapter count must be positive, got %d", chapterCount)
	}
	v := &Validator{rule: rule, chapterCount: chapterCount, engine: engine}
	if err := engine.Compile(rule, v.env(nil)); err != nil {
		return nil, err
	}
	return v, nil
}

// ChapterCount returns the configured chapter count.
func (v *Validator) ChapterCount() int { return v.chapterCount }

// Accept evaluates the rule against entries.
func (v *Validator) Accept(ctx context.Context, entries []schema.ChapterOutlineEntry) (bool, error) {
	return v.engine.EvaluateBool(ctx, v.rule, v.env(entries))
}

// Report lists what keeps entries from a well-formed outline: a wrong
// chapter count and short subtopic lists are errors, repeated titles are
// warnings. The rule decides acceptance; the report explains rejections.
func (v *Validator) Report(entries []schema.ChapterOutlineEntry) *schema.ValidationReport {
	report := &schema.ValidationReport{}
	if len(entries) != v.chapterCount {
		report.Errorf("chapters", "got %d chapters, want %d", len(entries), v.chapterCount)
	}
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		path := fmt.Sprintf("chapters[%d]", i+1)
		if len(e.Subtopics) < MinSubtopics {
			report.Errorf(path+".subtopics", "has %d subtopics, want at least %d", len(e.Subtopics), MinSubtopics)
		}
		key := strings.ToLower(e.Title)
		if first, dup := seen[key]; dup {
			report.Warnf(path+".title", "repeats the title of chapter %d", first)
			continue
		}
		seen[key] = i + 1
	}
	return report
}

func (v *Validator) env(entries []schema.ChapterOutlineEntry) map[string]any {
	items := make([]any, len(entries))
	for i, e := range entries {
		subs := make([]any, len(e.Subtopics))
		for j, s := range e.Subtopics {
			subs[j] = s
		}
		items[i] = map[string]any{"Title": e.Title, "Subtopics": subs}
	}
	return map[string]any{
		"entries":      items,
		"chapterCount": v.chapterCount,
		"minSubtopics": MinSubtopics,
	}
}
