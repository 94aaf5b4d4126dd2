package outline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/internal/expressions"
	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/pkg/schema"
)

const widgetsOutline = `Chapter 1: Getting Started With Widgets
   - Core Concepts
   - Practical Steps
   - Common Mistakes
Chapter 2: Advanced Widget Techniques
   - Performance Tuning
   - Error Recovery
   - Edge Cases`

func TestParse_WidgetsScenario(t *testing.T) {
	entries := NewParser(2).Parse(widgetsOutline)

	require.Len(t, entries, 2)
	assert.Equal(t, "Getting Started With Widgets", entries[0].Title)
	assert.Equal(t, []string{"Core Concepts", "Practical Steps", "Common Mistakes"}, entries[0].Subtopics)
	assert.Equal(t, "Advanced Widget Techniques", entries[1].Title)
	assert.Equal(t, []string{"Performance Tuning", "Error Recovery", "Edge Cases"}, entries[1].Subtopics)
}

func TestParse_EnumeratedAndFiltered(t *testing.T) {
	text := `1. **Understanding the Landscape:**
    * First idea here
    * Second idea here
    * Third idea here
2. Introduction
    - Ignored one
    - Ignored two
    - Ignored three
- Too Few Subtopics Chapter
    - Only one
    - Only two
3. Building Durable Pipelines -
    1. Stage design
    2. Subtopic
    3. Checkpoints
    4. Recovery paths`

	entries := NewParser(0).Parse(text)
	require.Len(t, entries, 2)
	assert.Equal(t, "Understanding the Landscape", entries[0].Title)
	assert.Equal(t, "Building Durable Pipelines", entries[1].Title)
	assert.Equal(t, []string{"Stage design", "Checkpoints", "Recovery paths"}, entries[1].Subtopics)
}

func TestParse_DottedSubtopicNumbers(t *testing.T) {
	text := `Chapter 1: Getting Started With Widgets
   1.1 Core Concepts
   1.2 Practical Steps
   1.3. Common Mistakes
2. Advanced Widget Techniques
2.1 Performance Tuning
2.2 Error Recovery
2.3) Edge Cases`

	entries := NewParser(0).Parse(text)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"Core Concepts", "Practical Steps", "Common Mistakes"}, entries[0].Subtopics)
	assert.Equal(t, "Advanced Widget Techniques", entries[1].Title)
	assert.Equal(t, []string{"Performance Tuning", "Error Recovery", "Edge Cases"}, entries[1].Subtopics)
}

func TestParse_NeverExceedsMaxAndMinSubtopics(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&b, "Chapter %d: A Reasonably Long Title %d\n", i, i)
		for j := 0; j < i%5; j++ {
			fmt.Fprintf(&b, "  - subtopic number %d\n", j)
		}
	}
	for _, max := range []int{1, 5, 10, 15} {
		entries := NewParser(max).Parse(b.String())
		assert.LessOrEqual(t, len(entries), max)
		for _, e := range entries {
			assert.GreaterOrEqual(t, len(e.Subtopics), MinSubtopics)
		}
	}
}

func TestParse_ShortAndGenericTitlesDropped(t *testing.T) {
	text := "Chapter 1: Basics\n  - a one\n  - a two\n  - a three\nChapter 2: Overview\n  - b one\n  - b two\n  - b three"
	assert.Empty(t, NewParser(10).Parse(text))
}

func TestValidator_ExactCount(t *testing.T) {
	v, err := NewValidator(expressions.NewExprEngine(), "", 2)
	require.NoError(t, err)

	ok, err := v.Accept(context.Background(), NewParser(2).Parse(widgetsOutline))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Accept(context.Background(), NewParser(2).Parse(widgetsOutline)[:1])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Accept(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidator_CustomRuleAndBadRule(t *testing.T) {
	v, err := NewValidator(nil, "len(entries) >= chapterCount - 1", 3)
	require.NoError(t, err)
	ok, err := v.Accept(context.Background(), NewParser(0).Parse(widgetsOutline))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewValidator(nil, "len(entries ==", 3)
	assert.Error(t, err)

	_, err = NewValidator(nil, "", 0)
	assert.Error(t, err)
}

func TestValidator_Report(t *testing.T) {
	v, err := NewValidator(nil, "", 3)
	require.NoError(t, err)

	entries := []schema.ChapterOutlineEntry{
		{Title: "Getting Started With Widgets", Subtopics: []string{"a", "b", "c"}},
		{Title: "Getting Started with widgets", Subtopics: []string{"a"}},
	}
	report := v.Report(entries)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "chapters", report.Errors[0].Path)
	assert.Equal(t, "got 2 chapters, want 3", report.Errors[0].Message)
	assert.Equal(t, "chapters[2].subtopics", report.Errors[1].Path)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "chapters[2].title", report.Warnings[0].Path)
	assert.True(t, schema.HasCode(report.ToError(schema.ErrCodeOutlineInvalid), schema.ErrCodeOutlineInvalid))

	assert.True(t, v.Report(Fallback("Widgets", 3)).Valid())
}

func TestFallback_AlwaysAccepted(t *testing.T) {
	for _, topic := range []string{"Kubernetes", "React Native", "C++", "how to bake sourdough bread at home", ""} {
		for _, n := range []int{1, 10, 15, 20} {
			entries := Fallback(topic, n)
			require.Len(t, entries, n)

			v, err := NewValidator(nil, "", n)
			require.NoError(t, err)
			ok, err := v.Accept(context.Background(), entries)
			require.NoError(t, err)
			assert.True(t, ok, "topic %q n=%d", topic, n)
		}
	}
}

func TestFallback_TopicSuffix(t *testing.T) {
	assert.Equal(t, "Foundations of Kubernetes", Fallback("Kubernetes", 1)[0].Title)
	assert.Equal(t, "Foundations and Core Concepts", Fallback("the history of bread", 1)[0].Title)
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	i := f.calls - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

func TestGenerator_RegeneratesUntilAccepted(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"Sure!\n\nnot an outline at all", widgetsOutline}}
	v, err := NewValidator(nil, "", 2)
	require.NoError(t, err)

	entries, fallback, err := NewGenerator(fc, v, 5, nil).Generate(context.Background(), "Widgets", llm.Options{})
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, fc.calls)
}

func TestGenerator_FallsBackAfterAttempts(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"nothing useful"}}
	v, err := NewValidator(nil, "", 10)
	require.NoError(t, err)

	entries, fallback, err := NewGenerator(fc, v, 0, nil).Generate(context.Background(), "Go", llm.Options{})
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Len(t, entries, 10)
	assert.Equal(t, DefaultAttempts, fc.calls)
}

func TestGenerator_LogsRejectionReasons(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fc := &fakeCompleter{replies: []string{widgetsOutline}}
	v, err := NewValidator(nil, "", 3)
	require.NoError(t, err)

	_, fallback, err := NewGenerator(fc, v, 2, logger).Generate(context.Background(), "Widgets", llm.Options{})
	require.NoError(t, err)
	assert.True(t, fallback)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "outline rejected, regenerating"))
	assert.Contains(t, out, "got 2 chapters, want 3")
	assert.Contains(t, out, "OUTLINE_INVALID")
	assert.Contains(t, out, "using fallback outline")
}

func TestGenerator_PropagatesCompletionFailure(t *testing.T) {
	fc := &fakeCompleter{err: schema.NewError(schema.ErrCodeRetryExhausted, "gave up")}
	v, err := NewValidator(nil, "", 2)
	require.NoError(t, err)

	_, _, err = NewGenerator(fc, v, 5, nil).Generate(context.Background(), "Widgets", llm.Options{})
	require.Error(t, err)
	assert.Equal(t, 1, fc.calls)
}
