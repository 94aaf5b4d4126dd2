package assemble

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/internal/diagram"
	"github.com/rendis/bookforge/pkg/schema"
)

func TestNormalizeMath_Rules(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"inline parens", `Area is \(\pi r^2\).`, `Area is $\pi r^2$.`},
		{"display brackets", "See\n\\[ E = mc^2 \\]\nabove", "See\n\n$$E = mc^2$$\n\nabove"},
		{"doubled escapes", `Value \\(x + 1\\) here`, `Value $x + 1$ here`},
		{"bare bracket line", "Text\n[ \\frac{a}{b} ]\nMore", "Text\n\n$$\\frac{a}{b}$$\n\nMore"},
		{"markdown link untouched", "[a link](http://x)", "[a link](http://x)"},
		{"inline code protected", "Use `\\(x\\)` literally", "Use `\\(x\\)` literally"},
		{"fence protected", "```\n\\(x\\)\n```", "```\n\\(x\\)\n```"},
		{"table protected", "| a | \\(b\\) |\n|---|---|\n| 1 | 2 |\n", "| a | \\(b\\) |\n|---|---|\n| 1 | 2 |\n"},
		{"placeholder protected", "[[DIAGRAM:1-1]]", "[[DIAGRAM:1-1]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMath(tt.in))
		})
	}
}

func TestReplaceInlineMath_LeavesPrices(t *testing.T) {
	var got []string
	out := replaceInlineMath(`It costs $5 and $10, while $x^2$ is math and \$y$ is not.`, func(tex string) string {
		got = append(got, tex)
		return "M"
	})
	assert.Equal(t, []string{"x^2"}, got)
	assert.Equal(t, `It costs $5 and $10, while M is math and \$y$ is not.`, out)
}

func TestMarkdownRenderer_MathAndBreaks(t *testing.T) {
	r := NewMarkdownRenderer()
	md := "Inline $a_1 + b_1$ value.\n\n$$\\sum_{i=1}^n i$$\n\n" + pageBreakToken + "\n\n`$not math$`"

	out, err := r.ToHTML(context.Background(), md)
	require.NoError(t, err)
	assert.Contains(t, out, `<span class="math inline">\(a_1 + b_1\)</span>`)
	assert.Contains(t, out, `<div class="math display">\[\sum_{i=1}^n i\]</div>`)
	assert.Contains(t, out, pageBreakHTML)
	assert.Contains(t, out, "<code>$not math$</code>")
	assert.NotContains(t, out, "%%")
}

func TestMarkdownRenderer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMarkdownRenderer().ToHTML(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssemble_FullDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	}))
	defer srv.Close()

	renderer := diagram.NewRenderer(diagram.NewHTTPService(srv.URL, time.Second, nil), 0, nil)
	a := NewAssembler(renderer, nil)

	book := Book{
		Title: "Widgets",
		Topic: "Widgets",
		Outline: []schema.ChapterOutlineEntry{
			{Title: "Getting Started With Widgets", Subtopics: []string{"a", "b", "c"}},
			{Title: "Advanced Widget Techniques", Subtopics: []string{"d", "e", "f"}},
		},
		Sections: []schema.GeneratedSection{
			{Kind: schema.SectionChapter, Ordinal: 1, RawText: "First chapter with \\(x^2\\)."},
			{Kind: schema.SectionChapter, Ordinal: 2, RawText: "Second.\n\n```mermaid\ngraph TD\n  A --> B\n```\nFigure: Flow\n\nAfter."},
			{Kind: schema.SectionConclusion, Ordinal: 3, RawText: "The end."},
		},
		SideArtifacts: map[string][]schema.SideRecord{
			schema.SideGlossary: {
				{Chapter: 1, Term: "zeta", Text: "last letter"},
				{Chapter: 1, Term: "Alpha", Text: "first letter"},
				{Chapter: 2, Term: "alpha", Text: "duplicate"},
			},
			schema.SideQuiz: {
				{Chapter: 1, Text: "What is a widget?", Answer: "A thing."},
				{Chapter: 2, Text: "Why tune?"},
			},
		},
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := a.Assemble(context.Background(), book)
	require.NoError(t, err)

	assert.Contains(t, out, `<section class="cover">`)
	assert.Contains(t, out, "March 1, 2026")
	assert.Contains(t, out, "<li>Getting Started With Widgets</li>")
	assert.Contains(t, out, `<footer class="disclaimer">`)
	assert.Contains(t, out, "Chapter 1: Getting Started With Widgets")
	assert.Contains(t, out, "Chapter 2: Advanced Widget Techniques")
	assert.Contains(t, out, "Conclusion")

	first := strings.Index(out, "Chapter 1: Getting Started")
	second := strings.Index(out, "Chapter 2: Advanced")
	conclusion := strings.Index(out, ">Conclusion<")
	assert.True(t, first < second && second < conclusion)

	assert.Contains(t, out, `<span class="math inline">\(x^2\)</span>`)
	assert.Contains(t, out, "MathJax")
	assert.Contains(t, out, "<figcaption>Figure 2.1: Flow</figcaption>")
	assert.NotContains(t, out, "DIAGRAM:")

	assert.Contains(t, out, "Glossary")
	assert.Less(t, strings.Index(out, "Alpha"), strings.Index(out, "zeta"))
	assert.NotContains(t, out, "duplicate")
	assert.Contains(t, out, "Answer Key")
	assert.Contains(t, out, "A thing.")
	assert.Contains(t, out, "No answer provided.")

	// three sections + glossary + quiz + answer key
	assert.Equal(t, 5, strings.Count(out, pageBreakHTML))
}

func TestAssemble_WithoutDiagramRenderer(t *testing.T) {
	out, err := NewAssembler(nil, nil).Assemble(context.Background(), Book{
		Topic:    "plain",
		Sections: []schema.GeneratedSection{{Kind: schema.SectionChapter, Ordinal: 1, RawText: "Hello."}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "<title>plain</title>")
	assert.NotContains(t, out, "MathJax")
	assert.NotContains(t, out, pageBreakHTML)
}

func TestAssemble_FailedDiagramDropsCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "Broken") {
			http.Error(w, "syntax error", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	}))
	defer srv.Close()

	a := NewAssembler(diagram.NewRenderer(diagram.NewHTTPService(srv.URL, time.Second, nil), 0, nil), nil)
	book := Book{
		Topic:   "Widgets",
		Outline: []schema.ChapterOutlineEntry{{Title: "Getting Started With Widgets", Subtopics: []string{"a", "b", "c"}}},
		Sections: []schema.GeneratedSection{{
			Kind:    schema.SectionChapter,
			Ordinal: 1,
			RawText: "Intro.\n\n```mermaid\ngraph TD\n  A --> B\n```\nFigure: Working flow\n\n" +
				"Middle.\n\n```mermaid\ngraph LR\n  Broken --> X\n```\nFigure: Broken flow\n\nOutro.",
		}},
	}

	out, err := a.Assemble(context.Background(), book)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, `<figure class="diagram">`))
	assert.Contains(t, out, "Figure 1.1: Working flow")
	assert.NotContains(t, out, "Broken")
	assert.NotContains(t, out, "mermaid")
	assert.NotContains(t, out, "[[DIAGRAM:")
	assert.Contains(t, out, "Middle.")
	assert.Contains(t, out, "Outro.")
}
