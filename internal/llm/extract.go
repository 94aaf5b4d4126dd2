package llm

import (
	"context"
	"strings"

	"github.com/rendis/bookforge/internal/expressions"
)

// Extractor pulls reply text out of one known response shape.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, resp *Response) (string, bool)
}

// AccessorExtractor uses the backend's own text accessor.
type AccessorExtractor struct{}

func (AccessorExtractor) Name() string { return "accessor" }

func (AccessorExtractor) Extract(_ context.Context, resp *Response) (string, bool) {
	text, ok := resp.AccessorText()
	if !ok || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// JQExtractor evaluates a jq path against the decoded payload. Multiple
// string outputs are joined with newlines.
type JQExtractor struct {
	Label string
	Path  string
	jq    *expressions.GoJQEngine
}

// NewJQExtractor builds an extractor for path using jq.
func NewJQExtractor(jq *expressions.GoJQEngine, label, path string) *JQExtractor {
	return &JQExtractor{Label: label, Path: path, jq: jq}
}

func (e *JQExtractor) Name() string { return e.Label }

func (e *JQExtractor) Extract(ctx context.Context, resp *Response) (string, bool) {
	data, err := resp.Decoded()
	if err != nil || data == nil {
		return "", false
	}
	// Shape mismatches surface as jq errors (e.g. indexing a string); treat as no match.
	outs, err := e.jq.EvaluateAll(ctx, e.Path, data)
	if err != nil {
		return "", false
	}
	var parts []string
	for _, o := range outs {
		if s, ok := o.(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// DefaultExtractors returns the known response shapes in probe order.
func DefaultExtractors(jq *expressions.GoJQEngine) []Extractor {
	return []Extractor{
		AccessorExtractor{},
		NewJQExtractor(jq, "candidates", ".candidates[0].content.parts[0].text"),
		NewJQExtractor(jq, "output", `.output[]? | if type == "string" then . else (.text?, (try .content[] | if type == "string" then . else .text? end)) end`),
		NewJQExtractor(jq, "choices", ".choices[0].message.content"),
		NewJQExtractor(jq, "text", ".text"),
	}
}

// ExtractText tries each extractor in turn and returns the first match.
// No match yields "" and false, which callers treat as an empty reply.
func ExtractText(ctx context.Context, resp *Response, extractors []Extractor) (string, string, bool) {
	if resp == nil {
		return "", "", false
	}
	for _, x := range extractors {
		if text, ok := x.Extract(ctx, resp); ok {
			return text, x.Name(), true
		}
	}
	return "", "", false
}
