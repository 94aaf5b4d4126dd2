package assemble

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// pageBreakToken separates sections in the joined markdown.
const pageBreakToken = "%%PAGEBREAK%%"

const pageBreakHTML = `<div class="page-break"></div>`

func mathToken(n int) string {
	return fmt.Sprintf("%%%%MATH%d%%%%", n)
}

var (
	mathTokenRe = regexp.MustCompile(`(<p>)?%%MATH(\d+)%%(</p>)?`)
	pageBreakRe = regexp.MustCompile(`(?:<p>)?` + regexp.QuoteMeta(pageBreakToken) + `(?:</p>)?`)
)

// MarkdownRenderer converts assembled markdown to an HTML fragment.
type MarkdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer creates a renderer with GFM, footnotes and
// class-based syntax highlighting. Raw HTML in the input is not passed through.
func NewMarkdownRenderer() *MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithXHTML(),
		),
	)
	return &MarkdownRenderer{md: md}
}

// ToHTML converts content. Math spans are lifted out before conversion and
// restored as MathJax-delimited markup; page-break tokens become break divs.
// Goldmark has no context support, so conversion runs in a goroutine.
func (r *MarkdownRenderer) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, spans := extractMath(content)

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(text), &buf); err != nil {
			done <- result{err: fmt.Errorf("markdown conversion: %w", err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return "", res.err
	}

	out := pageBreakRe.ReplaceAllString(res.html, pageBreakHTML)
	out = mathTokenRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := mathTokenRe.FindStringSubmatch(m)
		open, closing := sub[1], sub[3]
		n, _ := strconv.Atoi(sub[2])
		if n >= len(spans) {
			return m
		}
		tex := html.EscapeString(spans[n].tex)
		if spans[n].display && open != "" && closing != "" {
			return `<div class="math display">\[` + tex + `\]</div>`
		}
		if spans[n].display {
			return open + `<span class="math display">\[` + tex + `\]</span>` + closing
		}
		return open + `<span class="math inline">\(` + tex + `\)</span>` + closing
	})
	return out, nil
}
