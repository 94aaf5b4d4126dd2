package diagram

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/pkg/schema"
)

// DefaultConcurrency bounds in-flight requests to the diagram service.
const DefaultConcurrency = 4

// Renderer replaces mermaid blocks with placeholders for rendered figures.
type Renderer struct {
	service     Service
	concurrency int
	logger      *slog.Logger
}

// NewRenderer creates a renderer. concurrency <= 0 means DefaultConcurrency.
func NewRenderer(service Service, concurrency int, logger *slog.Logger) *Renderer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{service: service, concurrency: concurrency, logger: logger}
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// RenderAll renders every mermaid block of text. Rendered blocks become
// placeholder tokens; blocks that fail to render are removed. Figures are
// numbered "<scope>.<n>" in document order over the successful blocks.
// Only cancellation of ctx is returned as an error.
func (r *Renderer) RenderAll(ctx context.Context, text, scope string) (string, []schema.RenderedDiagram, error) {
	blocks := FindBlocks(text, scope)
	if len(blocks) == 0 {
		return text, nil, nil
	}
	log := logging.LogWith(ctx, r.logger)

	images := make([]*Image, len(blocks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, b := range blocks {
		g.Go(func() error {
			img, err := r.service.Render(gctx, Repair(b.Source))
			if err != nil {
				log.Warn("diagram render failed, dropping block",
					slog.String("block", b.ID),
					slog.String("error", err.Error()))
				return nil
			}
			images[i] = img
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", nil, schema.NewError(schema.ErrCodeCancelled, "diagram rendering interrupted").WithCause(err)
	}

	var (
		out      strings.Builder
		rendered []schema.RenderedDiagram
		last     int
	)
	for i, b := range blocks {
		out.WriteString(text[last:b.start])
		last = b.end
		if images[i] == nil {
			continue
		}
		n := len(rendered) + 1
		number := fmt.Sprintf("%d", n)
		if scope != "" {
			number = fmt.Sprintf("%s.%d", scope, n)
		}
		rendered = append(rendered, schema.RenderedDiagram{
			SourceBlockID: b.ID,
			EncodedImage:  base64.StdEncoding.EncodeToString(images[i].Data),
			MediaType:     images[i].MediaType,
			Caption:       b.Caption,
			FigureNumber:  number,
		})
		out.WriteString(Placeholder(b.ID))
	}
	out.WriteString(text[last:])

	return blankRunRe.ReplaceAllString(out.String(), "\n\n"), rendered, nil
}

// ResolvePlaceholders swaps placeholder tokens in rendered HTML for figure
// markup. Tokens without a matching diagram are removed.
func ResolvePlaceholders(doc string, diagrams []schema.RenderedDiagram) string {
	byID := make(map[string]schema.RenderedDiagram, len(diagrams))
	for _, d := range diagrams {
		byID[d.SourceBlockID] = d
	}
	return placeholderRe.ReplaceAllStringFunc(doc, func(m string) string {
		id := placeholderRe.FindStringSubmatch(m)[1]
		d, ok := byID[id]
		if !ok {
			return ""
		}
		return FigureHTML(d)
	})
}

var placeholderRe = regexp.MustCompile(`(?:<p>\s*)?\[\[DIAGRAM:([A-Za-z0-9._-]+)\]\](?:\s*</p>)?`)

// FigureHTML renders d as an embedded image with its caption.
func FigureHTML(d schema.RenderedDiagram) string {
	label := "Figure " + d.FigureNumber
	caption := label
	if d.Caption != "" {
		caption = label + ": " + d.Caption
	}
	mt := d.MediaType
	if mt == "" {
		mt = "image/svg+xml"
	}
	return fmt.Sprintf(`<figure class="diagram"><img src="data:%s;base64,%s" alt="%s"><figcaption>%s</figcaption></figure>`,
		mt, d.EncodedImage, html.EscapeString(label), html.EscapeString(caption))
}
