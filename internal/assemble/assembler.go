// Package assemble joins generated sections into one HTML document ready for
// PDF rendering.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/bookforge/internal/diagram"
	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/pkg/schema"
)

// PDFRenderer turns the assembled HTML into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Book is everything the assembler needs for one document. Sections hold
// cleaned text in generation order.
type Book struct {
	Title         string
	Topic         string
	Outline       []schema.ChapterOutlineEntry
	Sections      []schema.GeneratedSection
	SideArtifacts map[string][]schema.SideRecord
	GeneratedAt   time.Time
}

// Assembler builds the final HTML payload.
type Assembler struct {
	markdown *MarkdownRenderer
	diagrams *diagram.Renderer
	logger   *slog.Logger
}

// NewAssembler creates an assembler. diagrams may be nil, in which case
// diagram blocks stay in the document as code.
func NewAssembler(diagrams *diagram.Renderer, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		markdown: NewMarkdownRenderer(),
		diagrams: diagrams,
		logger:   logger,
	}
}

// Assemble renders book to a complete HTML document: sections in order with
// page breaks between them, trailing side-artifact sections, normalized math
// and embedded diagram figures.
func (a *Assembler) Assemble(ctx context.Context, book Book) (string, error) {
	log := logging.LogWith(logging.WithStage(ctx, "assemble"), a.logger)

	var (
		parts    []string
		diagrams []schema.RenderedDiagram
	)
	for _, sec := range book.Sections {
		body := sec.RawText
		if a.diagrams != nil {
			text, rendered, err := a.diagrams.RenderAll(ctx, body, strconv.Itoa(sec.Ordinal))
			if err != nil {
				return "", err
			}
			body = text
			diagrams = append(diagrams, rendered...)
		}
		parts = append(parts, sectionHeading(sec, book.Outline)+"\n\n"+NormalizeMath(body))
	}
	parts = append(parts, sideSections(book.SideArtifacts)...)

	md := strings.Join(parts, "\n\n"+pageBreakToken+"\n\n")
	body, err := a.markdown.ToHTML(ctx, md)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "markdown conversion failed").WithCause(err)
	}
	body = diagram.ResolvePlaceholders(body, diagrams)

	generated := book.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	chapters := make([]string, len(book.Outline))
	for i, e := range book.Outline {
		chapters[i] = e.Title
	}
	title := book.Title
	if title == "" {
		title = book.Topic
	}

	out, err := renderPage(pageData{
		Title:       title,
		Topic:       book.Topic,
		Date:        generated.Format("January 2, 2006"),
		Chapters:    chapters,
		Body:        safeHTML(body),
		Disclaimer:  disclaimer,
		StyleSheet:  baseStyle,
		MathEnabled: strings.Contains(body, `class="math `),
	})
	if err != nil {
		return "", fmt.Errorf("render document template: %w", err)
	}
	log.Info("document assembled",
		slog.Int("sections", len(book.Sections)),
		slog.Int("diagrams", len(diagrams)),
		slog.Int("bytes", len(out)))
	return out, nil
}

func sectionHeading(sec schema.GeneratedSection, outline []schema.ChapterOutlineEntry) string {
	switch sec.Kind {
	case schema.SectionConclusion:
		return "# Conclusion"
	case schema.SectionOutline:
		return "# Outline"
	}
	if sec.Ordinal >= 1 && sec.Ordinal <= len(outline) {
		return fmt.Sprintf("# Chapter %d: %s", sec.Ordinal, outline[sec.Ordinal-1].Title)
	}
	return fmt.Sprintf("# Chapter %d", sec.Ordinal)
}

// sideSections renders the glossary (alphabetical, first definition of a
// term wins), the quiz, and its answer key.
func sideSections(side map[string][]schema.SideRecord) []string {
	var out []string

	if terms := side[schema.SideGlossary]; len(terms) > 0 {
		seen := make(map[string]bool)
		var uniq []schema.SideRecord
		for _, r := range terms {
			k := strings.ToLower(strings.TrimSpace(r.Term))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			uniq = append(uniq, r)
		}
		sort.SliceStable(uniq, func(i, j int) bool {
			return strings.ToLower(uniq[i].Term) < strings.ToLower(uniq[j].Term)
		})
		var b strings.Builder
		b.WriteString("# Glossary\n")
		for _, r := range uniq {
			fmt.Fprintf(&b, "\n**%s**: %s\n", strings.TrimSpace(r.Term), strings.TrimSpace(r.Text))
		}
		out = append(out, b.String())
	}

	if questions := side[schema.SideQuiz]; len(questions) > 0 {
		var q, a strings.Builder
		q.WriteString("# Quiz\n")
		a.WriteString("# Answer Key\n")
		chapter := -1
		n := 0
		for _, r := range questions {
			if r.Chapter != chapter {
				chapter = r.Chapter
				n = 0
				fmt.Fprintf(&q, "\n## Chapter %d\n\n", chapter)
				fmt.Fprintf(&a, "\n## Chapter %d\n\n", chapter)
			}
			n++
			fmt.Fprintf(&q, "%d. %s\n", n, strings.TrimSpace(r.Text))
			answer := strings.TrimSpace(r.Answer)
			if answer == "" {
				answer = "_No answer provided._"
			}
			fmt.Fprintf(&a, "%d. %s\n", n, answer)
		}
		out = append(out, q.String(), a.String())
	}
	return out
}
