package outline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/internal/textclean"
	"github.com/rendis/bookforge/pkg/schema"
)

// DefaultAttempts is how many generated outlines are tried before falling back.
const DefaultAttempts = 5

// Completer is the text-completion surface the generator needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// Generator asks the model for an outline until one is accepted, then
// falls back to the synthetic template.
type Generator struct {
	client    Completer
	parser    *Parser
	validator *Validator
	attempts  int
	logger    *slog.Logger
}

// NewGenerator wires a generator. attempts <= 0 means DefaultAttempts.
func NewGenerator(client Completer, validator *Validator, attempts int, logger *slog.Logger) *Generator {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		parser:    NewParser(validator.ChapterCount()),
		validator: validator,
		attempts:  attempts,
		logger:    logger,
	}
}

// Generate returns the accepted outline and whether it is the fallback.
// Completion failures that outlast the client's own retries are returned;
// unacceptable outlines only cost an attempt.
func (g *Generator) Generate(ctx context.Context, topic string, opts llm.Options) ([]schema.ChapterOutlineEntry, bool, error) {
	log := logging.LogWith(ctx, g.logger)
	prompt := Prompt(topic, g.validator.ChapterCount())
	var last error

	for attempt := 1; attempt <= g.attempts; attempt++ {
		raw, err := g.client.Complete(ctx, prompt, opts)
		if err != nil {
			return nil, false, err
		}

		entries := g.parser.Parse(textclean.Clean(raw))
		ok, err := g.validator.Accept(ctx, entries)
		if err != nil {
			return nil, false, err
		}
		report := g.validator.Report(entries)
		for _, w := range report.Warnings {
			log.Debug("outline warning", slog.String("path", w.Path), slog.String("message", w.Message))
		}
		if ok {
			return entries, false, nil
		}
		last = report.ToError(schema.ErrCodeOutlineInvalid)
		if last == nil {
			last = schema.NewError(schema.ErrCodeOutlineInvalid, "outline rule rejected the outline")
		}
		log.Info("outline rejected, regenerating",
			slog.Int("attempt", attempt),
			slog.Int("chapters", len(entries)),
			slog.Int("want", g.validator.ChapterCount()),
			slog.String("reason", last.Error()))
	}

	log.Warn("using fallback outline",
		slog.Int("attempts", g.attempts),
		slog.String("last_rejection", errString(last)))
	return Fallback(topic, g.validator.ChapterCount()), true, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Prompt builds the outline request for topic.
func Prompt(topic string, chapterCount int) string {
	return fmt.Sprintf(`Create a table of contents for a book about %q.

Write exactly %d chapters. Use this format and nothing else:

Chapter 1: <descriptive chapter title>
   - <subtopic>
   - <subtopic>
   - <subtopic>

Give every chapter at least 3 indented subtopics. Titles must be specific, not generic words like "Introduction" or "Overview".`, topic, chapterCount)
}
