// Package pipeline drives one book from outline to PDF: outline, chapters in
// order, conclusion, assembly. State is checkpointed after every step so an
// interrupted run resumes at the first unfinished chapter.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/bookforge/internal/assemble"
	"github.com/rendis/bookforge/internal/engine"
	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/internal/store"
	"github.com/rendis/bookforge/internal/textclean"
	"github.com/rendis/bookforge/pkg/schema"
)

// Completer is the text-completion surface used for chapters and the conclusion.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// OutlineGenerator produces an accepted outline, possibly the fallback.
type OutlineGenerator interface {
	Generate(ctx context.Context, topic string, opts llm.Options) ([]schema.ChapterOutlineEntry, bool, error)
}

// Assembler turns ordered sections into the final HTML document.
type Assembler interface {
	Assemble(ctx context.Context, book assemble.Book) (string, error)
}

// Config tunes generation.
type Config struct {
	ChapterMinLength    int
	ConclusionMinLength int
	MaxOutputTokens     int
	Temperature         float64
	TopP                float64
	System              string
	// ContextLimit caps the running-context summary; zero means DefaultContextLimit.
	ContextLimit int
	// SideArtifacts asks every chapter for trailing glossary and quiz blocks.
	SideArtifacts bool
}

// Deps are the collaborators a Pipeline needs. Limiter, Cancels, PDF, FSM and
// Transcripts are optional.
type Deps struct {
	Client      Completer
	Outline     OutlineGenerator
	Checkpoints store.CheckpointStore
	Staging     store.StagingStore
	Cancels     store.CancelRegistry
	Assembler   Assembler
	PDF         assemble.PDFRenderer
	Limiter     *engine.RateLimiter
	FSM         *engine.PipelineFSM
	Transcripts llm.TranscriptSink
	Logger      *slog.Logger
}

// Pipeline generates books. It is safe to run several sessions at once; runs
// for the same session must be serialized by the caller (engine.JobQueue does).
type Pipeline struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

var _ engine.Runner = (*Pipeline)(nil)

// New creates a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FSM == nil {
		deps.FSM = engine.NewPipelineFSM(nil)
	}
	if deps.Cancels == nil {
		deps.Cancels = store.NewMemoryCancelRegistry()
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	return &Pipeline{deps: deps, cfg: cfg, now: time.Now}
}

// run is the per-call state of one Run.
type run struct {
	key        string
	state      *schema.PipelineState
	status     schema.PipelineStatus
	resumed    bool
	transcript *llm.Transcript
	log        *slog.Logger
}

// Run generates the book for req, resuming from a checkpoint when one exists.
// On failure or cancellation the last checkpoint is left in place.
func (p *Pipeline) Run(ctx context.Context, req schema.GenerationRequest) (*schema.BookResult, error) {
	report := req.Check()
	if err := report.ToError(schema.ErrCodeValidation); err != nil {
		return nil, err
	}
	key := req.Key()
	ctx = logging.WithSessionID(ctx, key)
	for _, w := range report.Warnings {
		logging.LogWith(ctx, p.deps.Logger).Warn("request warning", slog.String("field", w.Path), slog.String("message", w.Message))
	}
	if p.deps.Limiter != nil {
		defer p.deps.Limiter.Forget(key)
	}

	r := &run{
		key:    key,
		status: schema.StatusNotStarted,
		log:    logging.LogWith(ctx, p.deps.Logger),
	}
	if p.deps.Transcripts != nil {
		r.transcript = llm.NewTranscript(key, p.deps.Transcripts)
	}

	res, err := p.run(ctx, r, req.Topic)
	if err != nil {
		return nil, p.abort(ctx, r, err)
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, r *run, topic string) (*schema.BookResult, error) {
	st, err := p.deps.Checkpoints.Load(ctx, r.key)
	if err != nil {
		return nil, err
	}
	if st != nil && st.Topic != topic {
		r.log.Warn("checkpoint topic differs, starting over",
			slog.String("checkpoint_topic", st.Topic))
		st = nil
	}
	if st == nil {
		st = schema.NewPipelineState(topic)
	} else {
		r.resumed = true
		r.log.Info("resuming from checkpoint",
			slog.Bool("outline_ready", st.OutlineReady),
			slog.Int("completed_chapters", st.CompletedChapterCount))
	}
	r.state = st

	if !st.OutlineReady {
		if err := p.generateOutline(ctx, r); err != nil {
			return nil, err
		}
	}
	if err := p.generateChapters(ctx, r); err != nil {
		return nil, err
	}
	if !st.ConclusionReady {
		if err := p.generateConclusion(ctx, r); err != nil {
			return nil, err
		}
	}
	return p.assemble(ctx, r)
}

func (p *Pipeline) generateOutline(ctx context.Context, r *run) error {
	if err := p.checkCancelled(ctx, r); err != nil {
		return err
	}
	if err := p.enter(ctx, r, schema.StatusOutlineGenerating, engine.Progress{}); err != nil {
		return err
	}

	stageCtx := logging.WithStage(ctx, "outline")
	entries, fallback, err := p.deps.Outline.Generate(stageCtx, r.state.Topic, p.options(r, 0))
	if err != nil {
		return err
	}
	if fallback {
		p.deps.FSM.Emit(ctx, r.key, schema.EventOutlineFallback, r.status, engine.Progress{Total: len(entries)})
	}

	r.state.Outline = entries
	r.state.OutlineReady = true
	r.state.UsedFallbackOutline = fallback
	if err := p.save(ctx, r); err != nil {
		return err
	}
	return p.enter(ctx, r, schema.StatusOutlineReady, engine.Progress{Total: len(entries)})
}

func (p *Pipeline) generateChapters(ctx context.Context, r *run) error {
	st := r.state
	total := len(st.Outline)
	for st.ChaptersRemaining() {
		if err := p.checkCancelled(ctx, r); err != nil {
			return err
		}
		ordinal := st.CompletedChapterCount + 1
		if r.status != schema.StatusChapterGenerating {
			if err := p.enter(ctx, r, schema.StatusChapterGenerating, engine.Progress{Chapter: ordinal, Total: total}); err != nil {
				return err
			}
		}

		entry := st.Outline[ordinal-1]
		runningContext := st.RunningContext
		if ordinal == 1 || runningContext == "" {
			runningContext = firstChapterContext
		}
		prompt := chapterPrompt(st.Topic, entry, ordinal, total, runningContext, p.cfg.SideArtifacts)

		stageCtx := logging.WithStage(ctx, "chapter")
		raw, err := p.deps.Client.Complete(stageCtx, prompt, p.options(r, p.cfg.ChapterMinLength))
		if err != nil {
			return withStage(err, "chapter")
		}

		body := raw
		var glossary, quiz []schema.SideRecord
		if p.cfg.SideArtifacts {
			body, glossary, quiz = splitSideArtifacts(raw, ordinal)
		}
		text := textclean.CleanChapter(body, entry.Title)

		ref, err := p.deps.Staging.Write(ctx, r.key, text)
		if err != nil {
			return schema.NewError(schema.ErrCodeStore, "stage chapter").WithCause(err)
		}
		st.GeneratedSectionRefs = append(st.GeneratedSectionRefs, ref)
		st.CompletedChapterCount = ordinal
		st.RunningContext = summarize(entry.Title, text, p.cfg.ContextLimit)
		st.AppendSide(schema.SideGlossary, glossary...)
		st.AppendSide(schema.SideQuiz, quiz...)
		if err := p.save(ctx, r); err != nil {
			return err
		}

		next := schema.StatusChapterGenerating
		if !st.ChaptersRemaining() {
			next = schema.StatusConclusionGenerating
		}
		if err := p.enter(ctx, r, next, engine.Progress{Chapter: ordinal, Total: total}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) generateConclusion(ctx context.Context, r *run) error {
	if err := p.checkCancelled(ctx, r); err != nil {
		return err
	}
	if r.status != schema.StatusConclusionGenerating {
		if err := p.enter(ctx, r, schema.StatusConclusionGenerating, engine.Progress{Total: len(r.state.Outline)}); err != nil {
			return err
		}
	}

	st := r.state
	stageCtx := logging.WithStage(ctx, "conclusion")
	raw, err := p.deps.Client.Complete(stageCtx, conclusionPrompt(st.Topic, st.Outline, st.RunningContext),
		p.options(r, p.cfg.ConclusionMinLength))
	if err != nil {
		return withStage(err, "conclusion")
	}
	ref, err := p.deps.Staging.Write(ctx, r.key, textclean.Clean(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "stage conclusion").WithCause(err)
	}
	st.GeneratedSectionRefs = append(st.GeneratedSectionRefs, ref)
	st.ConclusionReady = true
	if err := p.save(ctx, r); err != nil {
		return err
	}
	return p.enter(ctx, r, schema.StatusAssembling, engine.Progress{Total: len(st.Outline)})
}

func (p *Pipeline) assemble(ctx context.Context, r *run) (*schema.BookResult, error) {
	if err := p.checkCancelled(ctx, r); err != nil {
		return nil, err
	}
	st := r.state
	if r.status != schema.StatusAssembling {
		if err := p.enter(ctx, r, schema.StatusAssembling, engine.Progress{Total: len(st.Outline)}); err != nil {
			return nil, err
		}
	}

	sections, err := p.loadSections(ctx, st)
	if err != nil {
		return nil, err
	}
	stageCtx := logging.WithStage(ctx, "assemble")
	html, err := p.deps.Assembler.Assemble(stageCtx, assemble.Book{
		Topic:         st.Topic,
		Outline:       st.Outline,
		Sections:      sections,
		SideArtifacts: st.SideArtifacts,
		GeneratedAt:   p.now(),
	})
	if err != nil {
		return nil, err
	}

	var pdf []byte
	if p.deps.PDF != nil {
		pdf, err = p.deps.PDF.Render(logging.WithStage(ctx, "pdf"), html)
		if err != nil {
			return nil, err
		}
	}

	if err := p.enter(ctx, r, schema.StatusCompleted, engine.Progress{Total: len(st.Outline)}); err != nil {
		return nil, err
	}
	p.cleanup(ctx, r)

	r.log.Info("book completed",
		slog.Int("chapters", len(st.Outline)),
		slog.Int("pdf_bytes", len(pdf)),
		slog.Bool("resumed", r.resumed))
	return &schema.BookResult{
		SessionID:           r.key,
		Topic:               st.Topic,
		Chapters:            len(st.Outline),
		HTML:                html,
		PDF:                 pdf,
		UsedFallbackOutline: st.UsedFallbackOutline,
		Resumed:             r.resumed,
	}, nil
}

// loadSections reads staged chapters and the conclusion back in order.
func (p *Pipeline) loadSections(ctx context.Context, st *schema.PipelineState) ([]schema.GeneratedSection, error) {
	sections := make([]schema.GeneratedSection, 0, len(st.GeneratedSectionRefs))
	for i, ref := range st.GeneratedSectionRefs {
		text, err := p.deps.Staging.Read(ctx, ref)
		if err != nil {
			return nil, err
		}
		sec := schema.GeneratedSection{Kind: schema.SectionChapter, Ordinal: i + 1, RawText: text}
		if i >= len(st.Outline) {
			sec.Kind = schema.SectionConclusion
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

// cleanup drops everything kept for resumption. Failures are logged only:
// the book is already produced.
func (p *Pipeline) cleanup(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if err := p.deps.Checkpoints.Clear(ctx, r.key); err != nil {
		r.log.Warn("clear checkpoint failed", slog.String("error", err.Error()))
	}
	if err := p.deps.Staging.RemoveSession(ctx, r.key); err != nil {
		r.log.Warn("remove staging failed", slog.String("error", err.Error()))
	}
	if err := p.deps.Cancels.Reset(ctx, r.key); err != nil {
		r.log.Warn("reset cancel flag failed", slog.String("error", err.Error()))
	}
}

// checkCancelled consumes the session's cancel flag. A consumed flag does not
// cancel the next run of the same session.
func (p *Pipeline) checkCancelled(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		return schema.NewError(schema.ErrCodeCancelled, "generation cancelled").WithCause(err)
	}
	cancelled, err := p.deps.Cancels.IsCancelled(ctx, r.key)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "read cancel flag").WithCause(err)
	}
	if !cancelled {
		return nil
	}
	if err := p.deps.Cancels.Reset(ctx, r.key); err != nil {
		r.log.Warn("reset cancel flag failed", slog.String("error", err.Error()))
	}
	return schema.NewError(schema.ErrCodeCancelled, "generation cancelled").
		WithDetails(map[string]any{"completed_chapters": r.state.CompletedChapterCount})
}

func (p *Pipeline) enter(ctx context.Context, r *run, to schema.PipelineStatus, progress engine.Progress) error {
	if err := p.deps.FSM.Transition(ctx, r.key, r.status, to, progress); err != nil {
		return err
	}
	r.log.Info("pipeline transition",
		slog.String("from", string(r.status)),
		slog.String("to", string(to)),
		slog.Int("chapter", progress.Chapter))
	r.status = to
	return nil
}

func (p *Pipeline) save(ctx context.Context, r *run) error {
	r.state.UpdatedAt = p.now().UTC()
	return p.deps.Checkpoints.Save(ctx, r.key, r.state)
}

// abort moves the run to Cancelled or Failed and returns err for the caller.
func (p *Pipeline) abort(ctx context.Context, r *run, err error) error {
	to := schema.StatusFailed
	if schema.Classify(err) == schema.FailureCancelled {
		to = schema.StatusCancelled
	}
	if !r.status.Terminal() {
		tctx := context.WithoutCancel(ctx)
		if terr := p.deps.FSM.Transition(tctx, r.key, r.status, to, engine.Progress{
			Payload: map[string]any{"error": err.Error()},
		}); terr != nil {
			r.log.Error("abort transition rejected", slog.String("error", terr.Error()))
		}
	}
	if to == schema.StatusCancelled {
		r.log.Info("pipeline cancelled", slog.String("from", string(r.status)))
		if !errors.As(err, new(*schema.PipelineError)) {
			err = schema.NewError(schema.ErrCodeCancelled, "generation cancelled").WithCause(err)
		}
	} else {
		r.log.Error("pipeline failed",
			slog.String("from", string(r.status)),
			slog.String("error", err.Error()))
	}
	r.status = to
	return err
}

func (p *Pipeline) options(r *run, minLength int) llm.Options {
	return llm.Options{
		CallerKey:       r.key,
		MinLength:       minLength,
		MaxOutputTokens: p.cfg.MaxOutputTokens,
		Temperature:     &p.cfg.Temperature,
		TopP:            &p.cfg.TopP,
		System:          p.cfg.System,
		Record:          r.transcript,
	}
}

// withStage tags the outermost PipelineError in err with stage unless it has one.
func withStage(err error, stage string) error {
	var pe *schema.PipelineError
	if errors.As(err, &pe) && pe.Stage == "" {
		pe.Stage = stage
	}
	return err
}
