package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/bookforge/internal/assemble"
	"github.com/rendis/bookforge/internal/diagram"
	"github.com/rendis/bookforge/internal/engine"
	"github.com/rendis/bookforge/internal/expressions"
	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/internal/outline"
	"github.com/rendis/bookforge/internal/pdf"
	"github.com/rendis/bookforge/internal/pipeline"
	"github.com/rendis/bookforge/internal/scheduler"
	"github.com/rendis/bookforge/internal/store"
	"github.com/rendis/bookforge/internal/streaming"
)

// cancelFlagTTL bounds how long an unconsumed cancel flag lives in redis.
const cancelFlagTTL = 24 * time.Hour

// app holds the wired components of one process.
type app struct {
	cfg         Config
	logger      *slog.Logger
	checkpoints store.CheckpointStore
	staging     *store.FileStaging
	cancels     store.CancelRegistry
	hub         *streaming.MemoryHub
	pipeline    *pipeline.Pipeline
	janitor     *scheduler.Janitor
	closers     []func() error
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var (
		redisClient *redis.Client
		err         error
	)
	if cfg.RedisAddr != "" {
		redisClient, err = store.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, redisClient.Close)
		a.cancels = store.NewRedisCancelRegistry(redisClient, cancelFlagTTL)
	} else {
		a.cancels = store.NewMemoryCancelRegistry()
	}

	var transcripts llm.TranscriptSink
	switch cfg.CheckpointBackend {
	case "libsql":
		if path, ok := strings.CutPrefix(cfg.CheckpointDSN, "file:"); ok {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create checkpoint db dir: %w", err)
			}
		}
		s, err := store.NewLibSQLCheckpointStore(cfg.CheckpointDSN, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate checkpoint db: %w", err)
		}
		a.checkpoints, transcripts = s, s
	case "file":
		s, err := store.NewFileCheckpointStore(cfg.CheckpointDir, logger)
		if err != nil {
			return nil, err
		}
		a.checkpoints = s
	case "redis":
		a.checkpoints = store.NewRedisCheckpointStore(redisClient, cfg.JanitorMaxAge, logger)
	}

	a.staging, err = store.NewFileStaging(cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	a.janitor, err = scheduler.NewJanitor(scheduler.Config{Spec: cfg.JanitorSpec, MaxAge: cfg.JanitorMaxAge},
		a.checkpoints, a.staging, logger)
	if err != nil {
		return nil, err
	}

	// Cancel and prune only touch the stores.
	if cfg.Cancel || cfg.Prune {
		ready = true
		return a, nil
	}

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	policy := engine.DefaultCompletionPolicy()
	policy.MaxAttempts = cfg.RetryAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	limiter := engine.NewRateLimiter(cfg.RequestsPerMinute)
	client := llm.NewClient(backend, limiter, llm.WithRetryPolicy(policy), llm.WithLogger(logger))

	validator, err := outline.NewValidator(expressions.NewExprEngine(), cfg.OutlineRule, cfg.Chapters)
	if err != nil {
		return nil, err
	}
	generator := outline.NewGenerator(client, validator, cfg.OutlineAttempts, logger)

	var diagrams *diagram.Renderer
	if cfg.DiagramURL != "" {
		breaker := engine.NewCircuitBreaker(engine.DefaultCircuitBreakerConfig())
		diagrams = diagram.NewRenderer(diagram.NewHTTPService(cfg.DiagramURL, cfg.DiagramTimeout, breaker), diagram.DefaultConcurrency, logger)
	}

	var renderer assemble.PDFRenderer
	switch cfg.PDFEngine {
	case "service":
		renderer = pdf.NewServiceRenderer(cfg.PDFURL, pdf.DefaultOptions(), cfg.PDFTimeout)
	case "chromium":
		chromium := pdf.NewChromiumRenderer(pdf.DefaultOptions(), cfg.ChromeBin, "", cfg.PDFTimeout)
		a.closers = append(a.closers, chromium.Close)
		renderer = chromium
	}

	a.pipeline = pipeline.New(pipeline.Deps{
		Client:      client,
		Outline:     generator,
		Checkpoints: a.checkpoints,
		Staging:     a.staging,
		Cancels:     a.cancels,
		Assembler:   assemble.NewAssembler(diagrams, logger),
		PDF:         renderer,
		Limiter:     limiter,
		FSM:         engine.NewPipelineFSM(a.hub),
		Transcripts: transcripts,
		Logger:      logger,
	}, pipeline.Config{
		ChapterMinLength:    cfg.ChapterMinLength,
		ConclusionMinLength: cfg.ChapterMinLength / 2,
		MaxOutputTokens:     cfg.MaxTokens,
		Temperature:         cfg.Temperature,
		TopP:                cfg.TopP,
		System:              cfg.System,
		SideArtifacts:       cfg.SideArtifacts,
	})

	ready = true
	return a, nil
}

func newBackend(cfg Config) (llm.Backend, error) {
	switch cfg.Provider {
	case "http":
		return llm.NewHTTPBackend(llm.HTTPConfig{
			URL:     cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
			Timeout: cfg.RequestTimeout,
		}), nil
	default:
		return llm.NewOpenAIBackend(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
