package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rendis/bookforge/internal/engine"
	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/internal/streaming"
	"github.com/rendis/bookforge/pkg/schema"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args, os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitUsage
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return ExitGeneral
	}
	defer a.Close()

	switch {
	case cfg.Cancel:
		return a.cancel(ctx)
	case cfg.Prune:
		return a.prune(ctx, stdout)
	default:
		return a.generate(ctx, stdout)
	}
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h)).With(slog.String("version", version))
}

func (a *app) request() schema.GenerationRequest {
	req := schema.GenerationRequest{Topic: a.cfg.Topic, SessionID: a.cfg.SessionID, CallerID: a.cfg.CallerID}
	req.SessionID = req.Key()
	return req
}

// generate runs one book through the job queue and writes the PDF (or the
// HTML when no PDF engine is configured).
func (a *app) generate(ctx context.Context, stdout io.Writer) int {
	req := a.request()
	log := a.logger.With(slog.String("session_id", req.SessionID))

	events, unsubscribe, err := a.hub.Subscribe(ctx, streaming.EventFilter{SessionID: req.SessionID})
	if err == nil {
		go logProgress(log, events)
		defer unsubscribe()
	}

	if a.cfg.ProgressAddr != "" {
		stopProgress := a.serveProgress()
		defer stopProgress()
	}

	if err := a.janitor.Start(ctx); err != nil {
		log.Warn("janitor not started", slog.String("error", err.Error()))
	} else {
		defer a.janitor.Stop()
	}

	queue := engine.NewJobQueue(a.pipeline, a.cfg.QueueConcurrency, 0, a.logger)
	defer queue.Shutdown()

	job, err := queue.Submit(ctx, req)
	if err != nil {
		log.Error("submit failed", slog.String("error", err.Error()))
		return exitCodeFor(err)
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		log.Warn("interrupted, stopping generation")
		queue.Stop()
		<-job.Done()
	}

	res, err := job.Result()
	if err != nil {
		log.Error("generation failed",
			slog.String("failure", string(schema.Classify(err))),
			slog.String("error", err.Error()))
		return exitCodeFor(err)
	}

	path, err := a.writeOutput(req.SessionID, res)
	if err != nil {
		log.Error("write output failed", slog.String("error", err.Error()))
		return ExitGeneral
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(struct {
		*schema.BookResult
		Output string `json:"output"`
	}{res, path})
	return ExitSuccess
}

func (a *app) writeOutput(session string, res *schema.BookResult) (string, error) {
	data, ext := res.PDF, ".pdf"
	if len(data) == 0 {
		data, ext = []byte(res.HTML), ".html"
	}
	path := a.cfg.Output
	if path == "" {
		path = session + ext
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// cancel raises the session's cancel flag. Only a shared registry (redis)
// reaches a pipeline running in another process.
func (a *app) cancel(ctx context.Context) int {
	req := a.request()
	if a.cfg.RedisAddr == "" {
		a.logger.Warn("no redis_addr configured, the cancel flag is local to this process")
	}
	if err := a.cancels.Cancel(ctx, req.SessionID); err != nil {
		a.logger.Error("cancel failed", slog.String("error", err.Error()))
		return ExitGeneral
	}
	a.logger.Info("cancellation requested", slog.String("session_id", req.SessionID))
	return ExitSuccess
}

func (a *app) prune(ctx context.Context, stdout io.Writer) int {
	report, err := a.janitor.Sweep(ctx)
	if err != nil {
		a.logger.Error("prune failed", slog.String("error", err.Error()))
		return ExitGeneral
	}
	fmt.Fprintf(stdout, "pruned %d checkpoints and %d staging directories\n", report.Checkpoints, report.Staging)
	return ExitSuccess
}

// serveProgress exposes the hub over SSE until the returned func is called.
func (a *app) serveProgress() func() {
	base, cancelStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              a.cfg.ProgressAddr,
		Handler:           streaming.NewSSEHandler(a.hub, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("progress server failed", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving progress events", slog.String("addr", a.cfg.ProgressAddr))

	return func() {
		// Open streams only end when their request context does.
		cancelStreams()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
}

func logProgress(log *slog.Logger, events <-chan streaming.ProgressEvent) {
	for e := range events {
		log.Info("progress",
			slog.String("event", e.EventType),
			slog.String("status", e.Status),
			slog.Int("chapter", e.Chapter),
			slog.Int("total", e.Total))
	}
}
