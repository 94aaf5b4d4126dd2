package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/bookforge/internal/store"
)

// DefaultSpec runs the janitor once an hour.
const DefaultSpec = "@hourly"

// Config controls what the janitor prunes and when.
type Config struct {
	// Spec is a five-field cron expression or a descriptor such as @hourly.
	Spec string
	// MaxAge is how long an untouched checkpoint or staging directory survives.
	MaxAge time.Duration
}

// Report counts what one sweep removed.
type Report struct {
	Checkpoints int
	Staging     int
}

// Janitor periodically deletes checkpoints and staged sections left behind by
// runs that were cancelled or failed and never resumed.
type Janitor struct {
	checkpoints store.CheckpointStore
	staging     store.StagingStore
	maxAge      time.Duration
	schedule    cron.Schedule
	now         func() time.Time
	logger      *slog.Logger

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// vacuumer is implemented by stores that can reclaim space after deletes.
type vacuumer interface {
	Vacuum(ctx context.Context) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewJanitor validates cfg. staging may be nil.
func NewJanitor(cfg Config, checkpoints store.CheckpointStore, staging store.StagingStore, logger *slog.Logger) (*Janitor, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive, got %s", cfg.MaxAge)
	}
	schedule, err := cronParser.Parse(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		checkpoints: checkpoints,
		staging:     staging,
		maxAge:      cfg.MaxAge,
		schedule:    schedule,
		now:         time.Now,
		logger:      logger,
	}, nil
}

// Next reports when the sweep after from is due.
func (j *Janitor) Next(from time.Time) time.Time {
	return j.schedule.Next(from)
}

// Start launches the background loop. It sweeps on every cron tick until Stop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return fmt.Errorf("janitor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.loop(loopCtx, j.done)
	j.logger.Info("janitor started", slog.Duration("max_age", j.maxAge))
	return nil
}

func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		timer := time.NewTimer(time.Until(j.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				j.logger.Error("janitor sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop ends the loop and waits for an in-flight sweep. Stopping twice is a no-op.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil
	j.logger.Info("janitor stopped")
}

// Sweep removes everything older than MaxAge once. Overlapping calls return
// an empty report immediately.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var report Report
	if !j.running.CompareAndSwap(false, true) {
		return report, nil
	}
	defer j.running.Store(false)

	cutoff := j.now().Add(-j.maxAge)

	infos, err := j.checkpoints.List(ctx)
	if err != nil {
		return report, err
	}
	var errs []error
	for _, info := range infos {
		if !info.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := j.checkpoints.Clear(ctx, info.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		if j.staging != nil {
			if err := j.staging.RemoveSession(ctx, info.Key); err != nil {
				errs = append(errs, err)
			}
		}
		report.Checkpoints++
	}

	if j.staging != nil {
		n, err := j.staging.Prune(ctx, cutoff)
		report.Staging = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	if v, ok := j.checkpoints.(vacuumer); ok && report.Checkpoints > 0 {
		if err := v.Vacuum(ctx); err != nil {
			errs = append(errs, fmt.Errorf("vacuum: %w", err))
		}
	}

	if report.Checkpoints > 0 || report.Staging > 0 {
		j.logger.Info("janitor pruned stale runs",
			slog.Int("checkpoints", report.Checkpoints),
			slog.Int("staging", report.Staging),
		)
	}
	return report, errors.Join(errs...)
}
