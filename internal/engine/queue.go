package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/pkg/schema"
)

// Runner runs one book generation to completion. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req schema.GenerationRequest) (*schema.BookResult, error)
}

// JobStatus is the queue-level state of a submitted job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
)

// Job is a handle on a submitted generation request.
type Job struct {
	ID      string
	Request schema.GenerationRequest

	mu     sync.Mutex
	status JobStatus
	result *schema.BookResult
	err    error
	done   chan struct{}
}

// Done is closed once the job has finished, successfully or not.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the job's queue state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the outcome; valid after Done is closed.
func (j *Job) Result() (*schema.BookResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*schema.BookResult, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) finish(res *schema.BookResult, err error) {
	j.mu.Lock()
	j.status = JobDone
	j.result, j.err = res, err
	j.mu.Unlock()
	close(j.done)
}

// JobQueue serializes generation requests onto a small WorkerPool so that
// concurrent books do not oversubscribe the per-minute completion budget.
// Jobs start in submission order.
type JobQueue struct {
	runner  Runner
	pool    *WorkerPool
	logger  *slog.Logger
	pending chan *Job

	ctx        context.Context
	cancel     context.CancelFunc
	dispatched chan struct{}

	sendMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	inFlight map[string]*Job // session id -> job
}

// NewJobQueue starts a queue running at most concurrency jobs at once and
// holding up to depth waiting jobs.
func NewJobQueue(runner Runner, concurrency, depth int, logger *slog.Logger) *JobQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		runner:     runner,
		pool:       NewWorkerPool(concurrency),
		logger:     logger,
		pending:    make(chan *Job, depth),
		ctx:        ctx,
		cancel:     cancel,
		dispatched: make(chan struct{}),
		inFlight:   make(map[string]*Job),
	}
	q.pool.OnPanic(func(err error) {
		q.logger.Error("generation job panicked", slog.String("error", err.Error()))
	})
	go q.dispatch()
	return q
}

// Submit enqueues req. A request for a session that is already queued or
// running returns the existing job instead of starting a second pipeline on
// the same checkpoint. An empty SessionID is filled with the derived key
// before that lookup.
func (q *JobQueue) Submit(ctx context.Context, req schema.GenerationRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.SessionID = req.Key()

	// sendMu is held shared across the send so Shutdown cannot close pending mid-send.
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		return nil, schema.NewError(schema.ErrCodeQueueClosed, "job queue is shut down")
	}

	q.mu.Lock()
	if existing, ok := q.inFlight[req.SessionID]; ok {
		q.mu.Unlock()
		return existing, nil
	}
	job := &Job{
		ID:      uuid.NewString(),
		Request: req,
		status:  JobQueued,
		done:    make(chan struct{}),
	}
	q.inFlight[req.SessionID] = job
	q.mu.Unlock()

	select {
	case q.pending <- job:
	case <-ctx.Done():
		q.forget(job)
		return nil, ctx.Err()
	}

	q.logger.Info("job queued",
		slog.String("job_id", job.ID),
		slog.String("session_id", req.SessionID),
		slog.String("topic", req.Topic))
	return job, nil
}

func (q *JobQueue) dispatch() {
	defer close(q.dispatched)
	for job := range q.pending {
		job := job
		err := q.pool.Submit(q.ctx, func(ctx context.Context) error {
			return q.run(ctx, job)
		})
		if err != nil {
			q.complete(job, nil, schema.NewError(schema.ErrCodeQueueClosed, "job queue is shut down").WithCause(err))
		}
	}
}

func (q *JobQueue) run(ctx context.Context, job *Job) (err error) {
	ctx = logging.WithJobID(logging.WithSessionID(ctx, job.Request.SessionID), job.ID)
	log := logging.LogWith(ctx, q.logger)
	job.setStatus(JobRunning)
	log.Info("job started")

	var res *schema.BookResult
	defer func() {
		if r := recover(); r != nil {
			q.complete(job, nil, schema.NewErrorf(schema.ErrCodeStore, "job panicked: %v", r))
			panic(r)
		}
		q.complete(job, res, err)
	}()

	res, err = q.runner.Run(ctx, job.Request)
	if err != nil {
		log.Error("job finished with error",
			slog.String("failure", string(schema.Classify(err))),
			slog.String("error", err.Error()))
		return err
	}
	log.Info("job finished", slog.Int("chapters", res.Chapters))
	return nil
}

func (q *JobQueue) complete(job *Job, res *schema.BookResult, err error) {
	q.forget(job)
	job.finish(res, err)
}

func (q *JobQueue) forget(job *Job) {
	q.mu.Lock()
	if q.inFlight[job.Request.SessionID] == job {
		delete(q.inFlight, job.Request.SessionID)
	}
	q.mu.Unlock()
}

// Len returns the number of queued or running jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Shutdown stops accepting jobs, lets queued and running jobs finish, and returns.
func (q *JobQueue) Shutdown() {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.sendMu.Unlock()

	<-q.dispatched
	q.pool.Shutdown()
	q.cancel()
}

// Stop cancels running jobs' contexts and then shuts down. Cancelled jobs
// keep their checkpoints.
func (q *JobQueue) Stop() {
	q.cancel()
	q.Shutdown()
}
