package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"geminimock/internal/apierr"
	"geminimock/internal/gemini"
	"geminimock/internal/metrics"
)

type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const namePrefix = "batches/"

var ErrNotFound = fmt.Errorf("batch job %w", apierr.ErrNotFound)

type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Result holds either the response or the error for one request.
type Result struct {
	Response *gemini.GenerateContentResponse `json:"response,omitempty"`
	Error    *apierr.Body                    `json:"error,omitempty"`
}

type Job struct {
	Name       string     `json:"name"`
	Model      string     `json:"model"`
	State      State      `json:"state"`
	Progress   Progress   `json:"progress"`
	Responses  []Result   `json:"responses,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreateTime time.Time  `json:"createTime"`
	UpdateTime time.Time  `json:"updateTime"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
}

// Generator produces one response. The assembler satisfies it.
type Generator interface {
	Generate(ctx context.Context, model string, req *gemini.GenerateContentRequest) (*gemini.GenerateContentResponse, error)
}

type Config struct {
	Generator      Generator
	MaxConcurrency int
	Timeout        time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type record struct {
	job      Job
	requests []gemini.GenerateContentRequest
	cancel   context.CancelFunc
}

// Runner executes batch jobs in the background, one chunk of at most
// MaxConcurrency requests at a time.
type Runner struct {
	gen            Generator
	maxConcurrency int
	timeout        time.Duration
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	mu   sync.Mutex
	jobs map[string]*record

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func New(cfg Config) *Runner {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		gen:            cfg.Generator,
		maxConcurrency: cfg.MaxConcurrency,
		timeout:        cfg.Timeout,
		logger:         cfg.Logger,
		metrics:        m,
		now:            cfg.Now,
		jobs:           map[string]*record{},
		base:           base,
		stop:           stop,
	}
}

// Submit registers a PENDING job and returns it before any request runs.
func (r *Runner) Submit(model string, requests []gemini.GenerateContentRequest) (Job, error) {
	if len(requests) == 0 {
		return Job{}, apierr.InvalidArgument("batch must contain at least one request")
	}
	now := r.now()
	rec := &record{
		job: Job{
			Name:       namePrefix + uuid.NewString(),
			Model:      model,
			State:      StatePending,
			Progress:   Progress{Total: len(requests)},
			CreateTime: now,
			UpdateTime: now,
		},
		requests: slices.Clone(requests),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Job{}, apierr.New(http.StatusServiceUnavailable, "batch runner is shutting down")
	}
	ctx, cancel := context.WithTimeout(r.base, r.timeout)
	rec.cancel = cancel
	r.jobs[rec.job.Name] = rec
	job := rec.job
	r.wg.Add(1)
	r.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.finish(rec, StateFailed, "batch job exceeded its timeout of "+r.timeout.String(), nil)
		}
	})
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stopWatch()
		r.run(ctx, rec)
	}()

	r.logger.Info().Str("batch", job.Name).Int("requests", len(requests)).Msg("batch job submitted")
	return job, nil
}

func (r *Runner) run(ctx context.Context, rec *record) {
	if !r.transition(rec, StatePending, StateRunning) {
		return
	}

	results := make([]Result, len(rec.requests))
	for start := 0; start < len(rec.requests); start += r.maxConcurrency {
		if ctx.Err() != nil {
			r.finish(rec, StateFailed, "batch job interrupted", nil)
			return
		}
		end := min(start+r.maxConcurrency, len(rec.requests))

		var g errgroup.Group
		g.SetLimit(r.maxConcurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				req := rec.requests[i]
				resp, err := r.gen.Generate(ctx, rec.job.Model, &req)
				if err != nil {
					body := apierr.From(err).Envelope().Error
					results[i] = Result{Error: &body}
					return nil
				}
				results[i] = Result{Response: resp}
				return nil
			})
		}
		_ = g.Wait()

		if !r.recordChunk(rec, results[start:end]) {
			return
		}
	}

	failed := 0
	for _, res := range results {
		if res.Error != nil {
			failed++
		}
	}
	if failed == len(results) {
		r.finish(rec, StateFailed, "every request in the batch failed", results)
		return
	}
	r.finish(rec, StateCompleted, "", results)
}

func (r *Runner) transition(rec *record, from, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.job.State != from {
		return false
	}
	now := r.now()
	rec.job.State = to
	rec.job.UpdateTime = now
	if to == StateRunning {
		rec.job.StartTime = &now
	}
	return true
}

// recordChunk folds finished results into progress. It reports false
// once the job is terminal so remaining chunks are skipped.
func (r *Runner) recordChunk(rec *record, chunk []Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.job.State.Terminal() {
		return false
	}
	for _, res := range chunk {
		if res.Error != nil {
			rec.job.Progress.Failed++
		} else {
			rec.job.Progress.Completed++
		}
	}
	rec.job.UpdateTime = r.now()
	return true
}

// finish moves a job to a terminal state once. Later calls are no-ops.
func (r *Runner) finish(rec *record, state State, reason string, results []Result) {
	r.mu.Lock()
	if rec.job.State.Terminal() {
		r.mu.Unlock()
		return
	}
	now := r.now()
	rec.job.State = state
	rec.job.Error = reason
	rec.job.Responses = results
	rec.job.UpdateTime = now
	rec.job.EndTime = &now
	name, progress := rec.job.Name, rec.job.Progress
	r.mu.Unlock()

	r.metrics.BatchJobs.WithLabelValues(string(state)).Inc()
	ev := r.logger.Info()
	if state == StateFailed {
		ev = r.logger.Warn()
	}
	ev.Str("batch", name).Str("state", string(state)).Int("completed", progress.Completed).
		Int("failed", progress.Failed).Str("reason", reason).Msg("batch job finished")
}

func (r *Runner) Get(name string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[canonical(name)]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec.job, nil
}

func (r *Runner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, rec := range r.jobs {
		out = append(out, rec.job)
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Cancel fails a job that has not finished. In-flight requests may still
// complete but their results are dropped.
func (r *Runner) Cancel(name string) (Job, error) {
	r.mu.Lock()
	rec, ok := r.jobs[canonical(name)]
	r.mu.Unlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.finish(rec, StateFailed, "cancelled by client", nil)
	rec.cancel()
	return r.Get(name)
}

func (r *Runner) Delete(name string) error {
	r.mu.Lock()
	rec, ok := r.jobs[canonical(name)]
	if ok {
		delete(r.jobs, canonical(name))
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.finish(rec, StateFailed, "deleted", nil)
	rec.cancel()
	return nil
}

// Close stops accepting jobs, cancels running ones and waits for their
// goroutines to exit.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()
	r.wg.Wait()
}

func canonical(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, namePrefix); i >= 0 {
		return name[i:]
	}
	return namePrefix + name
}
