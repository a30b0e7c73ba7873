// Package scheduler runs workflow templates on cron schedules.
//
// Jobs come from configuration. Each firing runs the job's template through
// the orchestrator exactly as the CLI or HTTP API would, so scheduled runs
// show up in workflow history, metrics and the event stream.
// A job never overlaps with itself: a firing that finds the previous run
// still in progress is skipped.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bosco-os/bosco/internal/orchestrator"
)

// ErrUnknownJob is returned by RunNow for a job name that is not scheduled.
var ErrUnknownJob = errors.New("unknown scheduled job")

// TemplateRunner runs a named workflow template. *orchestrator.Orchestrator
// implements it.
type TemplateRunner interface {
	RunTemplate(ctx context.Context, name string, params map[string]string) (orchestrator.WorkflowOutcome, error)
}

// Job is a template run on a cron schedule.
type Job struct {
	Name     string
	Schedule string // Standard 5-field cron expression or descriptor (@hourly).
	Template string
	Params   map[string]string
}

// JobStatus is a point-in-time view of a scheduled job.
type JobStatus struct {
	Name           string    `json:"name"`
	Schedule       string    `json:"schedule"`
	Template       string    `json:"template"`
	Next           time.Time `json:"next_run"`
	LastRun        time.Time `json:"last_run,omitzero"`
	LastWorkflowID string    `json:"last_workflow_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	Running        bool      `json:"running"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running atomic.Bool

	mu             sync.Mutex
	lastRun        time.Time
	lastWorkflowID string
	lastError      string
}

// Scheduler fires jobs on their schedules.
type Scheduler struct {
	runner  TemplateRunner
	metrics *Metrics
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	ctx     context.Context
}

// New creates a Scheduler. metrics and logger may be nil.
func New(runner TemplateRunner, metrics *Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		runner:  runner,
		metrics: metrics,
		logger:  logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		now:     time.Now,
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Add schedules job. Names must be unique and the template must exist.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, ok := orchestrator.LookupTemplate(job.Template); !ok {
		return fmt.Errorf("job %s: %w: %s", job.Name, orchestrator.ErrUnknownTemplate, job.Template)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("job %s already scheduled", job.Name)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.fire(s.runContext(), e) })
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	e.id = id
	s.entries[job.Name] = e
	s.order = append(s.order, job.Name)
	return nil
}

// Start begins firing jobs. Returns a stop function that waits for running
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", n))

	return func() {
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// RunNow fires the named job immediately and waits for it. The overlap rule
// still applies.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.fire(ctx, e)
	return nil
}

// Jobs returns the status of every job in the order they were added.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		e := s.entries[name]
		next := s.cron.Entry(e.id).Next
		if next.IsZero() {
			next, _ = NextRun(e.job.Schedule, s.now())
		}
		e.mu.Lock()
		st := JobStatus{
			Name:           e.job.Name,
			Schedule:       e.job.Schedule,
			Template:       e.job.Template,
			Next:           next,
			LastRun:        e.lastRun,
			LastWorkflowID: e.lastWorkflowID,
			LastError:      e.lastError,
			Running:        e.running.Load(),
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// fire runs one job and records the result.
func (s *Scheduler) fire(ctx context.Context, e *entry) {
	job := e.job
	if !e.running.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "scheduled job still running, skipping",
			slog.String("job", job.Name),
		)
		if s.metrics != nil {
			s.metrics.JobsSkipped.WithLabelValues(job.Name).Inc()
		}
		return
	}
	defer e.running.Store(false)

	correlationID := newCorrelationID()
	start := s.now()
	s.logger.InfoContext(ctx, "firing scheduled job",
		slog.String("job", job.Name),
		slog.String("template", job.Template),
		slog.String("correlation_id", correlationID),
	)
	if s.metrics != nil {
		s.metrics.JobsFired.WithLabelValues(job.Name).Inc()
	}

	out, err := s.runner.RunTemplate(ctx, job.Template, job.Params)

	var errMsg, workflowID string
	switch {
	case err != nil:
		errMsg = err.Error()
	case !out.Success:
		errMsg = out.Error
	}
	if out.Workflow != nil {
		workflowID = out.Workflow.ID
	}

	elapsed := s.now().Sub(start)
	if errMsg != "" {
		s.logger.ErrorContext(ctx, "scheduled job failed",
			slog.String("job", job.Name),
			slog.String("correlation_id", correlationID),
			slog.String("workflow_id", workflowID),
			slog.String("error", errMsg),
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.WithLabelValues(job.Name).Inc()
		}
	} else {
		s.logger.InfoContext(ctx, "scheduled job completed",
			slog.String("job", job.Name),
			slog.String("correlation_id", correlationID),
			slog.String("workflow_id", workflowID),
			slog.Duration("duration", elapsed),
		)
		if s.metrics != nil {
			s.metrics.JobsSucceeded.WithLabelValues(job.Name).Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	}

	e.mu.Lock()
	e.lastRun = start
	e.lastWorkflowID = workflowID
	e.lastError = errMsg
	e.mu.Unlock()
}

// NextRun returns the next firing time of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
