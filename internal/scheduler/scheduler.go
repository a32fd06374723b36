// Package scheduler runs named jobs on cron schedules and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"costrologer/internal/metrics"

	"github.com/robfig/cron/v3"
)

// Job names.
const (
	JobRecurring      = "recurring"
	JobBudgetAlerts   = "budget-alerts"
	JobMonthlyReports = "monthly-reports"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that was never registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobRunning is returned when a run of the same job is in progress.
	ErrJobRunning = errors.New("job already running")
)

// RunFunc executes one run of a job at now and returns how many items it
// handled.
type RunFunc func(ctx context.Context, now time.Time) (int, error)

// Job is a named, cron-scheduled unit of work.
type Job struct {
	Name string
	Spec string
	Run  RunFunc
}

// Scheduler triggers registered jobs on their cron spec. A job never runs
// twice at once, whether triggered by cron or by RunNow.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location
	jobs map[string]Job
	now  func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	baseCtx context.Context
	active  map[string]bool
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		loc:     loc,
		jobs:    make(map[string]Job),
		now:     time.Now,
		baseCtx: context.Background(),
		active:  make(map[string]bool),
	}
}

// Register adds a job. An empty spec registers the job for RunNow only.
func (s *Scheduler) Register(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.Spec != "" {
		_, err := s.cron.AddFunc(job.Spec, func() {
			s.mu.Lock()
			ctx := s.baseCtx
			s.mu.Unlock()
			_, _ = s.execute(ctx, job)
		})
		if err != nil {
			return fmt.Errorf("schedule job %q with spec %q: %w", job.Name, job.Spec, err)
		}
	}
	s.jobs[job.Name] = job
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes the named job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) (int, error) {
	s.mu.Lock()
	if s.active[job.Name] {
		s.mu.Unlock()
		slog.WarnContext(ctx, "Job skipped, previous run still in progress", "job", job.Name)
		return 0, fmt.Errorf("%w: %q", ErrJobRunning, job.Name)
	}
	s.active[job.Name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.Name)
		s.mu.Unlock()
	}()

	start := time.Now()
	now := s.now().In(s.loc)

	slog.InfoContext(ctx, "Job started", "job", job.Name, "now", now.Format(time.RFC3339))
	n, err := job.Run(ctx, now)
	metrics.ObserveJob(job.Name, start, err)

	if err != nil {
		slog.ErrorContext(ctx, "Job failed",
			"job", job.Name,
			"duration", time.Since(start),
			"error", err)
		return n, err
	}

	slog.InfoContext(ctx, "Job finished",
		"job", job.Name,
		"count", n,
		"duration", time.Since(start))
	return n, nil
}

// Start begins firing scheduled jobs. Scheduled runs use ctx as their parent
// context. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.baseCtx = ctx
	s.cron.Start()

	slog.InfoContext(ctx, "Scheduler started",
		"jobs", len(s.jobs),
		"location", s.loc.String())
	return nil
}

// Stop prevents new runs and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		slog.InfoContext(ctx, "Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
