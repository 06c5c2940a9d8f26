// Package scheduler runs the assistant's periodic jobs on cron schedules with
// a process-level file lock and per-category concurrency caps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	CategoryLLM     JobCategory = "llm"
	CategoryDefault JobCategory = "default"
)

// Run statuses passed to the RunRecorder.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped_concurrency"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name     string      // Unique job identifier.
	Spec     string      // Cron spec ("0 7 * * *") or descriptor ("@every 5m").
	Category JobCategory // For semaphore selection.
	Run      func(ctx context.Context) error
}

// RunRecorder persists job run outcomes. The message log implements it.
type RunRecorder interface {
	RecordJobRun(name, status string, startedAt time.Time, duration time.Duration, errText string) error
}

// Config holds scheduler settings.
type Config struct {
	Location       *time.Location
	MaxConcLLM     int
	MaxConcDefault int
	LockPath       string
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig(home string) Config {
	return Config{
		Location:       time.Local,
		MaxConcLLM:     2,
		MaxConcDefault: 4,
		LockPath:       filepath.Join(home, "scheduler.lock"),
	}
}

// Scheduler manages job registration, dispatch, and concurrency control.
type Scheduler struct {
	cfg        Config
	cron       *cron.Cron
	recorder   RunRecorder
	jobs       map[string]*Job
	mu         sync.RWMutex
	semaphores map[JobCategory]*semaphore.Weighted
	lock       *InstanceLock
	ctx        context.Context
	cancel     context.CancelFunc
	locked     bool
}

// New creates a Scheduler.
func New(cfg Config, recorder RunRecorder) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxConcLLM <= 0 {
		cfg.MaxConcLLM = 2
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 4
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(os.TempDir(), "soulbot-scheduler.lock")
	}
	return &Scheduler{
		cfg:      cfg,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
		recorder: recorder,
		jobs:     make(map[string]*Job),
		semaphores: map[JobCategory]*semaphore.Weighted{
			CategoryLLM:     semaphore.NewWeighted(int64(cfg.MaxConcLLM)),
			CategoryDefault: semaphore.NewWeighted(int64(cfg.MaxConcDefault)),
		},
		lock: NewInstanceLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) error {
	if job == nil || job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.dispatch(job) }); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "spec", job.Spec, "category", job.Category)
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start begins firing jobs. Only the process holding the file lock runs jobs;
// others log and stay idle.
func (s *Scheduler) Start(ctx context.Context) error {
	holder, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}
	if holder != nil {
		slog.Warn("Scheduler not started: lock held by another instance",
			"lock", s.cfg.LockPath, "pid", holder.PID, "host", holder.Host, "since", holder.Started)
		return nil
	}
	s.mu.Lock()
	s.locked = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(s.Jobs()))
	return nil
}

// Stop halts scheduling, waits for running jobs and releases the lock.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.locked {
		_ = s.lock.Unlock()
		s.locked = false
	}
	slog.Info("Scheduler stopped")
}

// RunNow runs a registered job synchronously, bypassing its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.execute(ctx, job)
}

// dispatch runs a job if a semaphore slot is available.
func (s *Scheduler) dispatch(job *Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.execute(ctx, job); err != nil {
		slog.Warn("Scheduler job failed", "job", job.Name, "error", err)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) error {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}
	now := time.Now()
	if !sem.TryAcquire(1) {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		s.logJobRun(job.Name, StatusSkipped, now, nil)
		return nil
	}
	defer sem.Release(1)

	slog.Info("Scheduler dispatching job", "job", job.Name)
	err := safeRun(ctx, job)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
	}
	s.logJobRun(job.Name, status, now, err)
	return err
}

func safeRun(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

// logJobRun persists the run status (best-effort).
func (s *Scheduler) logJobRun(name, status string, at time.Time, runErr error) {
	if s.recorder == nil {
		return
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := s.recorder.RecordJobRun(name, status, at, time.Since(at), errText); err != nil {
		slog.Debug("Scheduler run not recorded", "job", name, "error", err)
	}
}
