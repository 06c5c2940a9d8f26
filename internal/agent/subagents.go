package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// SubagentWork is the body of a background task. depth is the depth the
// task was submitted at, for work that submits further tasks.
type SubagentWork func(ctx context.Context, depth int) (string, error)

// SubagentCallback receives a task's outcome exactly once: the work result,
// or an error text when the work failed. Its errors are logged only.
type SubagentCallback func(ctx context.Context, task *SubagentTask, result string) error

// SubagentTask is a handle on a submitted background task.
type SubagentTask struct {
	ID       string
	Name     string
	Depth    int
	Rejected bool
	Created  time.Time

	done   chan struct{}
	result string
	err    error
}

// Done is closed once the task has finished and its callback has returned.
// It is closed immediately for rejected tasks.
func (t *SubagentTask) Done() <-chan struct{} { return t.done }

// Result returns the work outcome. Valid after Done is closed.
func (t *SubagentTask) Result() (string, error) { return t.result, t.err }

// SubagentManager runs background tasks under a concurrency ceiling and a
// recursion-depth cutoff. It has no timeout of its own: a stuck work
// function holds its slot until it returns.
type SubagentManager struct {
	maxConcurrent int
	maxDepth      int
	sem           *semaphore.Weighted
	active        atomic.Int32
	wg            sync.WaitGroup
}

// NewSubagentManager creates a manager. Non-positive limits fall back to 5
// concurrent tasks and depth 2.
func NewSubagentManager(maxConcurrent, maxDepth int) *SubagentManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if maxDepth < 0 {
		maxDepth = 2
	}
	return &SubagentManager{
		maxConcurrent: maxConcurrent,
		maxDepth:      maxDepth,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// MaxConcurrent returns the concurrency ceiling.
func (m *SubagentManager) MaxConcurrent() int { return m.maxConcurrent }

// MaxDepth returns the recursion-depth cutoff.
func (m *SubagentManager) MaxDepth() int { return m.maxDepth }

// ActiveCount returns how many tasks are executing their work right now.
func (m *SubagentManager) ActiveCount() int { return int(m.active.Load()) }

// Submit starts work in the background. A depth above the cutoff is
// rejected synchronously: the returned task is marked Rejected and neither
// work nor callback ever runs. Accepted tasks queue for a slot.
func (m *SubagentManager) Submit(ctx context.Context, name string, depth int, work SubagentWork, callback SubagentCallback) *SubagentTask {
	task := &SubagentTask{
		ID:      uuid.NewString(),
		Name:    name,
		Depth:   depth,
		Created: time.Now(),
		done:    make(chan struct{}),
	}
	if depth > m.maxDepth {
		slog.Warn("Sub-agent rejected: depth exceeds max", "name", name, "depth", depth, "max_depth", m.maxDepth)
		task.Rejected = true
		close(task.done)
		return task
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(task.done)
		m.run(ctx, task, work, callback)
	}()
	return task
}

func (m *SubagentManager) run(ctx context.Context, task *SubagentTask, work SubagentWork, callback SubagentCallback) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		task.err = fmt.Errorf("waiting for slot: %w", err)
		m.deliver(ctx, task, callback)
		return
	}
	m.active.Add(1)
	slog.Info("Sub-agent started", "name", task.Name, "id", task.ID, "depth", task.Depth, "active", m.ActiveCount())
	task.result, task.err = safeWork(ctx, task, work)
	m.active.Add(-1)
	m.sem.Release(1)

	if task.err != nil {
		slog.Error("Sub-agent failed", "name", task.Name, "id", task.ID, "error", task.err)
	} else {
		slog.Info("Sub-agent finished", "name", task.Name, "id", task.ID)
	}
	m.deliver(ctx, task, callback)
}

func safeWork(ctx context.Context, task *SubagentTask, work SubagentWork) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, task.Depth)
}

func (m *SubagentManager) deliver(ctx context.Context, task *SubagentTask, callback SubagentCallback) {
	if callback == nil {
		return
	}
	result := task.result
	if task.err != nil {
		result = fmt.Sprintf("Error in sub-agent '%s': %v", task.Name, task.err)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sub-agent callback panicked", "name", task.Name, "panic", r)
		}
	}()
	if err := callback(ctx, task, result); err != nil {
		slog.Error("Sub-agent callback failed", "name", task.Name, "error", err)
	}
}

// Wait blocks until every accepted task has finished or ctx is done.
func (m *SubagentManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
