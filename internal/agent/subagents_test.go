package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, task *SubagentTask) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("task %s did not finish", task.Name)
	}
}

func TestSubagentManager_Defaults(t *testing.T) {
	m := NewSubagentManager(0, -1)
	if m.MaxConcurrent() != 5 || m.MaxDepth() != 2 {
		t.Errorf("defaults = %d/%d", m.MaxConcurrent(), m.MaxDepth())
	}
}

func TestSubagentManager_CallbackReceivesResult(t *testing.T) {
	m := NewSubagentManager(2, 2)
	var got string
	var calls atomic.Int32
	task := m.Submit(context.Background(), "research", 1, func(_ context.Context, depth int) (string, error) {
		if depth != 1 {
			t.Errorf("depth = %d", depth)
		}
		return "findings", nil
	}, func(_ context.Context, _ *SubagentTask, result string) error {
		calls.Add(1)
		got = result
		return nil
	})
	waitDone(t, task)
	if got != "findings" || calls.Load() != 1 {
		t.Errorf("callback got %q (%d calls)", got, calls.Load())
	}
	if res, err := task.Result(); res != "findings" || err != nil {
		t.Errorf("Result() = %q, %v", res, err)
	}
	if task.ID == "" {
		t.Error("task id should be set")
	}
}

func TestSubagentManager_DepthRejection(t *testing.T) {
	m := NewSubagentManager(2, 2)
	var ran, called atomic.Bool
	task := m.Submit(context.Background(), "deep", 3, func(context.Context, int) (string, error) {
		ran.Store(true)
		return "", nil
	}, func(context.Context, *SubagentTask, string) error {
		called.Store(true)
		return nil
	})
	if !task.Rejected {
		t.Fatal("task above max depth should be rejected")
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("rejected task should be done immediately")
	}
	if err := m.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ran.Load() || called.Load() {
		t.Error("rejected task must not run work or callback")
	}

	atMax := m.Submit(context.Background(), "edge", 2, func(context.Context, int) (string, error) { return "ok", nil }, nil)
	if atMax.Rejected {
		t.Error("depth equal to max should be accepted")
	}
	waitDone(t, atMax)
}

func TestSubagentManager_ConcurrencyCeiling(t *testing.T) {
	m := NewSubagentManager(2, 2)
	release := make(chan struct{})
	var current, peak atomic.Int32
	var mu sync.Mutex
	var results []string

	work := func(context.Context, int) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return "ok", nil
	}
	callback := func(_ context.Context, _ *SubagentTask, result string) error {
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
		return nil
	}

	var tasks []*SubagentTask
	for i := 0; i < 5; i++ {
		tasks = append(tasks, m.Submit(context.Background(), "worker", 1, work, callback))
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.ActiveCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := m.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	close(release)
	for _, task := range tasks {
		waitDone(t, task)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if len(results) != 5 {
		t.Errorf("callbacks = %d, want 5", len(results))
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after completion = %d", m.ActiveCount())
	}
}

func TestSubagentManager_FailureDeliversErrorText(t *testing.T) {
	m := NewSubagentManager(1, 2)
	var got []string
	var mu sync.Mutex
	cb := func(_ context.Context, _ *SubagentTask, result string) error {
		mu.Lock()
		got = append(got, result)
		mu.Unlock()
		return nil
	}
	failed := m.Submit(context.Background(), "builder", 0, func(context.Context, int) (string, error) {
		return "", errors.New("step 2 failed")
	}, cb)
	panicked := m.Submit(context.Background(), "system", 0, func(context.Context, int) (string, error) {
		panic("unexpected")
	}, cb)
	waitDone(t, failed)
	waitDone(t, panicked)

	if len(got) != 2 {
		t.Fatalf("callbacks = %d, want 2", len(got))
	}
	joined := strings.Join(got, "|")
	if !strings.Contains(joined, "Error in sub-agent 'builder': step 2 failed") {
		t.Errorf("missing builder error in %q", joined)
	}
	if !strings.Contains(joined, "Error in sub-agent 'system': panic: unexpected") {
		t.Errorf("missing panic error in %q", joined)
	}
	if _, err := failed.Result(); err == nil {
		t.Error("Result should carry the work error")
	}
}

func TestSubagentManager_CallbackFaultsAreContained(t *testing.T) {
	m := NewSubagentManager(1, 2)
	var calls atomic.Int32
	a := m.Submit(context.Background(), "a", 0, func(context.Context, int) (string, error) { return "x", nil },
		func(context.Context, *SubagentTask, string) error {
			calls.Add(1)
			return errors.New("channel gone")
		})
	b := m.Submit(context.Background(), "b", 0, func(context.Context, int) (string, error) { return "y", nil },
		func(context.Context, *SubagentTask, string) error {
			calls.Add(1)
			panic("callback exploded")
		})
	waitDone(t, a)
	waitDone(t, b)
	if calls.Load() != 2 {
		t.Errorf("callback calls = %d, want 2", calls.Load())
	}

	after := m.Submit(context.Background(), "c", 0, func(context.Context, int) (string, error) { return "z", nil }, nil)
	waitDone(t, after)
	if res, _ := after.Result(); res != "z" {
		t.Errorf("manager should keep working, got %q", res)
	}
}

func TestSubagentManager_CancelledWhileQueued(t *testing.T) {
	m := NewSubagentManager(1, 2)
	block := make(chan struct{})
	first := m.Submit(context.Background(), "holder", 0, func(context.Context, int) (string, error) {
		<-block
		return "held", nil
	}, nil)

	deadline := time.Now().Add(5 * time.Second)
	for m.ActiveCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got string
	var ran atomic.Bool
	queued := m.Submit(ctx, "queued", 0, func(context.Context, int) (string, error) {
		ran.Store(true)
		return "", nil
	}, func(_ context.Context, _ *SubagentTask, result string) error {
		got = result
		return nil
	})
	cancel()
	waitDone(t, queued)
	if ran.Load() {
		t.Error("cancelled task should not run")
	}
	if !strings.HasPrefix(got, "Error in sub-agent 'queued'") {
		t.Errorf("callback got %q", got)
	}
	close(block)
	waitDone(t, first)
}
