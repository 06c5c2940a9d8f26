package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingRecorder struct {
	mu   sync.Mutex
	runs map[string]string
}

func (r *recordingRecorder) RecordJobRun(name, status string, _ time.Time, _ time.Duration, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[string]string{}
	}
	r.runs[name] = status
	return nil
}

func TestSchedulerRunNowRecordsStatus(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(Config{LockPath: filepath.Join(t.TempDir(), "test.lock")}, rec)

	ran := 0
	if err := s.Register(&Job{Name: "ok", Spec: "@every 1h", Run: func(context.Context) error { ran++; return nil }}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(&Job{Name: "bad", Spec: "@every 1h", Run: func(context.Context) error { return errors.New("boom") }}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunNow(context.Background(), "ok"); err != nil {
		t.Fatalf("run ok: %v", err)
	}
	if err := s.RunNow(context.Background(), "bad"); err == nil {
		t.Fatal("expected error from failing job")
	}
	if ran != 1 {
		t.Errorf("expected job to run once, got %d", ran)
	}
	if rec.runs["ok"] != "completed" || rec.runs["bad"] != "failed" {
		t.Errorf("unexpected recorded runs: %v", rec.runs)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("expected unknown job error")
	}
}

func TestSchedulerRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(Config{LockPath: filepath.Join(t.TempDir(), "test.lock")}, nil)
	noop := func(context.Context) error { return nil }

	if err := s.Register(&Job{Name: "bad", Spec: "not a spec", Run: noop}); err == nil {
		t.Error("expected invalid spec error")
	}
	if err := s.Register(&Job{Name: "dup", Spec: "0 7 * * *", Run: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(&Job{Name: "dup", Spec: "0 7 * * *", Run: noop}); err == nil {
		t.Error("expected duplicate registration error")
	}
	if got := s.Jobs(); len(got) != 1 || got[0] != "dup" {
		t.Errorf("expected [dup], got %v", got)
	}
}

func TestSchedulerPanicBecomesError(t *testing.T) {
	s := New(Config{LockPath: filepath.Join(t.TempDir(), "test.lock")}, nil)
	_ = s.Register(&Job{Name: "panics", Spec: "@every 1h", Run: func(context.Context) error { panic("oops") }})
	if err := s.RunNow(context.Background(), "panics"); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestSchedulerSkipsWhenCategorySaturated(t *testing.T) {
	rec := &recordingRecorder{}
	s := New(Config{LockPath: filepath.Join(t.TempDir(), "test.lock"), MaxConcLLM: 1}, rec)
	ran := false
	_ = s.Register(&Job{Name: "llm", Spec: "@every 1h", Category: CategoryLLM, Run: func(context.Context) error { ran = true; return nil }})

	sem := s.semaphores[CategoryLLM]
	if !sem.TryAcquire(1) {
		t.Fatal("expected to take the only slot")
	}
	defer sem.Release(1)

	if err := s.RunNow(context.Background(), "llm"); err != nil {
		t.Fatalf("expected skip without error, got %v", err)
	}
	if ran {
		t.Error("job should not run while category is saturated")
	}
	if rec.runs["llm"] != "skipped_concurrency" {
		t.Errorf("expected skipped_concurrency, got %q", rec.runs["llm"])
	}
}

func TestSchedulerLockPreventsOverlap(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "overlap.lock")

	s1 := New(Config{LockPath: lockPath}, nil)
	s2 := New(Config{LockPath: lockPath}, nil)

	holder, err := s1.lock.TryLock()
	if err != nil || holder != nil {
		t.Fatalf("s1 should acquire lock: %+v, %v", holder, err)
	}

	holder, err = s2.lock.TryLock()
	if err != nil {
		t.Fatal("unexpected error on s2 lock:", err)
	}
	if holder == nil {
		t.Fatal("s2 should NOT acquire lock while s1 holds it")
	}
	if holder.PID != os.Getpid() || holder.Started.IsZero() {
		t.Errorf("holder = %+v", holder)
	}

	if err := s1.lock.Unlock(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("unlock should remove the lock file")
	}

	holder, err = s2.lock.TryLock()
	if err != nil || holder != nil {
		t.Fatalf("s2 should acquire lock after s1 released: %+v, %v", holder, err)
	}
	s2.lock.Unlock()
}

func TestInstanceLockTakesOverStaleOwner(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "stale.lock")
	host, _ := os.Hostname()
	write := func(owner string) {
		t.Helper()
		if err := os.WriteFile(lockPath, []byte(owner), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	l := NewInstanceLock(lockPath)
	l.alive = func(pid int) bool { return pid != 4242 }

	write(`{"pid":4242,"host":"` + host + `","started":"2026-01-01T00:00:00Z"}`)
	if holder, err := l.TryLock(); err != nil || holder != nil {
		t.Fatalf("dead owner should be taken over: %+v, %v", holder, err)
	}
	data, _ := os.ReadFile(lockPath)
	if !strings.Contains(string(data), fmt.Sprintf(`"pid":%d`, os.Getpid())) {
		t.Errorf("lock file not rewritten with our pid: %s", data)
	}
	l.Unlock()

	write(`{"pid":4242,"host":"some-other-host","started":"2026-01-01T00:00:00Z"}`)
	if holder, err := l.TryLock(); err != nil || holder == nil || holder.Host != "some-other-host" {
		t.Fatalf("owner on another host must be respected: %+v, %v", holder, err)
	}

	write(`{"pid":7,"host":"` + host + `"}`)
	if holder, err := l.TryLock(); err != nil || holder == nil || holder.PID != 7 {
		t.Fatalf("live owner must be respected: %+v, %v", holder, err)
	}

	write("")
	if holder, err := l.TryLock(); err != nil || holder == nil {
		t.Fatalf("fresh empty lock file may still be in progress: %+v, %v", holder, err)
	}
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}
	if holder, err := l.TryLock(); err != nil || holder != nil {
		t.Fatalf("old unreadable lock should be taken over: %+v, %v", holder, err)
	}
	l.Unlock()
}

func TestSchedulerStartStaysIdleWhenLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "busy.lock")
	other := NewInstanceLock(lockPath)
	if holder, err := other.TryLock(); err != nil || holder != nil {
		t.Fatalf("lock: %+v, %v", holder, err)
	}
	defer other.Unlock()

	s := New(Config{LockPath: lockPath}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if s.locked {
		t.Fatal("scheduler started while another instance holds the lock")
	}
}

func TestLoadScheduleOverridesAndSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	content := "briefing:\n  time: \"06:45\"\n  timezone: UTC\ncompaction_check_hours: 3\nmemory_review_day: Friday\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var defaults Schedule
	defaults.Briefing.Time = "07:00"
	defaults.CompactionCheckHours = 6
	defaults.MemoryReviewDay = "monday"
	defaults.HeartbeatMinutes = 5

	sched, err := LoadSchedule(path, defaults)
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	spec, err := sched.BriefingSpec()
	if err != nil || spec != "45 6 * * *" {
		t.Errorf("briefing spec = %q (%v)", spec, err)
	}
	if sched.CompactionSpec() != "@every 3h" {
		t.Errorf("compaction spec = %q", sched.CompactionSpec())
	}
	if sched.ReviewSpec() != "0 3 * * fri" {
		t.Errorf("review spec = %q", sched.ReviewSpec())
	}
	if sched.HeartbeatSpec() != "@every 5m" {
		t.Errorf("heartbeat spec = %q", sched.HeartbeatSpec())
	}
	if loc, err := sched.Location(); err != nil || loc.String() != "UTC" {
		t.Errorf("location = %v (%v)", loc, err)
	}

	missing, err := LoadSchedule(filepath.Join(t.TempDir(), "nope.yaml"), defaults)
	if err != nil || missing.Briefing.Time != "07:00" {
		t.Errorf("missing file should return defaults, got %+v (%v)", missing, err)
	}
}

func TestRegisterDefaults(t *testing.T) {
	s := New(Config{LockPath: filepath.Join(t.TempDir(), "test.lock")}, nil)
	var sched Schedule
	sched.Briefing.Time = "07:00"
	sched.CompactionCheckHours = 6
	sched.MemoryReviewDay = "monday"
	sched.HeartbeatMinutes = 5
	noop := func(context.Context) error { return nil }

	err := RegisterDefaults(s, sched, DefaultJobFuncs{Briefing: noop, Compaction: noop, Heartbeat: noop})
	if err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	want := []string{JobDailyBriefing, JobHealthCheck, JobMemoryCompaction}
	got := s.Jobs()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("job %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
