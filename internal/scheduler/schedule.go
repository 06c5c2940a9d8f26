package scheduler

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default job names.
const (
	JobDailyBriefing    = "daily_briefing"
	JobMemoryCompaction = "memory_compaction"
	JobMemoryReview     = "memory_review"
	JobHealthCheck      = "health_check"
)

// Schedule is the on-disk schedule.yaml layout.
type Schedule struct {
	Briefing struct {
		Time     string `yaml:"time"`
		Timezone string `yaml:"timezone"`
	} `yaml:"briefing"`
	CompactionCheckHours int    `yaml:"compaction_check_hours"`
	MemoryReviewDay      string `yaml:"memory_review_day"`
	HeartbeatMinutes     int    `yaml:"heartbeat_minutes"`
}

// LoadSchedule overlays schedule.yaml onto defaults. A missing file is not
// an error.
func LoadSchedule(path string, defaults Schedule) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return defaults, err
	}
	var file Schedule
	if err := yaml.Unmarshal(data, &file); err != nil {
		return defaults, fmt.Errorf("parse %s: %w", path, err)
	}
	out := defaults
	if file.Briefing.Time != "" {
		out.Briefing.Time = file.Briefing.Time
	}
	if file.Briefing.Timezone != "" {
		out.Briefing.Timezone = file.Briefing.Timezone
	}
	if file.CompactionCheckHours > 0 {
		out.CompactionCheckHours = file.CompactionCheckHours
	}
	if file.MemoryReviewDay != "" {
		out.MemoryReviewDay = file.MemoryReviewDay
	}
	if file.HeartbeatMinutes > 0 {
		out.HeartbeatMinutes = file.HeartbeatMinutes
	}
	return out, nil
}

// Location resolves the briefing timezone.
func (s Schedule) Location() (*time.Location, error) {
	if s.Briefing.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Briefing.Timezone)
}

// BriefingSpec converts "HH:MM" into a daily cron spec.
func (s Schedule) BriefingSpec() (string, error) {
	hour, minute, ok := strings.Cut(s.Briefing.Time, ":")
	if !ok {
		return "", fmt.Errorf("briefing time %q: expected HH:MM", s.Briefing.Time)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("briefing time %q: bad hour", s.Briefing.Time)
	}
	m, err := strconv.Atoi(strings.TrimSpace(minute))
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("briefing time %q: bad minute", s.Briefing.Time)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

// CompactionSpec runs every CompactionCheckHours hours.
func (s Schedule) CompactionSpec() string {
	return fmt.Sprintf("@every %dh", max(s.CompactionCheckHours, 1))
}

// ReviewSpec runs weekly at 03:00 on MemoryReviewDay.
func (s Schedule) ReviewSpec() string {
	day := strings.ToLower(strings.TrimSpace(s.MemoryReviewDay))
	if len(day) < 3 {
		day = "monday"
	}
	return "0 3 * * " + day[:3]
}

// HeartbeatSpec runs every HeartbeatMinutes minutes.
func (s Schedule) HeartbeatSpec() string {
	return fmt.Sprintf("@every %dm", max(s.HeartbeatMinutes, 1))
}

// DefaultJobFuncs are the callbacks behind the default jobs. Nil entries are
// not registered.
type DefaultJobFuncs struct {
	Briefing   func(ctx context.Context) error
	Compaction func(ctx context.Context) error
	Review     func(ctx context.Context) error
	Heartbeat  func(ctx context.Context) error
}

// RegisterDefaults registers the briefing, compaction, review and heartbeat
// jobs from a schedule.
func RegisterDefaults(s *Scheduler, sched Schedule, fns DefaultJobFuncs) error {
	if fns.Briefing != nil {
		spec, err := sched.BriefingSpec()
		if err != nil {
			return err
		}
		if err := s.Register(&Job{Name: JobDailyBriefing, Spec: spec, Category: CategoryLLM, Run: fns.Briefing}); err != nil {
			return err
		}
	}
	if fns.Compaction != nil {
		if err := s.Register(&Job{Name: JobMemoryCompaction, Spec: sched.CompactionSpec(), Category: CategoryLLM, Run: fns.Compaction}); err != nil {
			return err
		}
	}
	if fns.Review != nil {
		if err := s.Register(&Job{Name: JobMemoryReview, Spec: sched.ReviewSpec(), Category: CategoryLLM, Run: fns.Review}); err != nil {
			return err
		}
	}
	if fns.Heartbeat != nil {
		if err := s.Register(&Job{Name: JobHealthCheck, Spec: sched.HeartbeatSpec(), Category: CategoryDefault, Run: fns.Heartbeat}); err != nil {
			return err
		}
	}
	return nil
}
