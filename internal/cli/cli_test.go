package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/timeline"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		verbose bool
		env     string
		want    slog.Level
	}{
		{false, "", slog.LevelInfo},
		{true, "", slog.LevelDebug},
		{true, "error", slog.LevelError},
		{false, "WARNING", slog.LevelWarn},
		{false, "debug", slog.LevelDebug},
		{false, "bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := logLevel(tt.verbose, tt.env); got != tt.want {
			t.Errorf("logLevel(%v, %q) = %v, want %v", tt.verbose, tt.env, got, tt.want)
		}
	}
}

func TestNewProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := newProvider(cfg); err == nil || !strings.Contains(err.Error(), "MiniMax") {
		t.Fatalf("expected missing MiniMax key error, got %v", err)
	}

	cfg.Providers.MiniMax.APIKey = "mm"
	p, err := newProvider(cfg)
	if err != nil {
		t.Fatalf("minimax: %v", err)
	}
	if p.DefaultModel() != cfg.Model.Name {
		t.Fatalf("model = %q, want %q", p.DefaultModel(), cfg.Model.Name)
	}

	cfg.Model.Backend = "anthropic"
	if _, err := newProvider(cfg); err == nil {
		t.Fatal("expected missing Anthropic key error")
	}
	cfg.Providers.Anthropic.APIKey = "ak"
	if _, err := newProvider(cfg); err != nil {
		t.Fatalf("anthropic: %v", err)
	}

	cfg.Model.Backend = "llama"
	if _, err := newProvider(cfg); err == nil || !strings.Contains(err.Error(), "unknown model backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestBuildRuntimeWiresTools(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.Home = t.TempDir()
	cfg.Providers.MiniMax.APIKey = "mm"
	cfg.Providers.Embeddings.APIKey = ""

	rt, err := buildRuntime(cfg, runtimeHooks{})
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	names := strings.Join(rt.tools.Names(), ",")
	for _, want := range []string{
		"file_read", "shell_exec", "add_safety_rule", "update_preference",
		"add_operational_note", "propose_soul_edit", "delegate_task",
		"dispatch_skill", "create_skill",
	} {
		if !strings.Contains(names, want) {
			t.Errorf("tool %s not registered (have %s)", want, names)
		}
	}
	if strings.Contains(names, "recall_search") {
		t.Error("recall_search registered without an embeddings key")
	}
	if _, ok := rt.skills.Get("research"); !ok {
		t.Error("builtin research skill not loaded")
	}
	if _, err := os.Stat(cfg.Paths.SoulPath()); err != nil {
		t.Errorf("SOUL.md not seeded: %v", err)
	}
}

func TestBuildRuntimeSkipsShellWhenDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.Home = t.TempDir()
	cfg.Providers.MiniMax.APIKey = "mm"
	cfg.Providers.Embeddings.APIKey = ""
	cfg.Tools.Exec.Enabled = false

	rt, err := buildRuntime(cfg, runtimeHooks{})
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	if _, ok := rt.tools.Get("shell_exec"); ok {
		t.Fatal("shell_exec registered while exec is disabled")
	}

	marker := filepath.Join(t.TempDir(), "ran")
	dir := filepath.Join(cfg.Paths.SkillsDir(), "innocent")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "name: innocent\ndescription: d\ntrigger: t\ntrusted: false\n"
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run"), []byte("#!/bin/sh\ntouch "+marker+"\nuname -s\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	rt.skills.Rescan()
	got := rt.skillDispatcher.Dispatch(context.Background(), "innocent", "")
	if !strings.HasPrefix(got, "Skill 'innocent' blocked:") {
		t.Fatalf("untrusted shell skill dispatched: %q", got)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("untrusted shell skill ran on the host")
	}
}

func TestScheduleDefaults(t *testing.T) {
	s := scheduleDefaults(config.DefaultConfig().Scheduler)
	if s.Briefing.Time != "07:00" || s.Briefing.Timezone != "America/Chicago" {
		t.Fatalf("briefing = %+v", s.Briefing)
	}
	spec, err := s.BriefingSpec()
	if err != nil || spec != "0 7 * * *" {
		t.Fatalf("BriefingSpec = %q, %v", spec, err)
	}
	if s.HeartbeatSpec() != "@every 5m" || s.CompactionSpec() != "@every 6h" {
		t.Fatalf("specs = %q %q", s.HeartbeatSpec(), s.CompactionSpec())
	}
}

func TestOriginContext(t *testing.T) {
	if originFrom(context.Background()) != nil {
		t.Fatal("empty context should have no origin")
	}
	msg := &bus.InboundMessage{Channel: "discord", ChatID: "c1"}
	if got := originFrom(withOrigin(context.Background(), msg)); got != msg {
		t.Fatalf("origin = %+v", got)
	}
}

func TestJobRecorderWritesTimeline(t *testing.T) {
	tl, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "messages.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	r := jobRecorder{timeline: tl}
	if err := r.RecordJobRun("health_check", "completed", time.Now(), 1500*time.Millisecond, ""); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}
	runs, err := tl.ListJobRuns("health_check", 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	if runs[0].Status != "completed" || runs[0].DurationMs != 1500 {
		t.Fatalf("run = %+v", runs[0])
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string][]string{
		"plan":   {"parse", "run"},
		"skills": {"list", "run", "reload", "audit"},
		"memory": {"show", "add-rule", "set-pref", "add-note", "search"},
		"soul":   {"show", "propose", "approve", "reject"},
	}
	for parent, subs := range want {
		cmd, _, err := rootCmd.Find([]string{parent})
		if err != nil || cmd.Name() != parent {
			t.Fatalf("command %s not found: %v", parent, err)
		}
		for _, sub := range subs {
			if c, _, err := rootCmd.Find([]string{parent, sub}); err != nil || c.Name() != sub {
				t.Errorf("command %s %s not found", parent, sub)
			}
		}
	}
	for _, name := range []string{"agent", "gateway", "init", "version"} {
		if c, _, err := rootCmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %s not found", name)
		}
	}
}

func TestInitAndMemoryCommands(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SOULBOT_HOME", home)
	t.Setenv("SOULBOT_CONFIG", filepath.Join(home, "missing.json"))

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	out := run("init")
	if !strings.Contains(out, "SOUL.md") {
		t.Fatalf("init output missing SOUL.md: %q", out)
	}
	if _, err := os.Stat(filepath.Join(home, "HEARTBEAT.md")); err != nil {
		t.Fatalf("HEARTBEAT.md not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, "builtin-skills", "research")); err != nil {
		t.Fatalf("builtin skills not seeded: %v", err)
	}

	run("memory", "add-rule", "never", "delete", "backups")
	run("memory", "set-pref", "tone", "brief")
	out = run("memory", "show")
	if !strings.Contains(out, "never delete backups") || !strings.Contains(out, "**tone**") {
		t.Fatalf("memory show = %q", out)
	}
}

func TestSoulProposeApprove(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SOULBOT_HOME", home)
	t.Setenv("SOULBOT_CONFIG", filepath.Join(home, "missing.json"))

	proposal := filepath.Join(t.TempDir(), "new-soul.md")
	if err := os.WriteFile(proposal, []byte("# Soul\nNew identity.\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"soul", "propose", proposal, "--reason", "testing"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !strings.Contains(out.String(), "+New identity.") {
		t.Fatalf("propose output = %q", out.String())
	}

	rootCmd.SetArgs([]string{"soul", "approve"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("approve: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, "SOUL.md"))
	if err != nil || string(data) != "# Soul\nNew identity.\n" {
		t.Fatalf("SOUL.md = %q, %v", data, err)
	}
}
