package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/KafClaw/soulbot/internal/agent"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/tools"
)

// DefaultMaxStepIterations caps the tool loop for one step.
const DefaultMaxStepIterations = 15

const stepPrompt = `You are executing a step in an implementation plan.
Complete the task described below using the available tools.
Be thorough but concise. Report what you did and the outcome.`

// Reporter receives progress updates. Delivery is best-effort.
type Reporter interface {
	Report(ctx context.Context, message string) error
}

// Completer is implemented by reporters that render the final summary
// differently from intermediate progress.
type Completer interface {
	Complete(ctx context.Context, summary string) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, message string) error

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, message string) error { return f(ctx, message) }

// Executor runs plans step by step through the tool loop.
type Executor struct {
	Provider          provider.LLMProvider
	Tools             []tools.Tool
	Sanitizer         provider.ResponseSanitizer
	Reporter          Reporter
	MaxStepIterations int
}

type phaseOutcome struct {
	failed  bool
	summary string
}

// Execute runs plan phase by phase and returns the summary text. It stops
// at the first failed phase; steps never reached stay pending.
func (e *Executor) Execute(ctx context.Context, plan *ExecutionPlan) string {
	e.report(ctx, fmt.Sprintf("**Starting plan:** %s (%d steps across %d phases)",
		plan.Title, plan.TotalSteps(), len(plan.Phases)))

	var results []string
	for i, phase := range plan.Phases {
		phase.Status = StatusRunning
		e.report(ctx, fmt.Sprintf("**Phase %d/%d:** %s", i+1, len(plan.Phases), phase.Name))

		var out phaseOutcome
		if phase.Parallel {
			out = e.runParallel(ctx, phase)
		} else {
			out = e.runSequential(ctx, phase)
		}

		if out.failed {
			phase.Status = StatusFailed
			results = append(results, fmt.Sprintf("**%s**: FAILED - %s", phase.Name, out.summary))
			e.report(ctx, fmt.Sprintf("Phase '%s' failed. Stopping execution.", phase.Name))
			break
		}
		phase.Status = StatusCompleted
		results = append(results, fmt.Sprintf("**%s**: %s", phase.Name, out.summary))
	}

	summary := fmt.Sprintf("**Plan complete:** %s\n**Progress:** %d/%d steps completed\n\n%s",
		plan.Title, plan.CompletedSteps(), plan.TotalSteps(), strings.Join(results, "\n"))
	e.complete(ctx, summary)
	return summary
}

func (e *Executor) runSequential(ctx context.Context, phase *Phase) phaseOutcome {
	var summaries []string
	for j, step := range phase.Steps {
		e.report(ctx, fmt.Sprintf("  Step %d/%d: %s", j+1, len(phase.Steps), truncateRunes(step.Description, 100)))
		e.runStep(ctx, step)
		if step.Status == StatusFailed {
			summaries = append(summaries, fmt.Sprintf("Step %d FAILED: %s", j+1, truncateRunes(step.Result, 200)))
			return phaseOutcome{failed: true, summary: strings.Join(summaries, "; ")}
		}
		summaries = append(summaries, fmt.Sprintf("Step %d done", j+1))
	}
	return phaseOutcome{summary: strings.Join(summaries, "; ")}
}

func (e *Executor) runParallel(ctx context.Context, phase *Phase) phaseOutcome {
	var wg sync.WaitGroup
	for _, step := range phase.Steps {
		wg.Add(1)
		go func(step *Step) {
			defer wg.Done()
			e.runStep(ctx, step)
		}(step)
	}
	wg.Wait()

	var out phaseOutcome
	summaries := make([]string, 0, len(phase.Steps))
	for j, step := range phase.Steps {
		if step.Status == StatusFailed {
			out.failed = true
			summaries = append(summaries, fmt.Sprintf("Step %d FAILED: %s", j+1, step.Result))
			continue
		}
		summaries = append(summaries, fmt.Sprintf("Step %d done", j+1))
	}
	out.summary = strings.Join(summaries, "; ")
	return out
}

// runStep moves step from running to completed or failed exactly once.
func (e *Executor) runStep(ctx context.Context, step *Step) {
	step.Status = StatusRunning
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Plan step panicked", "step", truncateRunes(step.Description, 100), "panic", r)
			step.Status = StatusFailed
			step.Result = fmt.Sprintf("Error: %v", r)
		}
	}()

	prompt := step.Description
	if step.Validation != "" {
		prompt += "\n\nAfter completing the task, verify: " + step.Validation
	}
	messages := provider.Normalize([]provider.Message{
		provider.System(stepPrompt),
		provider.User(prompt),
	})

	maxIter := e.MaxStepIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxStepIterations
	}
	msg, err := agent.RunToolLoop(ctx, e.Provider, messages, agent.ToolLoopOptions{
		Tools:         e.Tools,
		MaxIterations: maxIter,
		Sanitizer:     e.Sanitizer,
	})
	if err != nil {
		slog.Error("Step execution failed", "step", truncateRunes(step.Description, 100), "error", err)
		step.Status = StatusFailed
		step.Result = fmt.Sprintf("Error: %v", err)
		return
	}
	step.Status = StatusCompleted
	step.Result = msg.Content
}

func (e *Executor) report(ctx context.Context, message string) {
	if e.Reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Progress report panicked", "panic", r)
		}
	}()
	if err := e.Reporter.Report(ctx, message); err != nil {
		slog.Warn("Progress report failed", "error", err)
	}
}

func (e *Executor) complete(ctx context.Context, summary string) {
	c, ok := e.Reporter.(Completer)
	if !ok {
		e.report(ctx, summary)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Progress report panicked", "panic", r)
		}
	}()
	if err := c.Complete(ctx, summary); err != nil {
		slog.Warn("Progress report failed", "error", err)
	}
}
