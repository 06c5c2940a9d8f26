package specialists

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/soulbot/internal/agent"
	"github.com/KafClaw/soulbot/internal/plan"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/tools"
)

type ctxKey int

const (
	depthKey ctxKey = iota
	reporterKey
)

// WithDepth records the sub-agent depth of the work running under ctx.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// DepthFrom returns the sub-agent depth recorded in ctx, 0 at top level.
func DepthFrom(ctx context.Context) int {
	d, _ := ctx.Value(depthKey).(int)
	return d
}

// WithReporter binds a progress reporter (usually the originating chat
// channel) to ctx. Builder runs prefer it over their configured reporter.
func WithReporter(ctx context.Context, r plan.Reporter) context.Context {
	return context.WithValue(ctx, reporterKey, r)
}

func reporterFrom(ctx context.Context, fallback plan.Reporter) plan.Reporter {
	if r, ok := ctx.Value(reporterKey).(plan.Reporter); ok && r != nil {
		return r
	}
	return fallback
}

// CompletionFunc receives a finished background run.
type CompletionFunc func(ctx context.Context, task *agent.SubagentTask, specialist, result string) error

// Dispatcher runs specialists synchronously or as background sub-agents.
type Dispatcher struct {
	provider   provider.LLMProvider
	tools      []tools.Tool
	set        *Set
	manager    *agent.SubagentManager
	onComplete CompletionFunc
}

// NewDispatcher creates a dispatcher. available is the full tool set; each
// specialist only sees the subset it names.
func NewDispatcher(prov provider.LLMProvider, available []tools.Tool, set *Set, manager *agent.SubagentManager, onComplete CompletionFunc) *Dispatcher {
	return &Dispatcher{provider: prov, tools: available, set: set, manager: manager, onComplete: onComplete}
}

// Names returns the dispatchable specialist names.
func (d *Dispatcher) Names() []string { return d.set.Names() }

// SetTools replaces the available tool set.
func (d *Dispatcher) SetTools(available []tools.Tool) { d.tools = available }

// Run executes a specialist in the caller's goroutine.
func (d *Dispatcher) Run(ctx context.Context, name, task string) (string, error) {
	sp, ok := d.set.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown specialist %q", name)
	}
	return sp.Run(ctx, d.provider, task, tools.Filter(d.tools, sp.Tools))
}

// Spawn submits a specialist run to the sub-agent manager one level below
// the depth recorded in ctx. It backs the delegate_task tool.
func (d *Dispatcher) Spawn(ctx context.Context, req tools.SpawnRequest) (tools.SpawnResult, error) {
	sp, ok := d.set.Get(req.Specialist)
	if !ok {
		return tools.SpawnResult{}, fmt.Errorf("unknown specialist %q", req.Specialist)
	}
	depth := DepthFrom(ctx) + 1
	work := func(ctx context.Context, depth int) (string, error) {
		return sp.Run(WithDepth(ctx, depth), d.provider, req.Task, tools.Filter(d.tools, sp.Tools))
	}
	callback := func(ctx context.Context, task *agent.SubagentTask, result string) error {
		if d.onComplete == nil {
			return nil
		}
		return d.onComplete(ctx, task, sp.Name, result)
	}

	task := d.manager.Submit(ctx, sp.Name, depth, work, callback)
	if task.Rejected {
		return tools.SpawnResult{
			Status:  "rejected",
			Message: fmt.Sprintf("Sub-agent depth %d exceeds the maximum of %d", depth, d.manager.MaxDepth()),
		}, nil
	}
	slog.Info("Specialist dispatched", "specialist", sp.Name, "task_id", task.ID, "depth", depth)
	return tools.SpawnResult{
		Status:  "accepted",
		TaskID:  task.ID,
		Message: fmt.Sprintf("Specialist '%s' is working on it. The result will be posted when it finishes.", sp.Name),
	}, nil
}

// DelegateTool returns the delegate_task tool bound to this dispatcher.
func (d *Dispatcher) DelegateTool() *tools.DelegateTool {
	return tools.NewDelegateTool(d.Names(), d.Spawn)
}
