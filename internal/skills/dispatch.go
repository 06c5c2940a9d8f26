package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/specialists"
	"github.com/KafClaw/soulbot/internal/tools"
)

// RestrictedTools are never handed to untrusted skills.
var RestrictedTools = map[string]bool{"shell_exec": true}

// FilterTools intersects a skill's declared permissions with the available
// tools, in permission order. Untrusted skills never receive a restricted
// tool, whatever the manifest says.
func FilterTools(m *Manifest, available []tools.Tool) []tools.Tool {
	byName := make(map[string]tools.Tool, len(available))
	for _, t := range available {
		byName[t.Name()] = t
	}
	var permitted []tools.Tool
	seen := make(map[string]bool, len(m.Permissions))
	for _, perm := range m.Permissions {
		t, ok := byName[perm]
		if !ok || seen[perm] {
			continue
		}
		if !m.Trusted && (RestrictedTools[perm] || tools.ToolTier(t) >= tools.TierHighRisk) {
			slog.Warn("Untrusted skill denied tool access", "skill", m.Name, "tool", perm)
			continue
		}
		seen[perm] = true
		permitted = append(permitted, t)
	}
	return permitted
}

// BuiltinRunner runs a builtin skill with its permitted tools.
type BuiltinRunner func(ctx context.Context, input string, permitted []tools.Tool) (string, error)

// BuiltinRunners binds every specialist in set to prov.
func BuiltinRunners(prov provider.LLMProvider, set *specialists.Set) map[string]BuiltinRunner {
	runners := make(map[string]BuiltinRunner)
	for _, name := range set.Names() {
		sp, _ := set.Get(name)
		runners[name] = func(ctx context.Context, input string, permitted []tools.Tool) (string, error) {
			return sp.Run(ctx, prov, input, permitted)
		}
	}
	return runners
}

// Dispatcher resolves a skill name to a builtin runner or a sandboxed
// executable.
type Dispatcher struct {
	registry *Registry
	tools    *tools.Registry
	builtins map[string]BuiltinRunner
	sandbox  *Sandbox
	audit    *AuditLog
}

// NewDispatcher creates a dispatcher. toolset is read on every dispatch so
// tools registered later are visible.
func NewDispatcher(registry *Registry, toolset *tools.Registry, builtins map[string]BuiltinRunner, sandbox *Sandbox) *Dispatcher {
	return &Dispatcher{registry: registry, tools: toolset, builtins: builtins, sandbox: sandbox}
}

// SetAudit records dynamic skill runs to log.
func (d *Dispatcher) SetAudit(log *AuditLog) {
	d.audit = log
}

// Dispatch runs a skill and returns its text result. Every failure is
// reported as text.
func (d *Dispatcher) Dispatch(ctx context.Context, name, input string) string {
	m, ok := d.registry.Get(name)
	if !ok {
		available := strings.Join(d.registry.Names(), ", ")
		if available == "" {
			available = "none"
		}
		return fmt.Sprintf("Unknown skill '%s'. Available: %s", name, available)
	}

	var available []tools.Tool
	if d.tools != nil {
		available = d.tools.List()
	}
	permitted := FilterTools(m, available)

	if runner, ok := d.builtins[name]; ok {
		return runBuiltin(ctx, name, input, runner, permitted)
	}
	if d.sandbox == nil {
		return fmt.Sprintf("Skill '%s' failed: dynamic skills are disabled", name)
	}
	d.audit.Record("skill_run", map[string]any{
		"skill":   m.Name,
		"trusted": m.Trusted,
		"tools":   tools.Names(permitted),
	})
	return d.sandbox.Run(ctx, m, input, permitted)
}

func runBuiltin(ctx context.Context, name, input string, runner BuiltinRunner, permitted []tools.Tool) (result string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Builtin skill panicked", "skill", name, "panic", r)
			result = fmt.Sprintf("Skill '%s' failed: %v", name, r)
		}
	}()
	out, err := runner(ctx, input, permitted)
	if err != nil {
		slog.Error("Builtin skill failed", "skill", name, "error", err)
		return fmt.Sprintf("Skill '%s' failed: %v", name, err)
	}
	return out
}

// DispatchTool is the dispatch_skill meta-tool.
type DispatchTool struct {
	dispatcher *Dispatcher
}

// NewDispatchTool creates the dispatch_skill tool.
func NewDispatchTool(d *Dispatcher) *DispatchTool {
	return &DispatchTool{dispatcher: d}
}

func (t *DispatchTool) Name() string { return "dispatch_skill" }
func (t *DispatchTool) Tier() int    { return tools.TierWrite }

func (t *DispatchTool) Description() string {
	return "Dispatch a task to a registered skill by name (see the skill index)."
}

func (t *DispatchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"skill_name": map[string]any{
				"type":        "string",
				"description": "The name of the skill to invoke",
			},
			"input_text": map[string]any{
				"type":        "string",
				"description": "The input text or query to pass to the skill",
			},
		},
		"required": []string{"skill_name", "input_text"},
	}
}

func (t *DispatchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := strings.TrimSpace(tools.GetString(params, "skill_name", ""))
	input := tools.GetString(params, "input_text", "")
	return t.dispatcher.Dispatch(ctx, name, input), nil
}
