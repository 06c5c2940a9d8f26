package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/KafClaw/soulbot/internal/agent"
	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/identity"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/session"
	"github.com/KafClaw/soulbot/internal/skills"
	"github.com/KafClaw/soulbot/internal/specialists"
	"github.com/KafClaw/soulbot/internal/tools"
)

// runtimeHooks are the gateway's observers. All are optional.
type runtimeHooks struct {
	OnSubagentComplete specialists.CompletionFunc
	OnCompaction       func(ctx context.Context, sessionID string, before, after int)
	OnSafetyRule       func(ctx context.Context, rule string)
	OnSoulProposal     func(ctx context.Context, diff, reason string)
	TurnContext        func(ctx context.Context, msg *bus.InboundMessage) context.Context
	ToolObserver       agent.ToolObserver
}

// runtime holds every component a command may need.
type runtime struct {
	cfg       *config.Config
	provider  provider.LLMProvider
	sanitizer provider.ResponseSanitizer
	memory    *memory.Operational
	recall    memory.Recall
	tools     *tools.Registry

	specialists *specialists.Set
	subagents   *agent.SubagentManager
	dispatcher  *specialists.Dispatcher

	skills          *skills.Registry
	skillDispatcher *skills.Dispatcher
	audit           *skills.AuditLog

	agent *agent.Agent
}

// newProvider selects the completion backend named by cfg.Model.Backend.
func newProvider(cfg *config.Config) (provider.LLMProvider, error) {
	m := cfg.Model
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "minimax":
		p := cfg.Providers.MiniMax
		if p.APIKey == "" {
			return nil, fmt.Errorf("no MiniMax API key configured (set MINIMAX_API_KEY)")
		}
		return provider.NewMiniMaxProvider(p.APIKey, p.APIBase, m.Name).WithLimits(m.MaxTokens, m.Temperature), nil
	case "openai":
		p := cfg.Providers.OpenAI
		if p.APIKey == "" {
			return nil, fmt.Errorf("no OpenAI API key configured (set OPENAI_API_KEY)")
		}
		return provider.NewOpenAIProvider("openai", p.APIKey, p.APIBase, m.Name).WithLimits(m.MaxTokens, m.Temperature), nil
	case "anthropic":
		p := cfg.Providers.Anthropic
		if p.APIKey == "" {
			return nil, fmt.Errorf("no Anthropic API key configured (set ANTHROPIC_API_KEY)")
		}
		return provider.NewAnthropicProvider(p.APIKey, p.APIBase, m.Name), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q (want minimax, openai or anthropic)", m.Backend)
	}
}

// openRecall returns nil when embeddings are not configured or the store
// cannot be opened. Recall is best-effort.
func openRecall(cfg *config.Config) memory.Recall {
	e := cfg.Providers.Embeddings
	embed := memory.NewEmbeddingFunc(e.APIKey, e.APIBase, e.Model)
	if embed == nil {
		slog.Debug("Recall disabled: no embeddings key")
		return nil
	}
	r, err := memory.NewChromemRecall(cfg.Paths.VectorDir(), embed)
	if err != nil {
		slog.Warn("Recall store unavailable", "error", err)
		return nil
	}
	return r
}

// buildRuntime wires provider, memory, tools, specialists, skills and the
// agent from cfg.
func buildRuntime(cfg *config.Config, hooks runtimeHooks) (*runtime, error) {
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, err
	}

	// 1. Provider
	prov, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, provider: prov, sanitizer: provider.SanitizerFor(cfg.Model.Backend)}

	// 2. Memory
	rt.memory = memory.NewOperational(cfg.Paths.MemoryDir())
	if err := rt.memory.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize operational memory: %w", err)
	}
	rt.recall = openRecall(cfg)
	if _, err := identity.LoadSoul(cfg.Paths.SoulPath()); err != nil {
		slog.Warn("Failed to seed SOUL.md", "error", err)
	}

	// 3. Tools
	rt.tools = tools.NewRegistry(
		tools.NewReadFileTool(cfg.Tools.Files.MaxReadBytes),
		tools.NewWriteFileTool(),
		tools.NewListDirTool(),
	)
	if cfg.Tools.Exec.Enabled {
		rt.tools.Register(tools.NewShellTool(cfg.Tools.Exec.Timeout, cfg.Paths.Home))
	}
	for _, t := range tools.NewWebTools(tools.WebConfig{
		BraveAPIKey:      cfg.Tools.Web.BraveAPIKey,
		MaxResults:       cfg.Tools.Web.MaxResults,
		MaxResponseBytes: cfg.Tools.Web.MaxResponseBytes,
		Timeout:          cfg.Tools.Web.Timeout,
	}) {
		rt.tools.Register(t)
	}
	safety := tools.NewAddSafetyRuleTool(rt.memory)
	safety.OnAdded = hooks.OnSafetyRule
	rt.tools.Register(safety)
	rt.tools.Register(tools.NewUpdatePreferenceTool(rt.memory))
	rt.tools.Register(tools.NewAddOperationalNoteTool(rt.memory))
	if rt.recall != nil {
		rt.tools.Register(tools.NewRecallSearchTool(rt.recall))
	}
	soul := tools.NewProposeSoulEditTool(identity.NewEditor(cfg.Paths.SoulPath()))
	soul.OnProposed = hooks.OnSoulProposal
	rt.tools.Register(soul)

	// 4. Specialists and background sub-agents
	rt.specialists = specialists.Defaults(specialists.Config{
		Sanitizer:     rt.sanitizer,
		ResearchDepth: cfg.Agent.ResearchDepth,
		Topics:        specialists.SplitTopics(cfg.Scheduler.BriefingTopics),
	})
	rt.subagents = agent.NewSubagentManager(cfg.Subagents.MaxConcurrent, cfg.Subagents.MaxDepth)
	rt.dispatcher = specialists.NewDispatcher(prov, rt.tools.List(), rt.specialists, rt.subagents, hooks.OnSubagentComplete)
	rt.tools.Register(rt.dispatcher.DelegateTool())

	// 5. Skills
	if err := skills.EnsureBuiltins(cfg.Paths.BuiltinSkillsDir()); err != nil {
		slog.Warn("Failed to seed builtin skills", "error", err)
	}
	rt.skills = skills.NewRegistry()
	n := rt.skills.Reload(cfg.Paths.BuiltinSkillsDir(), cfg.Paths.SkillsDir())
	slog.Debug("Skills loaded", "count", n)
	rt.audit = skills.NewAuditLog(filepath.Join(cfg.Paths.LogDir(), "skills-audit.jsonl"))
	sandbox := skills.NewSandbox(filepath.Join(cfg.Paths.DataDir(), "skill-runs"), cfg.Skills.ExecTimeout, cfg.Skills.MaxOutputBytes)
	sandbox.Isolation = cfg.Skills.Isolation
	sandbox.Image = cfg.Skills.SandboxImage
	// Without shell access no skill runs on the host either.
	sandbox.HostExec = cfg.Tools.Exec.Enabled
	rt.skillDispatcher = skills.NewDispatcher(rt.skills, rt.tools, skills.BuiltinRunners(prov, rt.specialists), sandbox)
	rt.skillDispatcher.SetAudit(rt.audit)
	rt.tools.Register(skills.NewDispatchTool(rt.skillDispatcher))
	rt.tools.Register(skills.NewCreateSkillTool(rt.skills, cfg.Paths.SkillsDir(), rt.audit))

	// 6. Agent
	rt.agent = agent.New(agent.Options{
		Provider:           prov,
		ProviderName:       cfg.Model.Backend,
		Sanitizer:          rt.sanitizer,
		Soul:               identity.Reader(cfg.Paths.SoulPath()),
		Memory:             rt.memory,
		Recall:             rt.recall,
		Skills:             rt.skills,
		Tools:              rt.tools,
		Sessions:           session.NewStore(),
		MaxSessionMessages: cfg.Agent.MaxSessionMessages,
		KeepRecent:         cfg.Agent.KeepRecent,
		RecallResults:      cfg.Agent.RecallResults,
		MaxToolIterations:  cfg.Model.MaxToolIterations,
		MaxTokens:          cfg.Model.MaxTokens,
		Temperature:        cfg.Model.Temperature,
		OnCompaction:       hooks.OnCompaction,
		TurnContext:        hooks.TurnContext,
		ToolObserver:       hooks.ToolObserver,
	})
	return rt, nil
}
