package agent

import (
	"strings"

	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/provider"
)

// NoSkillsIndex is what a skill index renders when nothing is registered.
const NoSkillsIndex = "No skills available."

// SkillIndexer renders the registered skills for the system prompt.
type SkillIndexer interface {
	Index() string
}

// ContextBuilder assembles the system prompt and the per-turn message list.
type ContextBuilder struct {
	soul   func() string
	memory *memory.Operational
	skills SkillIndexer
}

// NewContextBuilder creates a ContextBuilder. soul is read on every turn so
// approved SOUL.md edits take effect without a restart. memory and skills
// may be nil.
func NewContextBuilder(soul func() string, mem *memory.Operational, skills SkillIndexer) *ContextBuilder {
	return &ContextBuilder{soul: soul, memory: mem, skills: skills}
}

// BuildSystemPrompt joins the identity text, non-empty operational memory,
// the skill index and the tool list. Each part is omitted when empty.
func (b *ContextBuilder) BuildSystemPrompt(toolNames []string) string {
	var prompt strings.Builder
	if b.soul != nil {
		prompt.WriteString(b.soul())
	}

	if b.memory != nil {
		if sections := b.memory.Sections(); len(sections) > 0 {
			prompt.WriteString("\n\n")
			prompt.WriteString(strings.Join(sections, "\n\n"))
		}
	}

	if b.skills != nil {
		if index := b.skills.Index(); index != "" && index != NoSkillsIndex {
			prompt.WriteString("\n\n## Available Skills\n")
			prompt.WriteString("When a request matches a skill trigger, use `dispatch_skill`.\n\n")
			prompt.WriteString(index)
		}
	}

	if len(toolNames) > 0 {
		prompt.WriteString("\n\n## Tools\n")
		prompt.WriteString("You have access to the following tools: " + strings.Join(toolNames, ", ") + ".\n")
		prompt.WriteString("Use them when needed to fulfill user requests. Call tools by including tool_calls in your response.\n\n")
		prompt.WriteString("If you have the `create_skill` tool and a user's request would benefit from a reusable capability that doesn't exist yet, create a new skill for it. This lets you learn and improve over time.")
	}
	return prompt.String()
}

// BuildMessages returns the normalized sequence for one turn: the system
// prompt, retrieved context (if any) right after it, then the history.
func (b *ContextBuilder) BuildMessages(systemPrompt string, retrieved []memory.Result, history []provider.Message) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.System(systemPrompt))
	if ctxMsg := FormatRetrieved(retrieved); ctxMsg != "" {
		messages = append(messages, provider.User(ctxMsg))
	}
	messages = append(messages, history...)
	return provider.Normalize(messages)
}

// FormatRetrieved renders recall hits as a context message, or "" for none.
func FormatRetrieved(results []memory.Result) string {
	if len(results) == 0 {
		return ""
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, "- "+r.Text)
	}
	return "[Retrieved context]:\n" + strings.Join(lines, "\n")
}
