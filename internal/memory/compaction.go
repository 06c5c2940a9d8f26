package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/soulbot/internal/provider"
)

// DefaultKeepRecent is how many trailing messages compaction keeps verbatim.
const DefaultKeepRecent = 10

// SummaryPrefix marks the synthetic message that replaces compacted history.
const SummaryPrefix = "[Conversation summary]: "

const summarizePrompt = "Summarize the following conversation concisely, preserving key facts, decisions, and context that would be needed to continue the conversation."

// ShouldCompact reports whether the non-system messages exceed maxMessages.
func ShouldCompact(history []provider.Message, maxMessages int) bool {
	n := 0
	for _, m := range history {
		if m.Role != provider.RoleSystem {
			n++
		}
	}
	return n > maxMessages
}

// Compact summarizes all but the last keepRecent messages into a single user
// message and returns [summary, ...last keepRecent]. A history no longer than
// keepRecent is returned unchanged without calling the provider.
func Compact(ctx context.Context, prov provider.LLMProvider, history []provider.Message, keepRecent int) ([]provider.Message, error) {
	if keepRecent < 0 {
		keepRecent = DefaultKeepRecent
	}
	if len(history) <= keepRecent {
		return history, nil
	}

	cut := len(history) - keepRecent
	old, recent := history[:cut], history[cut:]

	var b strings.Builder
	for i, m := range old {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}

	resp, err := prov.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			provider.System(summarizePrompt),
			provider.User(b.String()),
		},
		Model: prov.DefaultModel(),
	})
	if err != nil {
		return history, fmt.Errorf("summarize history: %w", err)
	}

	out := make([]provider.Message, 0, keepRecent+1)
	out = append(out, provider.User(SummaryPrefix+resp.Content))
	out = append(out, recent...)
	return out, nil
}
