package provider

import "strings"

// ConversationStartPlaceholder is inserted when the first non-system message
// is not user-authored.
const ConversationStartPlaceholder = "[conversation start]"

// Normalize rewrites a message sequence into the strict user/assistant
// alternation that completion endpoints expect.
//
// System messages are hoisted to the front in their original order. The first
// non-system message is always a user message. Consecutive messages of the same
// role are merged with a newline, except that tool results and assistant
// messages carrying tool calls are never merged with anything, and nothing is
// merged across a tool result. Normalize is idempotent.
func Normalize(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	var system, rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) == 0 {
		return system
	}

	if rest[0].Role != RoleUser {
		rest = append([]Message{User(ConversationStartPlaceholder)}, rest...)
	}

	merged := make([]Message, 0, len(rest))
	merged = append(merged, rest[0])
	for _, m := range rest[1:] {
		last := &merged[len(merged)-1]
		if mergeable(*last, m) {
			last.Content = strings.Join([]string{last.Content, m.Content}, "\n")
			continue
		}
		merged = append(merged, m)
	}

	out := make([]Message, 0, len(system)+len(merged))
	out = append(out, system...)
	return append(out, merged...)
}

func mergeable(prev, next Message) bool {
	if prev.Role != next.Role {
		return false
	}
	if prev.Role == RoleTool {
		return false
	}
	if prev.HasToolCalls() || next.HasToolCalls() {
		return false
	}
	return true
}
