package provider

import (
	"regexp"
	"strings"
)

// ResponseSanitizer repairs vendor-specific control markup that leaks into the
// text of a completion. Sanitize returns the cleaned text and whether a
// non-native tool-call announcement was found (which warrants a retry).
type ResponseSanitizer interface {
	Sanitize(content string) (cleaned string, leakedToolCall bool)
}

// NopSanitizer leaves content untouched. Backends with native tool calling
// and no reasoning leakage use it.
type NopSanitizer struct{}

func (NopSanitizer) Sanitize(content string) (string, bool) { return content, false }

var (
	thinkSpanRe   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	minimaxCallRe = regexp.MustCompile(`(?s)<minimax:tool_call>.*?</minimax:tool_call>`)
)

// MiniMaxSanitizer strips <think> reasoning spans and detects
// <minimax:tool_call> blocks emitted as text instead of native tool calls.
type MiniMaxSanitizer struct{}

func (MiniMaxSanitizer) Sanitize(content string) (string, bool) {
	leaked := minimaxCallRe.MatchString(content)
	cleaned := thinkSpanRe.ReplaceAllString(content, "")
	cleaned = minimaxCallRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned), leaked
}

// SanitizerFor picks the sanitizer matching a backend name.
func SanitizerFor(backend string) ResponseSanitizer {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "minimax":
		return MiniMaxSanitizer{}
	default:
		return NopSanitizer{}
	}
}
