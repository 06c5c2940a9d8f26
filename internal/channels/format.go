package channels

import "strings"

// DiscordMaxLength is Discord's per-message character limit.
const DiscordMaxLength = 2000

// SplitMessage splits text into chunks of at most maxLen characters,
// preferring newline boundaries. Newlines at a split point are dropped.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DiscordMaxLength
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		splitAt := lastNewline(runes[:maxLen])
		if splitAt <= 0 {
			splitAt = maxLen
		}
		chunks = append(chunks, string(runes[:splitAt]))
		runes = runes[splitAt:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return chunks
}

func lastNewline(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == '\n' {
			return i
		}
	}
	return -1
}

// FormatCodeBlock wraps code in a fenced block.
func FormatCodeBlock(code, language string) string {
	var b strings.Builder
	b.WriteString("```")
	b.WriteString(language)
	b.WriteString("\n")
	b.WriteString(code)
	b.WriteString("\n```")
	return b.String()
}
