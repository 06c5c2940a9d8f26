package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/soulbot/internal/provider"
)

const reviewPrompt = `Review the following operational memory files. Your job is to:
1. Identify redundant entries that can be consolidated
2. Flag stale items that may no longer be relevant
3. Suggest improvements to organization

Be conservative: only suggest removing items you're confident are stale.
Output a summary of what you found and any recommendations.`

// SelfReview asks the model to review operational memory and returns its
// recommendations. It never edits the files.
func SelfReview(ctx context.Context, prov provider.LLMProvider, op *Operational) (string, error) {
	all := op.ReadAll()
	var b strings.Builder
	for _, key := range SectionOrder {
		fmt.Fprintf(&b, "\n## %s\n%s\n", key, all[key])
	}

	resp, err := prov.Chat(ctx, &provider.ChatRequest{
		Messages: provider.Normalize([]provider.Message{
			provider.System(reviewPrompt),
			provider.User(b.String()),
		}),
		Model: prov.DefaultModel(),
	})
	if err != nil {
		return "", fmt.Errorf("memory self review: %w", err)
	}
	return resp.Content, nil
}
