package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/identity"
)

// ProposeSoulEditTool stores a SOUL.md change for operator approval. The
// file itself is only written by `soulbot soul approve`.
type ProposeSoulEditTool struct {
	editor *identity.Editor
	// OnProposed is notified with the diff. Optional.
	OnProposed func(ctx context.Context, diff, reason string)
}

// NewProposeSoulEditTool creates a propose_soul_edit tool.
func NewProposeSoulEditTool(editor *identity.Editor) *ProposeSoulEditTool {
	return &ProposeSoulEditTool{editor: editor}
}

func (t *ProposeSoulEditTool) Name() string { return "propose_soul_edit" }
func (t *ProposeSoulEditTool) Tier() int    { return TierWrite }

func (t *ProposeSoulEditTool) Description() string {
	return "Propose a new version of SOUL.md (your identity). The change is applied only after the operator approves it."
}

func (t *ProposeSoulEditTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The complete proposed SOUL.md content",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the change is needed",
			},
		},
		"required": []string{"content", "reason"},
	}
}

func (t *ProposeSoulEditTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	content := GetString(params, "content", "")
	reason := strings.TrimSpace(GetString(params, "reason", ""))
	if strings.TrimSpace(content) == "" || reason == "" {
		return "Error: content and reason are required", nil
	}
	p, err := t.editor.Propose(content, reason)
	if err != nil {
		return fmt.Sprintf("Error storing proposal: %v", err), nil
	}
	if p.Diff == "" {
		return "No changes: the proposed content matches the current SOUL.md.", nil
	}
	slog.Info("SOUL.md change proposed", "reason", reason)
	if t.OnProposed != nil {
		t.OnProposed(ctx, p.Diff, reason)
	}
	return "Proposal stored. It will be applied once the operator approves it.", nil
}
