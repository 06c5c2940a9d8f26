package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/memory"
)

// AddSafetyRuleTool appends a permanent safety rule.
type AddSafetyRuleTool struct {
	mem *memory.Operational
	// OnAdded is notified after a rule is stored. Optional.
	OnAdded func(ctx context.Context, rule string)
}

// NewAddSafetyRuleTool creates an add_safety_rule tool.
func NewAddSafetyRuleTool(mem *memory.Operational) *AddSafetyRuleTool {
	return &AddSafetyRuleTool{mem: mem}
}

func (t *AddSafetyRuleTool) Name() string { return "add_safety_rule" }
func (t *AddSafetyRuleTool) Tier() int    { return TierWrite }

func (t *AddSafetyRuleTool) Description() string {
	return "Add a permanent safety rule learned from a mistake or an explicit instruction. Safety rules can never be removed."
}

func (t *AddSafetyRuleTool) Parameters() map[string]any {
	return singleStringParam("rule", "The safety rule to remember")
}

func (t *AddSafetyRuleTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rule := strings.TrimSpace(GetString(params, "rule", ""))
	if rule == "" {
		return "Error: rule is required", nil
	}
	if err := t.mem.AddSafetyRule(rule); err != nil {
		return fmt.Sprintf("Error saving safety rule: %v", err), nil
	}
	slog.Info("Safety rule added", "rule", rule)
	if t.OnAdded != nil {
		t.OnAdded(ctx, rule)
	}
	return fmt.Sprintf("Safety rule added: %s", rule), nil
}

// UpdatePreferenceTool records a learned preference.
type UpdatePreferenceTool struct {
	mem *memory.Operational
}

// NewUpdatePreferenceTool creates an update_preference tool.
func NewUpdatePreferenceTool(mem *memory.Operational) *UpdatePreferenceTool {
	return &UpdatePreferenceTool{mem: mem}
}

func (t *UpdatePreferenceTool) Name() string { return "update_preference" }
func (t *UpdatePreferenceTool) Tier() int    { return TierWrite }

func (t *UpdatePreferenceTool) Description() string {
	return "Record or override a user preference (for example tone, formatting, schedule)."
}

func (t *UpdatePreferenceTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{
				"type":        "string",
				"description": "Short preference name",
			},
			"value": map[string]any{
				"type":        "string",
				"description": "The preferred value",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *UpdatePreferenceTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	key := strings.TrimSpace(GetString(params, "key", ""))
	value := strings.TrimSpace(GetString(params, "value", ""))
	if key == "" || value == "" {
		return "Error: key and value are required", nil
	}
	if err := t.mem.UpdatePreference(key, value); err != nil {
		return fmt.Sprintf("Error saving preference: %v", err), nil
	}
	return fmt.Sprintf("Preference updated: %s = %s", key, value), nil
}

// AddOperationalNoteTool appends a freeform operational note.
type AddOperationalNoteTool struct {
	mem *memory.Operational
}

// NewAddOperationalNoteTool creates an add_operational_note tool.
func NewAddOperationalNoteTool(mem *memory.Operational) *AddOperationalNoteTool {
	return &AddOperationalNoteTool{mem: mem}
}

func (t *AddOperationalNoteTool) Name() string { return "add_operational_note" }
func (t *AddOperationalNoteTool) Tier() int    { return TierWrite }

func (t *AddOperationalNoteTool) Description() string {
	return "Add an operational note about strategy, methodology or the environment."
}

func (t *AddOperationalNoteTool) Parameters() map[string]any {
	return singleStringParam("note", "The note to remember")
}

func (t *AddOperationalNoteTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	note := strings.TrimSpace(GetString(params, "note", ""))
	if note == "" {
		return "Error: note is required", nil
	}
	if err := t.mem.AddNote(note); err != nil {
		return fmt.Sprintf("Error saving note: %v", err), nil
	}
	return "Operational note added.", nil
}

// RecallSearchTool searches long-term recall.
type RecallSearchTool struct {
	recall memory.Recall
}

// NewRecallSearchTool creates a recall_search tool.
func NewRecallSearchTool(recall memory.Recall) *RecallSearchTool {
	return &RecallSearchTool{recall: recall}
}

func (t *RecallSearchTool) Name() string { return "recall_search" }
func (t *RecallSearchTool) Tier() int    { return TierReadOnly }

func (t *RecallSearchTool) Description() string {
	return "Search long-term memory of past conversations. Returns the most relevant stored messages."
}

func (t *RecallSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to search for",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *RecallSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "Error: query is required", nil
	}
	results, err := t.recall.Search(ctx, query, GetInt(params, "limit", 5))
	if err != nil {
		return fmt.Sprintf("Error searching memory: %v", err), nil
	}
	if len(results) == 0 {
		return "No relevant memories found.", nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%.2f] %s\n", i+1, r.Similarity, truncateRunes(r.Text, 500))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func singleStringParam(name, desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			name: map[string]any{
				"type":        "string",
				"description": desc,
			},
		},
		"required": []string{name},
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
