package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/provider"
)

// FallbackTitle names the plan produced when the model output is unusable.
const FallbackTitle = "Unparsed Plan"

const fallbackStepLimit = 500

const parserPrompt = `You are a plan parser. Given a markdown plan, extract it into structured JSON.

Output ONLY valid JSON with this schema:
{
  "title": "Plan title",
  "phases": [
    {
      "name": "Phase name",
      "parallel": false,
      "steps": [
        {
          "description": "What to do",
          "validation": "How to verify success (optional, null if none)",
          "tools_needed": ["shell_exec", "file_write"]
        }
      ]
    }
  ]
}

Rules:
- Each phase is a logical group of related steps
- Set parallel=true only if the phase's steps can run independently
- Phases themselves always run sequentially
- tools_needed is your best guess at which tools each step needs
- Keep step descriptions actionable and specific`

type rawPlan struct {
	Title  *string    `json:"title"`
	Phases []rawPhase `json:"phases"`
}

type rawPhase struct {
	Name     *string   `json:"name"`
	Parallel bool      `json:"parallel"`
	Steps    []rawStep `json:"steps"`
}

type rawStep struct {
	Description string   `json:"description"`
	Validation  *string  `json:"validation"`
	ToolsNeeded []string `json:"tools_needed"`
}

// Parse asks the model to structure planText. Output that is not valid plan
// JSON yields a single-step fallback plan so execution can still proceed.
// Only a failed completion call is returned as an error.
func Parse(ctx context.Context, prov provider.LLMProvider, planText string) (*ExecutionPlan, error) {
	resp, err := prov.Chat(ctx, &provider.ChatRequest{
		Messages: provider.Normalize([]provider.Message{
			provider.System(parserPrompt),
			provider.User("Parse this plan:\n\n" + planText),
		}),
		Model: prov.DefaultModel(),
	})
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return ParseJSON(resp.Content, planText), nil
}

// ParseJSON builds a plan from model output, falling back on planText.
func ParseJSON(content, planText string) *ExecutionPlan {
	content = stripCodeFence(strings.TrimSpace(content))

	var raw rawPlan
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		slog.Error("Failed to parse plan JSON", "error", err, "content", truncateRunes(content, fallbackStepLimit))
		return Fallback(planText)
	}

	plan := &ExecutionPlan{Title: "Plan", Phases: []*Phase{}}
	if raw.Title != nil {
		plan.Title = *raw.Title
	}
	for _, rp := range raw.Phases {
		phase := &Phase{Name: "Unnamed", Parallel: rp.Parallel, Status: StatusPending, Steps: []*Step{}}
		if rp.Name != nil {
			phase.Name = *rp.Name
		}
		for _, rs := range rp.Steps {
			step := NewStep(rs.Description)
			if rs.Validation != nil {
				step.Validation = *rs.Validation
			}
			if rs.ToolsNeeded != nil {
				step.ToolsNeeded = rs.ToolsNeeded
			}
			phase.Steps = append(phase.Steps, step)
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return plan
}

// Fallback wraps planText in a one-phase, one-step plan.
func Fallback(planText string) *ExecutionPlan {
	return &ExecutionPlan{
		Title: FallbackTitle,
		Phases: []*Phase{{
			Name:   "Execution",
			Status: StatusPending,
			Steps:  []*Step{NewStep(truncateRunes(planText, fallbackStepLimit))},
		}},
	}
}

// stripCodeFence removes one layer of ``` wrapping.
func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
