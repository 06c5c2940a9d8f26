package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// SpawnRequest asks for a background specialist run.
type SpawnRequest struct {
	Specialist string
	Task       string
}

// SpawnResult reports the outcome of a spawn request.
type SpawnResult struct {
	Status  string `json:"status"`
	TaskID  string `json:"taskId,omitempty"`
	Message string `json:"message,omitempty"`
}

// DelegateTool hands a task to a background specialist. The result is
// delivered later by the spawner's callback, not by this call.
type DelegateTool struct {
	specialists []string
	spawn       func(context.Context, SpawnRequest) (SpawnResult, error)
}

// NewDelegateTool creates a delegate_task tool.
func NewDelegateTool(specialists []string, spawn func(context.Context, SpawnRequest) (SpawnResult, error)) *DelegateTool {
	return &DelegateTool{specialists: specialists, spawn: spawn}
}

func (t *DelegateTool) Name() string { return "delegate_task" }
func (t *DelegateTool) Tier() int    { return TierWrite }

func (t *DelegateTool) Description() string {
	return "Run a long task in the background with a specialist sub-agent. The result is posted when it finishes."
}

func (t *DelegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"specialist": map[string]any{
				"type":        "string",
				"description": "Which specialist should run the task",
				"enum":        t.specialists,
			},
			"task": map[string]any{
				"type":        "string",
				"description": "Task instruction for the specialist",
			},
		},
		"required": []string{"specialist", "task"},
	}
}

func (t *DelegateTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.spawn == nil {
		return "Error: delegation unavailable", nil
	}
	specialist := strings.TrimSpace(strings.ToLower(GetString(params, "specialist", "")))
	task := strings.TrimSpace(GetString(params, "task", ""))
	if task == "" {
		return "Error: task is required", nil
	}
	known := false
	for _, s := range t.specialists {
		if s == specialist {
			known = true
			break
		}
	}
	if !known {
		return "Error: unknown specialist '" + specialist + "'. Available: " + strings.Join(t.specialists, ", "), nil
	}

	res, err := t.spawn(ctx, SpawnRequest{Specialist: specialist, Task: task})
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	return string(out), nil
}
