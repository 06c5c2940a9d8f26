package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/tools"
)

// DefaultMaxIterations caps tool-driving model calls in one loop.
const DefaultMaxIterations = 10

// ToolObserver is notified before each tool invocation. Its failures are
// logged and never interrupt the loop.
type ToolObserver func(ctx context.Context, name string, args map[string]any) error

// ToolLoopOptions configures RunToolLoop.
type ToolLoopOptions struct {
	Tools         []tools.Tool
	MaxIterations int
	Sanitizer     provider.ResponseSanitizer
	OnToolCall    ToolObserver
	Model         string
	MaxTokens     int
	Temperature   float64
}

// RunToolLoop calls the model and executes requested tools until the model
// answers without tool calls. Tool failures are fed back to the model as
// text. Once MaxIterations tool-driving calls are spent, one final call is
// made and its response is returned as is.
func RunToolLoop(ctx context.Context, prov provider.LLMProvider, messages []provider.Message, opts ToolLoopOptions) (*provider.Message, error) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	sanitizer := opts.Sanitizer
	if sanitizer == nil {
		sanitizer = provider.NopSanitizer{}
	}
	model := opts.Model
	if model == "" {
		model = prov.DefaultModel()
	}

	toolMap := make(map[string]tools.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		toolMap[t.Name()] = t
	}
	available := strings.Join(tools.Names(opts.Tools), ", ")
	defs := tools.Definitions(opts.Tools)

	working := make([]provider.Message, len(messages), len(messages)+2*maxIter)
	copy(working, messages)

	call := func() (*provider.ChatResponse, error) {
		return prov.Chat(ctx, &provider.ChatRequest{
			Messages:    working,
			Tools:       defs,
			Model:       model,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
	}

	for i := 0; i < maxIter; i++ {
		resp, err := call()
		if err != nil {
			return nil, err
		}
		msg := resp.Message()

		if !msg.HasToolCalls() {
			cleaned, leaked := sanitizer.Sanitize(msg.Content)
			if leaked {
				slog.Warn("Leaked tool-call markup in response, retrying", "iteration", i)
				working = append(working,
					provider.Assistant(cleaned),
					provider.User("You attempted to call a tool using XML syntax, but that doesn't work. Use the function calling interface instead. Available tools: "+available),
				)
				continue
			}
			if cleaned != msg.Content {
				out := provider.Assistant(cleaned)
				return &out, nil
			}
			return &msg, nil
		}

		calls := make([]provider.ToolCall, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		for j := range calls {
			if calls[j].ID == "" {
				calls[j].ID = fmt.Sprintf("call_%d_%s", i, calls[j].Name)
			}
		}
		msg.ToolCalls = calls
		working = append(working, msg)

		for _, tc := range calls {
			notifyObserver(ctx, opts.OnToolCall, tc)
			result := executeTool(ctx, toolMap, available, tc)
			working = append(working, provider.ToolResult(tc.ID, result))
		}
	}

	slog.Warn("Tool loop hit max iterations, making final call", "max_iterations", maxIter)
	resp, err := call()
	if err != nil {
		return nil, err
	}
	out := resp.Message()
	return &out, nil
}

func notifyObserver(ctx context.Context, observer ToolObserver, tc provider.ToolCall) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool observer panicked", "tool", tc.Name, "panic", r)
		}
	}()
	if err := observer(ctx, tc.Name, tc.Arguments); err != nil {
		slog.Warn("Tool observer failed", "tool", tc.Name, "error", err)
	}
}

func executeTool(ctx context.Context, toolMap map[string]tools.Tool, available string, tc provider.ToolCall) (result string) {
	tool, ok := toolMap[tc.Name]
	if !ok {
		slog.Warn("LLM requested unknown tool", "tool", tc.Name)
		return fmt.Sprintf("Error: Unknown tool '%s'. Available: %s", tc.Name, available)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool panicked", "tool", tc.Name, "panic", r)
			result = fmt.Sprintf("Error executing %s: %v", tc.Name, r)
		}
	}()
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		slog.Warn("Tool failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error executing %s: %v", tc.Name, err)
	}
	slog.Debug("Tool executed", "name", tc.Name, "result_length", len(out))
	return out
}
