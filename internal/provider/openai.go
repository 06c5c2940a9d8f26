package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Default MiniMax endpoint settings.
const (
	DefaultMiniMaxBase  = "https://api.minimax.io/v1"
	DefaultMiniMaxModel = "MiniMax-M2.5"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (MiniMax, OpenAI, OpenRouter, vLLM).
type OpenAIProvider struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint. An
// empty apiBase keeps the library default.
func NewOpenAIProvider(name, apiKey, apiBase, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if apiBase != "" {
		cfg.BaseURL = apiBase
	}
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:        name,
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: 0.7,
	}
}

// NewMiniMaxProvider creates a provider preconfigured for MiniMax.
func NewMiniMaxProvider(apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = DefaultMiniMaxBase
	}
	if model == "" {
		model = DefaultMiniMaxModel
	}
	return NewOpenAIProvider("minimax", apiKey, apiBase, model)
}

// DefaultModel returns the configured model.
func (p *OpenAIProvider) DefaultModel() string { return p.model }

// Name returns the backend name used in errors and logs.
func (p *OpenAIProvider) Name() string { return p.name }

// WithLimits sets the default token budget and temperature.
func (p *OpenAIProvider) WithLimits(maxTokens int, temperature float64) *OpenAIProvider {
	p.maxTokens = maxTokens
	p.temperature = temperature
	return p
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	msgs, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Kind: KindStatus, Provider: p.name, Model: model, Message: "no choices in response", Recoverable: true}
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				slog.Warn("Tool call arguments are not valid JSON", "tool", tc.Function.Name, "error", err)
				args = map[string]any{"raw": tc.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

func (p *OpenAIProvider) wrapError(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewStatusError(p.name, model, apiErr.HTTPStatusCode, fmt.Sprint(apiErr.Code), apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return NewStatusError(p.name, model, reqErr.HTTPStatusCode, "", reqErr.Error(), err)
	}
	return WrapError(p.name, model, err)
}

func toOpenAIMessages(messages []Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			arguments := tc.Arguments
			if arguments == nil {
				arguments = map[string]any{}
			}
			args, err := json.Marshal(arguments)
			if err != nil {
				return nil, fmt.Errorf("marshal arguments for %s: %w", tc.Name, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Function.Name,
				Description: d.Function.Description,
				Parameters:  d.Function.Parameters,
			},
		})
	}
	return out
}
