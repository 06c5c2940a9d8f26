package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpenAITestServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider_ParsesToolCalls(t *testing.T) {
	body := `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"go\"}"}}]}}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`
	var seen map[string]any
	srv := newOpenAITestServer(t, http.StatusOK, body, &seen)

	p := NewMiniMaxProvider("key", srv.URL+"/v1", "")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{System("sys"), User("hi")},
		Tools: []ToolDefinition{{Type: "function", Function: FunctionDef{
			Name: "web_search", Parameters: map[string]any{"type": "object"},
		}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" || resp.ToolCalls[0].Arguments["query"] != "go" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 7 || resp.FinishReason != "tool_calls" {
		t.Errorf("resp = %+v", resp)
	}
	if seen["model"] != DefaultMiniMaxModel {
		t.Errorf("model sent = %v", seen["model"])
	}
	if p.Name() != "minimax" {
		t.Errorf("name = %q", p.Name())
	}
}

func TestOpenAIProvider_AuthErrorIsFatal(t *testing.T) {
	body := `{"error":{"message":"invalid api key","type":"authentication_error","code":"invalid_api_key"}}`
	srv := newOpenAITestServer(t, http.StatusUnauthorized, body, nil)

	p := NewOpenAIProvider("openai", "bad", srv.URL+"/v1", "gpt-4o")
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{User("hi")}})
	perr, ok := AsProviderError(err)
	if !ok {
		t.Fatalf("want ProviderError, got %v", err)
	}
	if perr.Kind != KindAuth || perr.Recoverable || perr.Status != 401 || perr.Provider != "openai" {
		t.Errorf("perr = %+v", perr)
	}
}

func TestOpenAIProvider_RateLimitIsRecoverable(t *testing.T) {
	body := `{"error":{"message":"slow down","type":"rate_limit","code":"rate_limit_exceeded"}}`
	srv := newOpenAITestServer(t, http.StatusTooManyRequests, body, nil)

	p := NewOpenAIProvider("openai", "k", srv.URL+"/v1", "gpt-4o")
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{User("hi")}})
	perr, ok := AsProviderError(err)
	if !ok || perr.Kind != KindRateLimit || !perr.Recoverable {
		t.Fatalf("err = %v", err)
	}
}

func TestToOpenAIMessages_NilArguments(t *testing.T) {
	msgs, err := toOpenAIMessages([]Message{{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "x"}}}})
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("arguments = %q", msgs[0].ToolCalls[0].Function.Arguments)
	}
}

func TestBuildAnthropicParams(t *testing.T) {
	req := &ChatRequest{
		Messages: []Message{
			System("sys"),
			User("q"),
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "t1", Name: "web_search", Arguments: map[string]any{"query": "x"}}}},
			ToolResult("t1", "result"),
		},
		Tools: []ToolDefinition{{Function: FunctionDef{
			Name:       "web_search",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{"query"}},
		}}},
	}
	params := buildAnthropicParams(req, "claude", 1024)
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 3 {
		t.Errorf("messages = %d, want 3", len(params.Messages))
	}
	if params.MaxTokens != 1024 {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool.InputSchema.Required[0] != "query" {
		t.Errorf("tools = %+v", params.Tools)
	}
}
