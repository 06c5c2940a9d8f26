package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/provider"
)

type scriptStep struct {
	resp *provider.ChatResponse
	err  error
}

// scriptedProvider replays steps in order and repeats the last one.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []*provider.ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := *req
	snapshot.Messages = append([]provider.Message(nil), req.Messages...)
	p.requests = append(p.requests, &snapshot)
	if len(p.steps) == 0 {
		return &provider.ChatResponse{Content: "ok"}, nil
	}
	i := len(p.requests) - 1
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i].resp, p.steps[i].err
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func text(s string) scriptStep {
	return scriptStep{resp: &provider.ChatResponse{Content: s}}
}

func toolCall(name string, args map[string]any) scriptStep {
	return scriptStep{resp: &provider.ChatResponse{ToolCalls: []provider.ToolCall{{Name: name, Arguments: args}}}}
}

func failure(err error) scriptStep {
	return scriptStep{err: err}
}

type stubTool struct {
	name  string
	mu    sync.Mutex
	calls int
	run   func(params map[string]any) (string, error)
}

func (t *stubTool) Name() string               { return t.name }
func (t *stubTool) Description() string        { return "stub " + t.name }
func (t *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *stubTool) Execute(_ context.Context, params map[string]any) (string, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.run != nil {
		return t.run(params)
	}
	return t.name + " done", nil
}

func (t *stubTool) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeRecall struct {
	mu        sync.Mutex
	added     []string
	metadata  []map[string]string
	hits      []memory.Result
	searchErr error
	addErr    error
}

func (r *fakeRecall) Add(_ context.Context, text string, metadata map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return "", r.addErr
	}
	r.added = append(r.added, text)
	r.metadata = append(r.metadata, metadata)
	return "doc", nil
}

func (r *fakeRecall) Search(_ context.Context, _ string, k int) ([]memory.Result, error) {
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	if len(r.hits) > k {
		return r.hits[:k], nil
	}
	return r.hits, nil
}

var errBoom = errors.New("boom")

type staticSkills string

func (s staticSkills) Index() string { return string(s) }
