package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/session"
	"github.com/KafClaw/soulbot/internal/tools"
)

func newTestAgent(prov provider.LLMProvider, opts Options) *Agent {
	opts.Provider = prov
	if opts.ProviderName == "" {
		opts.ProviderName = "openai"
	}
	if opts.Soul == nil {
		opts.Soul = func() string { return "You are Soul." }
	}
	return New(opts)
}

func TestInvoke_AppendsTurnToHistory(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{text("hello ana")}}
	a := newTestAgent(prov, Options{})

	reply, err := a.Invoke(context.Background(), "s1", "hi", "ana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello ana" {
		t.Errorf("reply = %q", reply)
	}
	history := a.Sessions().History("s1")
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Content != "[ana]: hi" || history[1].Content != "hello ana" {
		t.Errorf("history = %+v", history)
	}
	req := prov.request(0)
	if req.Messages[0].Role != provider.RoleSystem || !strings.HasPrefix(req.Messages[0].Content, "You are Soul.") {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if len(req.Tools) != 0 {
		t.Error("no tools should be offered without a registry")
	}
}

func TestInvoke_AuthFailureRollsBack(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		text("first reply"),
		failure(provider.NewStatusError("anthropic", "m", 401, "", "invalid x-api-key", nil)),
	}}
	a := newTestAgent(prov, Options{ProviderName: "anthropic"})

	if _, err := a.Invoke(context.Background(), "s1", "one", "ana"); err != nil {
		t.Fatal(err)
	}
	_, err := a.Invoke(context.Background(), "s1", "two", "ana")
	perr, ok := provider.AsProviderError(err)
	if !ok {
		t.Fatalf("want ProviderError, got %v", err)
	}
	if perr.Recoverable || perr.Kind != provider.KindAuth {
		t.Errorf("auth failure should be fatal: %+v", perr)
	}
	if got := a.Sessions().Len("s1"); got != 2 {
		t.Errorf("history len = %d, want 2 after rollback", got)
	}
}

func TestInvoke_RateLimitIsRecoverable(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{
		failure(provider.NewStatusError("openai", "m", 429, "rate_limit_exceeded", "slow down", nil)),
	}}
	a := newTestAgent(prov, Options{})
	_, err := a.Invoke(context.Background(), "s1", "hi", "ana")
	perr, ok := provider.AsProviderError(err)
	if !ok || !perr.Recoverable || perr.Kind != provider.KindRateLimit {
		t.Fatalf("err = %v", err)
	}
	if a.Sessions().Len("s1") != 0 {
		t.Error("failed first turn should leave an empty history")
	}
}

func TestInvoke_PlainErrorIsWrapped(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{failure(errBoom)}}
	a := newTestAgent(prov, Options{ProviderName: "openai"})
	_, err := a.Invoke(context.Background(), "s1", "hi", "ana")
	perr, ok := provider.AsProviderError(err)
	if !ok {
		t.Fatalf("want ProviderError, got %v", err)
	}
	if perr.Provider != "openai" || perr.Model != "test-model" || !errors.Is(err, errBoom) {
		t.Errorf("perr = %+v", perr)
	}
}

func TestInvoke_UsesToolLoopWhenToolsRegistered(t *testing.T) {
	tool := &stubTool{name: "shell_exec"}
	prov := &scriptedProvider{steps: []scriptStep{
		toolCall("shell_exec", map[string]any{"command": "uptime"}),
		text("up 3 days"),
	}}
	var observed []string
	a := newTestAgent(prov, Options{Tools: tools.NewRegistry(tool)})
	reply, err := a.InvokeWithObserver(context.Background(), "s1", "uptime?", "ana", func(_ context.Context, name string, _ map[string]any) error {
		observed = append(observed, name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "up 3 days" {
		t.Errorf("reply = %q", reply)
	}
	if len(observed) != 1 || observed[0] != "shell_exec" {
		t.Errorf("observed = %v", observed)
	}
	if !strings.Contains(prov.request(0).Messages[0].Content, "shell_exec") {
		t.Error("system prompt should list tools")
	}
	// Only the user message and final reply are stored.
	if got := a.Sessions().Len("s1"); got != 2 {
		t.Errorf("history len = %d, want 2", got)
	}
}

func TestInvoke_RecallFailureIsSwallowed(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{text("fine")}}
	recall := &fakeRecall{searchErr: errors.New("vector store down"), addErr: errors.New("still down")}
	a := newTestAgent(prov, Options{Recall: recall})
	reply, err := a.Invoke(context.Background(), "s1", "hi", "ana")
	if err != nil {
		t.Fatalf("recall failures must not fail the turn: %v", err)
	}
	if reply != "fine" {
		t.Errorf("reply = %q", reply)
	}
}

func TestInvoke_RecallContextAndIndexing(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{text("noted")}}
	recall := &fakeRecall{hits: []memory.Result{{Text: "[ana]: I like tea"}}}
	a := newTestAgent(prov, Options{Recall: recall})
	if _, err := a.Invoke(context.Background(), "s1", "what do I like?", "ana"); err != nil {
		t.Fatal(err)
	}
	user := prov.request(0).Messages[1]
	if !strings.Contains(user.Content, "[Retrieved context]:\n- [ana]: I like tea") {
		t.Errorf("retrieved context missing: %q", user.Content)
	}
	if len(recall.added) != 1 || recall.added[0] != "[ana]: what do I like?" {
		t.Errorf("indexed = %v", recall.added)
	}
	if recall.metadata[0]["session_id"] != "s1" || recall.metadata[0]["user_name"] != "ana" {
		t.Errorf("metadata = %v", recall.metadata[0])
	}
}

func TestInvoke_CompactsLongHistory(t *testing.T) {
	prov := &scriptedProvider{}
	sessions := session.NewStore()
	for i := 0; i < 3; i++ {
		sessions.Append("s1", provider.User(fmt.Sprintf("u%d", i)), provider.Assistant(fmt.Sprintf("a%d", i)))
	}
	var compacted []int
	a := newTestAgent(prov, Options{
		Sessions:           sessions,
		MaxSessionMessages: 6,
		KeepRecent:         2,
		OnCompaction: func(_ context.Context, id string, before, after int) {
			compacted = append(compacted, before, after)
		},
	})
	if _, err := a.Invoke(context.Background(), "s1", "more", "ana"); err != nil {
		t.Fatal(err)
	}
	history := sessions.History("s1")
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	if !strings.HasPrefix(history[0].Content, memory.SummaryPrefix) {
		t.Errorf("first message = %q", history[0].Content)
	}
	if history[2].Content != "ok" {
		t.Errorf("last message = %q", history[2].Content)
	}
	if len(compacted) != 2 || compacted[0] != 8 || compacted[1] != 3 {
		t.Errorf("compaction hook = %v", compacted)
	}
}

func TestInvoke_CompactionFailureKeepsHistory(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{text("reply"), failure(errBoom)}}
	sessions := session.NewStore()
	for i := 0; i < 3; i++ {
		sessions.Append("s1", provider.User("u"), provider.Assistant("a"))
	}
	a := newTestAgent(prov, Options{Sessions: sessions, MaxSessionMessages: 6, KeepRecent: 2})
	reply, err := a.Invoke(context.Background(), "s1", "more", "ana")
	if err != nil {
		t.Fatalf("turn should succeed: %v", err)
	}
	if reply != "reply" {
		t.Errorf("reply = %q", reply)
	}
	if got := sessions.Len("s1"); got != 8 {
		t.Errorf("history len = %d, want 8", got)
	}
}

type slowProvider struct {
	mu      sync.Mutex
	active  int
	overlap bool
}

func (p *slowProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	p.active++
	if p.active > 1 {
		p.overlap = true
	}
	p.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return &provider.ChatResponse{Content: "ok"}, nil
}

func (p *slowProvider) DefaultModel() string { return "slow" }

func TestInvoke_SerializesSameSession(t *testing.T) {
	prov := &slowProvider{}
	a := newTestAgent(prov, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := a.Invoke(context.Background(), "shared", fmt.Sprintf("m%d", i), "ana"); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if prov.overlap {
		t.Error("turns for one session overlapped")
	}
	history := a.Sessions().History("shared")
	if len(history) != 10 {
		t.Fatalf("history len = %d, want 10", len(history))
	}
	for i := 0; i < len(history); i += 2 {
		if history[i].Role != provider.RoleUser || history[i+1].Role != provider.RoleAssistant {
			t.Errorf("turn %d not paired: %+v %+v", i/2, history[i], history[i+1])
		}
	}
}

func TestDefaultReplyRenderer(t *testing.T) {
	if got := DefaultReplyRenderer(nil, "hello", nil); got != "hello" {
		t.Errorf("got %q", got)
	}
	fatal := provider.NewStatusError("openai", "m", 401, "", "", nil)
	if got := DefaultReplyRenderer(nil, "", fatal); !strings.HasPrefix(got, "I've hit a problem I can't recover from") {
		t.Errorf("fatal = %q", got)
	}
	transient := provider.NewStatusError("openai", "m", 503, "", "", nil)
	if got := DefaultReplyRenderer(nil, "", transient); !strings.HasPrefix(got, "Sorry, I'm having trouble thinking right now") {
		t.Errorf("transient = %q", got)
	}
}

func TestRun_RepliesOnBus(t *testing.T) {
	prov := &scriptedProvider{steps: []scriptStep{text("pong")}}
	a := newTestAgent(prov, Options{})
	b := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, b, nil) }()

	b.PublishInbound(&bus.InboundMessage{Channel: "discord", ChatID: "c1", SenderID: "u1", SenderName: "ana", Content: "ping"})

	deadline := time.After(5 * time.Second)
	for b.OutboundSize() == 0 {
		select {
		case <-deadline:
			t.Fatal("no outbound reply")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if a.Sessions().Len("discord-c1") != 2 {
		t.Errorf("session discord-c1 len = %d", a.Sessions().Len("discord-c1"))
	}
}

func TestCompactAll(t *testing.T) {
	prov := &scriptedProvider{}
	sessions := session.NewStore()
	for i := 0; i < 5; i++ {
		sessions.Append("big", provider.User("u"), provider.Assistant("a"))
	}
	sessions.Append("small", provider.User("u"))
	a := newTestAgent(prov, Options{Sessions: sessions, MaxSessionMessages: 4, KeepRecent: 2})
	if n := a.CompactAll(context.Background()); n != 1 {
		t.Errorf("compacted = %d, want 1", n)
	}
	if sessions.Len("big") != 3 || sessions.Len("small") != 1 {
		t.Errorf("lens = %d/%d", sessions.Len("big"), sessions.Len("small"))
	}
}

func TestRun_KeepsArrivalOrderPerSession(t *testing.T) {
	prov := &slowProvider{}
	a := newTestAgent(prov, Options{MaxSessionMessages: 100})
	b := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, b, nil) }()

	const n = 20
	for i := 0; i < n; i++ {
		b.PublishInbound(&bus.InboundMessage{Channel: "channel", ChatID: "c1", SenderName: "ana", Content: fmt.Sprintf("m%02d", i)})
	}

	deadline := time.After(10 * time.Second)
	for a.Sessions().Len("channel-c1") < 2*n {
		select {
		case <-deadline:
			t.Fatalf("turns not processed: %d messages stored", a.Sessions().Len("channel-c1"))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if prov.overlap {
		t.Error("turns for one session overlapped")
	}

	history := a.Sessions().History("channel-c1")
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("[ana]: m%02d", i)
		if got := history[2*i].Content; got != want {
			t.Fatalf("turn %d = %q, want %q", i, got, want)
		}
	}
}

func TestTurnQueue_SingleWorkerPerKey(t *testing.T) {
	var q turnQueue
	first := &bus.InboundMessage{Content: "1"}
	second := &bus.InboundMessage{Content: "2"}
	if !q.push("s", first) {
		t.Fatal("first push should start a worker")
	}
	if q.push("s", second) {
		t.Fatal("second push should reuse the running worker")
	}
	if !q.push("other", first) {
		t.Fatal("another key needs its own worker")
	}
	for _, want := range []string{"1", "2"} {
		msg, ok := q.pop("s")
		if !ok || msg.Content != want {
			t.Fatalf("pop = %+v, %v, want %s", msg, ok, want)
		}
	}
	if _, ok := q.pop("s"); ok {
		t.Fatal("drained queue should release the key")
	}
	if !q.push("s", first) {
		t.Fatal("push after release should start a new worker")
	}
}
