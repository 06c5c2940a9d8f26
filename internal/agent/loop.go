// Package agent implements the core agent: per-session turns, the tool loop
// and background sub-agents.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/KafClaw/soulbot/internal/session"
	"github.com/KafClaw/soulbot/internal/tools"
)

const (
	defaultMaxSessionMessages = 50
	defaultRecallResults      = 5
)

// Options contains configuration for the agent.
type Options struct {
	Provider           provider.LLMProvider
	ProviderName       string
	Sanitizer          provider.ResponseSanitizer
	Soul               func() string
	Memory             *memory.Operational
	Recall             memory.Recall
	Skills             SkillIndexer
	Tools              *tools.Registry
	Sessions           *session.Store
	MaxSessionMessages int
	KeepRecent         int
	RecallResults      int
	MaxToolIterations  int
	MaxTokens          int
	Temperature        float64
	// OnCompaction is told when a session's history was compacted. Optional.
	OnCompaction func(ctx context.Context, sessionID string, before, after int)
	// TurnContext derives the context for a bus message's turn, for example
	// to bind a progress reporter to the originating chat. Optional.
	TurnContext func(ctx context.Context, msg *bus.InboundMessage) context.Context
	// ToolObserver sees every tool call of turns started with Invoke.
	// Optional.
	ToolObserver ToolObserver
}

// Agent processes conversational turns.
type Agent struct {
	provider     provider.LLMProvider
	providerName string
	sanitizer    provider.ResponseSanitizer
	builder      *ContextBuilder
	recall       memory.Recall
	tools        *tools.Registry
	sessions     *session.Store
	maxMessages  int
	keepRecent   int
	recallK      int
	maxIter      int
	maxTokens    int
	temperature  float64
	onCompaction func(ctx context.Context, sessionID string, before, after int)
	turnContext  func(ctx context.Context, msg *bus.InboundMessage) context.Context
	toolObserver ToolObserver
	locks        keyedMutex
}

// New creates an Agent.
func New(opts Options) *Agent {
	a := &Agent{
		provider:     opts.Provider,
		providerName: opts.ProviderName,
		sanitizer:    opts.Sanitizer,
		builder:      NewContextBuilder(opts.Soul, opts.Memory, opts.Skills),
		recall:       opts.Recall,
		tools:        opts.Tools,
		sessions:     opts.Sessions,
		maxMessages:  opts.MaxSessionMessages,
		keepRecent:   opts.KeepRecent,
		recallK:      opts.RecallResults,
		maxIter:      opts.MaxToolIterations,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		onCompaction: opts.OnCompaction,
		turnContext:  opts.TurnContext,
		toolObserver: opts.ToolObserver,
	}
	if a.sanitizer == nil {
		a.sanitizer = provider.NopSanitizer{}
	}
	if a.sessions == nil {
		a.sessions = session.NewStore()
	}
	if a.maxMessages <= 0 {
		a.maxMessages = defaultMaxSessionMessages
	}
	if a.keepRecent <= 0 {
		a.keepRecent = memory.DefaultKeepRecent
	}
	if a.recallK <= 0 {
		a.recallK = defaultRecallResults
	}
	if a.maxIter <= 0 {
		a.maxIter = DefaultMaxIterations
	}
	return a
}

// Sessions returns the session store.
func (a *Agent) Sessions() *session.Store { return a.sessions }

// Invoke runs one turn for a session and returns the assistant reply.
func (a *Agent) Invoke(ctx context.Context, sessionID, userMessage, userName string) (string, error) {
	return a.InvokeWithObserver(ctx, sessionID, userMessage, userName, a.toolObserver)
}

type sessionKey struct{}

// SessionIDFrom returns the session of the turn running under ctx.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// InvokeWithObserver is Invoke with a tool-call observer for progress.
// Turns for the same session are serialized. A provider fault rolls the
// user message back out of the history and is returned as a
// *provider.ProviderError.
func (a *Agent) InvokeWithObserver(ctx context.Context, sessionID, userMessage, userName string, onToolCall ToolObserver) (string, error) {
	unlock := a.locks.Lock(sessionID)
	defer unlock()
	ctx = context.WithValue(ctx, sessionKey{}, sessionID)

	attributed := fmt.Sprintf("[%s]: %s", userName, userMessage)
	rollbackTo := a.sessions.Append(sessionID, provider.User(attributed))

	var toolList []tools.Tool
	if a.tools != nil {
		toolList = a.tools.List()
	}
	systemPrompt := a.builder.BuildSystemPrompt(tools.Names(toolList))
	retrieved := a.searchRecall(ctx, userMessage)
	messages := a.builder.BuildMessages(systemPrompt, retrieved, a.sessions.History(sessionID))

	start := time.Now()
	reply, err := a.complete(ctx, messages, toolList, onToolCall)
	if err != nil {
		a.sessions.Truncate(sessionID, rollbackTo)
		perr := provider.WrapError(a.providerName, a.provider.DefaultModel(), err)
		if perr.Recoverable {
			slog.Warn("Turn failed, rolled back", "session", sessionID, "kind", perr.Kind, "error", perr)
		} else {
			slog.Error("Turn failed, rolled back", "session", sessionID, "kind", perr.Kind, "error", perr)
		}
		return "", perr
	}
	slog.Debug("Turn completed", "session", sessionID, "duration_ms", time.Since(start).Milliseconds())

	a.sessions.Append(sessionID, provider.Assistant(reply))
	a.indexRecall(ctx, attributed, map[string]string{"session_id": sessionID, "user_name": userName})
	a.maybeCompact(ctx, sessionID)
	return reply, nil
}

func (a *Agent) complete(ctx context.Context, messages []provider.Message, toolList []tools.Tool, onToolCall ToolObserver) (string, error) {
	if len(toolList) > 0 {
		msg, err := RunToolLoop(ctx, a.provider, messages, ToolLoopOptions{
			Tools:         toolList,
			MaxIterations: a.maxIter,
			Sanitizer:     a.sanitizer,
			OnToolCall:    onToolCall,
			MaxTokens:     a.maxTokens,
			Temperature:   a.temperature,
		})
		if err != nil {
			return "", err
		}
		return msg.Content, nil
	}
	resp, err := a.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    messages,
		Model:       a.provider.DefaultModel(),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (a *Agent) searchRecall(ctx context.Context, query string) (results []memory.Result) {
	if a.recall == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recall search panicked", "panic", r)
			results = nil
		}
	}()
	results, err := a.recall.Search(ctx, query, a.recallK)
	if err != nil {
		slog.Warn("Recall search failed", "error", err)
		return nil
	}
	return results
}

func (a *Agent) indexRecall(ctx context.Context, text string, metadata map[string]string) {
	if a.recall == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recall indexing panicked", "panic", r)
		}
	}()
	if _, err := a.recall.Add(ctx, text, metadata); err != nil {
		slog.Warn("Recall indexing failed", "error", err)
	}
}

func (a *Agent) maybeCompact(ctx context.Context, sessionID string) {
	history := a.sessions.History(sessionID)
	if !memory.ShouldCompact(history, a.maxMessages) {
		return
	}
	compacted, err := memory.Compact(ctx, a.provider, history, a.keepRecent)
	if err != nil {
		slog.Warn("Compaction failed, keeping full history", "session", sessionID, "error", err)
		return
	}
	a.sessions.Replace(sessionID, compacted)
	slog.Info("Session compacted", "session", sessionID, "before", len(history), "after", len(compacted))
	if a.onCompaction != nil {
		a.onCompaction(ctx, sessionID, len(history), len(compacted))
	}
}

// CompactAll compacts every session over the threshold. The scheduled
// compaction job runs it.
func (a *Agent) CompactAll(ctx context.Context) int {
	n := 0
	for _, info := range a.sessions.List() {
		unlock := a.locks.Lock(info.Key)
		before := a.sessions.Len(info.Key)
		a.maybeCompact(ctx, info.Key)
		if a.sessions.Len(info.Key) != before {
			n++
		}
		unlock()
	}
	return n
}

// ReplyRenderer turns an inbound message and the agent's outcome into the
// text sent back to the channel.
type ReplyRenderer func(msg *bus.InboundMessage, reply string, err error) string

// DefaultReplyRenderer sends the reply, or a short apology for provider
// faults that distinguishes recoverable from fatal ones.
func DefaultReplyRenderer(_ *bus.InboundMessage, reply string, err error) string {
	if err == nil {
		return reply
	}
	if perr, ok := provider.AsProviderError(err); ok && !perr.Recoverable {
		return fmt.Sprintf("I've hit a problem I can't recover from - %s. My operator will need to look into this.", perr.UserMessage())
	}
	if perr, ok := provider.AsProviderError(err); ok {
		return fmt.Sprintf("Sorry, I'm having trouble thinking right now - %s. Try again shortly.", perr.UserMessage())
	}
	return fmt.Sprintf("Sorry, I'm having trouble thinking right now - %v. Try again shortly.", err)
}

// Run consumes inbound messages from the bus until ctx is done. Each session
// gets one worker that drains its queue in arrival order; different sessions
// run concurrently.
func (a *Agent) Run(ctx context.Context, b *bus.MessageBus, render ReplyRenderer) error {
	if render == nil {
		render = DefaultReplyRenderer
	}
	slog.Info("Agent loop started")
	var (
		wg    sync.WaitGroup
		queue turnQueue
	)
	defer wg.Wait()
	for {
		msg, err := b.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to consume message", "error", err)
			continue
		}
		sessionID := inboundSessionID(msg)
		if !queue.push(sessionID, msg) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				next, ok := queue.pop(sessionID)
				if !ok {
					return
				}
				a.handleInbound(ctx, b, render, sessionID, next)
			}
		}()
	}
}

func (a *Agent) handleInbound(ctx context.Context, b *bus.MessageBus, render ReplyRenderer, sessionID string, msg *bus.InboundMessage) {
	name := msg.SenderName
	if name == "" {
		name = msg.SenderID
	}
	turnCtx := ctx
	if a.turnContext != nil {
		turnCtx = a.turnContext(ctx, msg)
	}
	reply, err := a.Invoke(turnCtx, sessionID, msg.Content, name)
	if text := render(msg, reply, err); text != "" {
		b.PublishOutbound(&bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: text})
	}
}

func inboundSessionID(msg *bus.InboundMessage) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	return msg.Channel + "-" + msg.ChatID
}

// turnQueue holds pending bus messages per session. A key is present while
// its worker is running.
type turnQueue struct {
	mu      sync.Mutex
	pending map[string][]*bus.InboundMessage
}

// push queues msg and reports whether the session needs a new worker.
func (q *turnQueue) push(key string, msg *bus.InboundMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[string][]*bus.InboundMessage)
	}
	_, running := q.pending[key]
	q.pending[key] = append(q.pending[key], msg)
	return !running
}

// pop returns the oldest queued message. When the queue is empty the key is
// released and the worker must exit.
func (q *turnQueue) pop(key string) (*bus.InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.pending[key]
	if len(msgs) == 0 {
		delete(q.pending, key)
		return nil, false
	}
	msg := msgs[0]
	msgs[0] = nil
	q.pending[key] = msgs[1:]
	return msg, true
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
