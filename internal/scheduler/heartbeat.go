package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/KafClaw/soulbot/internal/provider"
)

// HeartbeatOK is the reply that means nothing needs attention.
const HeartbeatOK = "HEARTBEAT_OK"

const (
	maxRecordedErrors = 20
	heartbeatSystem   = "You are an operational monitor for a Discord AI assistant. Be concise."
)

// Poster is where heartbeat findings go. The monitoring channel implements it.
type Poster interface {
	Post(ctx context.Context, message string)
	PostError(ctx context.Context, message string)
}

// Heartbeat periodically asks the model to review a checklist and the
// errors recorded since the last run, and posts anything it surfaces.
type Heartbeat struct {
	prov          provider.LLMProvider
	poster        Poster
	checklistPath string

	mu     sync.Mutex
	errors []string
}

// NewHeartbeat creates a heartbeat runner reading the checklist from
// checklistPath (usually HEARTBEAT.md in the assistant home).
func NewHeartbeat(prov provider.LLMProvider, poster Poster, checklistPath string) *Heartbeat {
	return &Heartbeat{prov: prov, poster: poster, checklistPath: checklistPath}
}

// RecordError queues an error for the next review. Only the most recent
// errors are kept.
func (h *Heartbeat) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxRecordedErrors {
		h.errors = append([]string(nil), h.errors[len(h.errors)-maxRecordedErrors:]...)
	}
}

// PendingErrors returns a copy of the recorded errors.
func (h *Heartbeat) PendingErrors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

// Run executes one heartbeat cycle. A missing checklist skips the cycle.
// A model failure is posted as an error and keeps the recorded errors for
// the next cycle.
func (h *Heartbeat) Run(ctx context.Context) error {
	data, err := os.ReadFile(h.checklistPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("No heartbeat checklist, skipping", "path", h.checklistPath)
			return nil
		}
		return fmt.Errorf("read heartbeat checklist: %w", err)
	}
	checklist := string(data)
	if strings.TrimSpace(checklist) == "" {
		return nil
	}

	pending := h.PendingErrors()
	prompt := checklist
	if len(pending) > 0 {
		lines := make([]string, len(pending))
		for i, e := range pending {
			lines[i] = "- " + e
		}
		prompt += "\n\n## Recent Errors (since last heartbeat)\n" + strings.Join(lines, "\n")
	}

	resp, err := h.prov.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{provider.System(heartbeatSystem), provider.User(prompt)},
		Model:    h.prov.DefaultModel(),
	})
	if err != nil {
		slog.Error("Heartbeat LLM call failed", "error", err)
		h.post(ctx, "", "Heartbeat failed - could not reach LLM")
		return nil
	}

	h.mu.Lock()
	h.errors = h.errors[len(pending):]
	h.mu.Unlock()

	reply := strings.TrimSpace(resp.Content)
	if strings.Contains(reply, HeartbeatOK) {
		slog.Info("Heartbeat: all clear")
		return nil
	}
	slog.Info("Heartbeat surfaced an issue", "reply", truncateText(reply, 100))
	h.post(ctx, "💬 **Heartbeat check-in:**\n"+reply, "")
	return nil
}

func (h *Heartbeat) post(ctx context.Context, message, errMessage string) {
	if h.poster == nil {
		return
	}
	if errMessage != "" {
		h.poster.PostError(ctx, errMessage)
		return
	}
	h.poster.Post(ctx, message)
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
