// Package monitor posts operational events to a dedicated chat channel.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier delivers text to a chat by id.
type Notifier interface {
	Notify(ctx context.Context, chatID, text string) error
}

// Channel is the monitoring channel. Without a notifier or channel id,
// posts are logged instead. Delivery failures are logged, never returned.
type Channel struct {
	notifier  Notifier
	channelID string
	now       func() time.Time
}

// New creates a monitoring channel.
func New(notifier Notifier, channelID string) *Channel {
	return &Channel{notifier: notifier, channelID: channelID, now: time.Now}
}

// Enabled reports whether posts reach a chat.
func (c *Channel) Enabled() bool {
	return c != nil && c.notifier != nil && c.channelID != ""
}

// Post sends a message.
func (c *Channel) Post(ctx context.Context, message string) {
	if !c.Enabled() {
		slog.Warn("Monitoring channel not available, logging instead", "message", message)
		return
	}
	if err := c.notifier.Notify(ctx, c.channelID, message); err != nil {
		slog.Error("Failed to post to monitoring channel", "error", err)
	}
}

// PostError reports an error.
func (c *Channel) PostError(ctx context.Context, message string) {
	c.Post(ctx, "⚠️ **Error:** "+message)
}

func (c *Channel) PostStartup(ctx context.Context) {
	c.Post(ctx, fmt.Sprintf("🟢 **Bot started** at %s", c.stamp()))
}

func (c *Channel) PostShutdown(ctx context.Context) {
	c.Post(ctx, fmt.Sprintf("🔴 **Bot shutting down** at %s", c.stamp()))
}

func (c *Channel) PostSafetyRule(ctx context.Context, rule string) {
	c.Post(ctx, "🛡️ **New safety rule:** "+rule)
}

func (c *Channel) PostCompaction(ctx context.Context, sessionID string) {
	c.Post(ctx, fmt.Sprintf("📦 **Compaction:** Session `%s` was compacted", sessionID))
}

// PostSubagentComplete reports a finished sub-agent; the summary is cut
// to 200 characters.
func (c *Channel) PostSubagentComplete(ctx context.Context, name, summary string) {
	r := []rune(summary)
	if len(r) > 200 {
		summary = string(r[:200])
	}
	c.Post(ctx, fmt.Sprintf("✅ **Sub-agent `%s` complete:** %s", name, summary))
}

func (c *Channel) PostSoulProposal(ctx context.Context, diff, reason string) {
	c.Post(ctx, fmt.Sprintf("✏️ **SOUL.md change proposed**\nReason: %s\n```diff\n%s\n```\nReply with `approve` or `reject`.", reason, diff))
}

func (c *Channel) stamp() string {
	return c.now().UTC().Format("2006-01-02 15:04 UTC")
}
