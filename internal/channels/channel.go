// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"
	"log/slog"
	"strings"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/timeline"
)

// Channel defines the interface for chat platforms (Discord, Slack).
type Channel interface {
	// Name returns the channel name (e.g. "discord").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// Inbound is a platform message reduced to what filtering and routing need.
type Inbound struct {
	Channel     string
	MessageID   string
	SenderID    string
	SenderName  string
	ChatID      string
	ChannelName string
	Content     string
	IsBot       bool
	IsDM        bool
	// Mentions lists the user ids mentioned in the message.
	Mentions []string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus      *bus.MessageBus
	Timeline *timeline.TimelineService
	Filter   *Filter
	// BotID is the platform user id of the bot itself.
	BotID   string
	BotName string
}

// HandleInbound filters msg, logs it, and publishes it to the agent when it
// calls for a reply. It returns the action taken.
func (c *BaseChannel) HandleInbound(msg Inbound) Action {
	if c.BotID != "" && msg.SenderID == c.BotID {
		return Ignore
	}
	action := Respond
	if c.Filter != nil {
		action = c.Filter.Evaluate(msg, c.BotID)
	}
	if action == Ignore {
		return action
	}

	c.saveIncoming(msg)

	if action == ReadOnly {
		slog.Debug("Read-only message", "channel", msg.Channel, "sender", msg.SenderName, "preview", preview(msg.Content, 50))
		return action
	}

	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:    msg.Channel,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		ChatID:     msg.ChatID,
		SessionID:  SessionID(msg),
		Content:    stripMention(msg.Content, msg.Channel, c.BotID),
		MessageID:  msg.MessageID,
	})
	return action
}

func (c *BaseChannel) saveIncoming(msg Inbound) {
	if c.Timeline == nil {
		return
	}
	rec := &timeline.Message{
		ChannelID: msg.ChatID,
		UserID:    msg.SenderID,
		UserName:  msg.SenderName,
		Content:   msg.Content,
		IsBot:     msg.IsBot,
	}
	if msg.IsBot {
		rec.BotName = msg.SenderName
	}
	if _, err := c.Timeline.SaveMessage(rec); err != nil {
		slog.Error("Failed to save incoming message", "channel", msg.Channel, "error", err)
	}
}

// SaveReply logs a bot reply. Failures are logged only.
func (c *BaseChannel) SaveReply(chatID, content string) {
	if c.Timeline == nil {
		return
	}
	name := c.BotName
	if name == "" {
		name = "assistant"
	}
	userID := c.BotID
	if userID == "" {
		userID = "0"
	}
	_, err := c.Timeline.SaveMessage(&timeline.Message{
		ChannelID: chatID,
		UserID:    userID,
		UserName:  name,
		Content:   content,
		IsBot:     true,
		BotName:   name,
	})
	if err != nil {
		slog.Error("Failed to save bot response", "error", err)
	}
}

// stripMention removes the bot's own mention markup from content.
func stripMention(content, channel, botID string) string {
	if botID == "" {
		return content
	}
	var tokens []string
	switch channel {
	case "discord":
		tokens = []string{"<@" + botID + ">", "<@!" + botID + ">"}
	case "slack":
		tokens = []string{"<@" + botID + ">"}
	}
	for _, tok := range tokens {
		content = strings.ReplaceAll(content, tok, "")
	}
	return strings.TrimSpace(content)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
