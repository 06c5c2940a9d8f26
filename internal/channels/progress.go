package channels

import (
	"context"

	"github.com/KafClaw/soulbot/internal/bus"
)

// ProgressReporter posts plan progress to the chat a request came from.
// It satisfies plan.Reporter and plan.Completer.
type ProgressReporter struct {
	bus     *bus.MessageBus
	channel string
	chatID  string
}

// NewProgressReporter binds a reporter to one chat.
func NewProgressReporter(b *bus.MessageBus, channel, chatID string) *ProgressReporter {
	return &ProgressReporter{bus: b, channel: channel, chatID: chatID}
}

// Report sends a progress update.
func (p *ProgressReporter) Report(ctx context.Context, message string) error {
	return p.publish(ctx, message)
}

// Complete sends the final summary below a separator.
func (p *ProgressReporter) Complete(ctx context.Context, summary string) error {
	return p.publish(ctx, "---\n"+summary)
}

func (p *ProgressReporter) publish(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.bus.PublishOutbound(&bus.OutboundMessage{Channel: p.channel, ChatID: p.chatID, Content: content})
	return nil
}
