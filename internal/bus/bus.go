// Package bus carries chat messages between the platform adapters and the
// agent: inbound turns on one queue, replies fanned out to the adapter that
// owns the channel.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	queueSize = 100
	// publishWait bounds how long an adapter's event handler may block on a
	// full inbound queue before the message is dropped.
	publishWait = 2 * time.Second
)

// InboundMessage is a chat message the agent should answer.
type InboundMessage struct {
	Channel    string    `json:"channel"` // adapter name: discord, slack
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	ChatID     string    `json:"chat_id"`
	SessionID  string    `json:"session_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// OutboundMessage is a reply for one chat.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// MessageBus decouples the platform adapters from the agent.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
	wait     time.Duration
}

// NewMessageBus creates a bus with bounded queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, queueSize),
		outbound: make(chan *OutboundMessage, queueSize),
		subs:     make(map[string][]func(*OutboundMessage)),
		wait:     publishWait,
	}
}

// PublishInbound queues a message for the agent. When the queue stays full
// for longer than the publish wait the message is dropped and false is
// returned, so a stalled agent never wedges the platform event loop.
func (b *MessageBus) PublishInbound(msg *InboundMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.inbound <- msg:
		return true
	default:
	}
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return true
	case <-timer.C:
		slog.Warn("Inbound queue full, dropping message", "channel", msg.Channel, "chat", msg.ChatID, "session", msg.SessionID)
		return false
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound queues a reply for delivery.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers the sender for replies addressed to an adapter.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound delivers replies until ctx is done, then flushes the
// replies already queued so answers finished during shutdown still go out.
// Run it on its own goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.flushOutbound()
			return ctx.Err()
		case msg := <-b.outbound:
			b.deliver(msg)
		}
	}
}

func (b *MessageBus) flushOutbound() {
	for {
		select {
		case msg := <-b.outbound:
			b.deliver(msg)
		default:
			return
		}
	}
}

func (b *MessageBus) deliver(msg *OutboundMessage) {
	b.mu.RLock()
	callbacks := b.subs[msg.Channel]
	b.mu.RUnlock()
	if len(callbacks) == 0 {
		slog.Warn("No subscriber for outbound message", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}
	for _, cb := range callbacks {
		if err := safeDeliver(cb, msg); err != nil {
			slog.Error("Outbound delivery failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		}
	}
}

func safeDeliver(cb func(*OutboundMessage), msg *OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	cb(msg)
	return nil
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
