// Package events publishes agent activity to a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/soulbot/internal/config"
)

// Event types.
const (
	TypeToolCall         = "tool_call"
	TypePlanProgress     = "plan_progress"
	TypeSubagentComplete = "subagent_complete"
	TypeJobRun           = "job_run"
	TypeLifecycle        = "lifecycle"
)

// Event is one record on the topic. It is keyed by SessionID so a
// session's events stay ordered within a partition.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events. A nil *Publisher drops everything, so callers
// never need to check whether the stream is configured.
type Publisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewPublisher returns a publisher for cfg, or nil when no brokers are
// configured.
func NewPublisher(cfg config.EventsConfig) *Publisher {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "soulbot.events"
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	slog.Info("Event stream enabled", "brokers", brokers, "topic", topic)
	return &Publisher{writer: w, topic: topic, timeout: 5 * time.Second}
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Publish writes one event. Failures are logged and returned; the agent
// never depends on the stream.
func (p *Publisher) Publish(ctx context.Context, eventType, sessionID string, data map[string]any) error {
	if p == nil {
		return nil
	}
	evt := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Time:      time.Now().UTC(),
		SessionID: sessionID,
		Data:      data,
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := sessionID
	if key == "" {
		key = eventType
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(eventType)}},
		Time:    evt.Time,
	})
	if err != nil {
		slog.Warn("Failed to publish event", "type", eventType, "topic", p.topic, "error", err)
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
