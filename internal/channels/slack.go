package channels

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/timeline"
)

// slackMaxLength keeps posts well inside Slack's text limit.
const slackMaxLength = 3000

var slackMention = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackChannel receives events over socket mode and posts with the Web API.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	client slackPoster
	socket *socketmode.Client
	cancel context.CancelFunc
}

func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, tl *timeline.TimelineService, filter *Filter) *SlackChannel {
	c := &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus, Timeline: tl, Filter: filter, BotID: cfg.BotUserID},
		config:      cfg,
	}
	return c
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if c.config.BotToken == "" || c.config.AppToken == "" {
		return fmt.Errorf("slack bot and app tokens are required for socket mode")
	}
	api := slack.New(c.config.BotToken, slack.OptionAppLevelToken(c.config.AppToken))
	c.client = api
	c.socket = socketmode.New(api, socketmode.OptionDebug(false))

	if c.BotID == "" {
		if auth, err := api.AuthTestContext(ctx); err == nil {
			c.BotID = auth.UserID
			c.BotName = auth.User
		} else {
			slog.Warn("Slack auth test failed", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.eventLoop(runCtx)
	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
	}()

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("Slack send failed", "chat_id", msg.ChatID, "error", err)
		}
	})
	slog.Info("Slack channel started")
	return nil
}

func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.client == nil {
		return fmt.Errorf("slack client not started")
	}
	for _, chunk := range SplitMessage(msg.Content, slackMaxLength) {
		if _, _, err := c.client.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("slack post: %w", err)
		}
	}
	c.SaveReply(msg.ChatID, msg.Content)
	return nil
}

func (c *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnectionError:
				slog.Warn("Slack connection error", "data", event.Data)
			case socketmode.EventTypeConnected:
				slog.Info("Slack connected to socket mode")
			case socketmode.EventTypeEventsAPI:
				c.socket.Ack(*event.Request)
				if api, ok := event.Data.(slackevents.EventsAPIEvent); ok {
					c.handleEventsAPI(api)
				}
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				c.socket.Ack(*event.Request)
			}
		}
	}
}

// handleEventsAPI consumes message events only. App mentions arrive as
// message events too, so app_mention is not handled separately.
func (c *SlackChannel) handleEventsAPI(api slackevents.EventsAPIEvent) {
	if api.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := api.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.SubType != "" && ev.SubType != "bot_message" && ev.SubType != "file_share" {
		return
	}
	c.HandleInbound(inboundFromSlack(ev))
}

func inboundFromSlack(ev *slackevents.MessageEvent) Inbound {
	sender := ev.User
	if sender == "" {
		sender = ev.BotID
	}
	name := ev.Username
	if name == "" {
		name = sender
	}
	in := Inbound{
		Channel:    "slack",
		MessageID:  ev.TimeStamp,
		SenderID:   sender,
		SenderName: name,
		ChatID:     ev.Channel,
		Content:    ev.Text,
		IsBot:      ev.BotID != "",
		IsDM:       ev.ChannelType == "im" || strings.HasPrefix(ev.Channel, "D"),
	}
	for _, m := range slackMention.FindAllStringSubmatch(ev.Text, -1) {
		in.Mentions = append(in.Mentions, m[1])
	}
	return in
}
