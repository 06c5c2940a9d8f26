package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/timeline"
)

// discordSession is the subset of *discordgo.Session the channel uses.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// DiscordChannel is the primary gateway: a discordgo websocket session.
type DiscordChannel struct {
	BaseChannel
	config config.DiscordConfig

	mu      sync.Mutex
	session discordSession
	started bool
}

// NewDiscordChannel creates the Discord channel.
func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus, tl *timeline.TimelineService, filter *Filter) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: BaseChannel{Bus: messageBus, Timeline: tl, Filter: filter},
		config:      cfg,
	}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if c.session == nil {
		if strings.TrimSpace(c.config.Token) == "" {
			return fmt.Errorf("discord token not configured")
		}
		dg, err := discordgo.New("Bot " + c.config.Token)
		if err != nil {
			return fmt.Errorf("create discord session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent | discordgo.IntentsGuilds
		c.session = dg
	}

	c.session.AddHandler(c.handleReady)
	c.session.AddHandler(c.handleMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.started = true

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("Discord send failed", "chat_id", msg.ChatID, "error", err)
		}
	})
	slog.Info("Discord channel started")
	return nil
}

func (c *DiscordChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.session.Close()
}

// Send posts content to a Discord channel, split to the 2000 char limit.
// The reply is logged to the timeline once, whole.
func (c *DiscordChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return fmt.Errorf("discord session not started")
	}
	for _, chunk := range SplitMessage(msg.Content, DiscordMaxLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	c.SaveReply(msg.ChatID, msg.Content)
	return nil
}

// Notify posts text to a channel id. It backs the monitoring channel.
func (c *DiscordChannel) Notify(ctx context.Context, chatID, text string) error {
	return c.Send(ctx, &bus.OutboundMessage{Channel: c.Name(), ChatID: chatID, Content: text})
}

func (c *DiscordChannel) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	c.BotID = r.User.ID
	c.BotName = r.User.Username
	slog.Info("Bot connected", "user", r.User.Username, "id", r.User.ID)
}

func (c *DiscordChannel) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	name := ""
	if m.GuildID != "" {
		if ch, err := s.State.Channel(m.ChannelID); err == nil {
			name = ch.Name
		} else if ch, err := s.Channel(m.ChannelID); err == nil {
			name = ch.Name
		}
	}
	in := inboundFromDiscord(m.Message, name)
	if c.HandleInbound(in) == Respond {
		if err := s.ChannelTyping(m.ChannelID); err != nil {
			slog.Debug("Discord typing indicator failed", "error", err)
		}
	}
}

func inboundFromDiscord(m *discordgo.Message, channelName string) Inbound {
	in := Inbound{
		Channel:     "discord",
		MessageID:   m.ID,
		SenderID:    m.Author.ID,
		SenderName:  displayName(m),
		ChatID:      m.ChannelID,
		ChannelName: channelName,
		Content:     m.Content,
		IsBot:       m.Author.Bot,
		IsDM:        m.GuildID == "",
	}
	for _, u := range m.Mentions {
		if u != nil {
			in.Mentions = append(in.Mentions, u.ID)
		}
	}
	return in
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
