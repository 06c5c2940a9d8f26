package channels

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack/slackevents"

	"github.com/KafClaw/soulbot/internal/bus"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/timeline"
)

func TestFilterEvaluate(t *testing.T) {
	f := NewFilter([]string{"general"})
	tests := []struct {
		name string
		msg  Inbound
		want Action
	}{
		{"bot author", Inbound{IsBot: true, Mentions: []string{"me"}}, ReadOnly},
		{"mentions other", Inbound{Mentions: []string{"alice"}}, Ignore},
		{"mentions bot among others", Inbound{Mentions: []string{"alice", "me"}, ChannelName: "general"}, Respond},
		{"ignored channel", Inbound{ChannelName: "general"}, Ignore},
		{"dm", Inbound{IsDM: true}, Respond},
		{"other channel", Inbound{ChannelName: "ops"}, Respond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Evaluate(tt.msg, "me"); got != tt.want {
				t.Fatalf("Evaluate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLoadIgnoredChannels(t *testing.T) {
	dir := t.TempDir()
	got, err := LoadIgnoredChannels(filepath.Join(dir, "missing.yaml"), DefaultIgnoredChannels)
	if err != nil || len(got) != 1 || got[0] != "general" {
		t.Fatalf("missing file = %v, %v", got, err)
	}

	path := filepath.Join(dir, "channels.yaml")
	if err := os.WriteFile(path, []byte("ignored_channels:\n  - random\n  - off-topic\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadIgnoredChannels(path, DefaultIgnoredChannels)
	if err != nil || strings.Join(got, ",") != "random,off-topic" {
		t.Fatalf("file = %v, %v", got, err)
	}
}

func TestSessionID(t *testing.T) {
	if got := SessionID(Inbound{IsDM: true, SenderID: "u1", ChatID: "d9"}); got != "dm-u1" {
		t.Fatalf("dm session = %q", got)
	}
	if got := SessionID(Inbound{SenderID: "u1", ChatID: "c7"}); got != "channel-c7" {
		t.Fatalf("channel session = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	got := SplitMessage("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Fatalf("newline split = %q", got)
	}

	got = SplitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[0]) != 10 || len(got[2]) != 5 {
		t.Fatalf("hard split = %q", got)
	}

	long := strings.Repeat("é", 2500)
	for _, chunk := range SplitMessage(long, DiscordMaxLength) {
		if n := len([]rune(chunk)); n > DiscordMaxLength {
			t.Fatalf("chunk of %d runes", n)
		}
	}
}

func TestFormatCodeBlock(t *testing.T) {
	if got := FormatCodeBlock("ls -la", "bash"); got != "```bash\nls -la\n```" {
		t.Fatalf("got %q", got)
	}
}

func newTestTimeline(t *testing.T) *timeline.TimelineService {
	t.Helper()
	tl, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "messages.sqlite"))
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

func TestHandleInboundPublishesAndLogs(t *testing.T) {
	b := bus.NewMessageBus()
	tl := newTestTimeline(t)
	c := &BaseChannel{Bus: b, Timeline: tl, Filter: NewFilter([]string{"general"}), BotID: "me"}

	if got := c.HandleInbound(Inbound{Channel: "discord", SenderID: "u1", SenderName: "alice", ChatID: "c1", Content: "<@me> status?", Mentions: []string{"me"}}); got != Respond {
		t.Fatalf("action = %s", got)
	}
	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if msg.SessionID != "channel-c1" || msg.Content != "status?" || msg.SenderName != "alice" {
		t.Fatalf("published = %+v", msg)
	}

	if got := c.HandleInbound(Inbound{Channel: "discord", SenderID: "b2", SenderName: "otherbot", ChatID: "c1", Content: "beep", IsBot: true}); got != ReadOnly {
		t.Fatalf("bot action = %s", got)
	}
	if got := c.HandleInbound(Inbound{Channel: "discord", SenderID: "u1", ChatID: "c2", ChannelName: "general", Content: "noise"}); got != Ignore {
		t.Fatalf("ignored action = %s", got)
	}
	if got := c.HandleInbound(Inbound{Channel: "discord", SenderID: "me", ChatID: "c1", Content: "my own"}); got != Ignore {
		t.Fatalf("self action = %s", got)
	}
	if b.InboundSize() != 0 {
		t.Fatalf("only the respond message should reach the bus, %d pending", b.InboundSize())
	}

	logged, _ := tl.GetMessages("c1", 10)
	if len(logged) != 2 || !logged[1].IsBot || logged[1].BotName != "otherbot" {
		t.Fatalf("logged = %+v", logged)
	}
	if n, _ := tl.CountMessages(); n != 2 {
		t.Fatalf("ignored messages must not be logged, count = %d", n)
	}
}

type fakeDiscordSession struct {
	sent    []string
	sendErr error
}

func (f *fakeDiscordSession) AddHandler(interface{}) func() { return func() {} }
func (f *fakeDiscordSession) Open() error                    { return nil }
func (f *fakeDiscordSession) Close() error                   { return nil }
func (f *fakeDiscordSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	return nil
}
func (f *fakeDiscordSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func TestDiscordSendChunksAndLogsOnce(t *testing.T) {
	tl := newTestTimeline(t)
	fake := &fakeDiscordSession{}
	c := NewDiscordChannel(config.DiscordConfig{Enabled: true}, bus.NewMessageBus(), tl, nil)
	c.session = fake

	content := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	if err := c.Send(context.Background(), &bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: content}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(fake.sent))
	}
	if n, _ := tl.CountMessages(); n != 1 {
		t.Fatalf("reply should be logged once, got %d", n)
	}

	fake.sendErr = errors.New("rate limited")
	if err := c.Send(context.Background(), &bus.OutboundMessage{ChatID: "c1", Content: "x"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestInboundFromDiscord(t *testing.T) {
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hi <@me>",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Member:    &discordgo.Member{Nick: "Al"},
		Mentions:  []*discordgo.User{{ID: "me"}},
	}
	in := inboundFromDiscord(m, "")
	if !in.IsDM || in.SenderName != "Al" || len(in.Mentions) != 1 || in.Mentions[0] != "me" {
		t.Fatalf("dm inbound = %+v", in)
	}
	m.GuildID = "g1"
	if in := inboundFromDiscord(m, "ops"); in.IsDM || in.ChannelName != "ops" {
		t.Fatalf("guild inbound = %+v", in)
	}
}

func TestInboundFromSlack(t *testing.T) {
	ev := &slackevents.MessageEvent{User: "U1", Channel: "C9", Text: "<@UBOT> deploy", TimeStamp: "1.2"}
	in := inboundFromSlack(ev)
	if in.IsDM || in.IsBot || len(in.Mentions) != 1 || in.Mentions[0] != "UBOT" {
		t.Fatalf("inbound = %+v", in)
	}
	if got := stripMention(in.Content, "slack", "UBOT"); got != "deploy" {
		t.Fatalf("stripped = %q", got)
	}

	dm := inboundFromSlack(&slackevents.MessageEvent{User: "U1", Channel: "D1", ChannelType: "im", Text: "hi"})
	if !dm.IsDM || SessionID(dm) != "dm-U1" {
		t.Fatalf("dm inbound = %+v", dm)
	}
}

func TestProgressReporter(t *testing.T) {
	b := bus.NewMessageBus()
	got := make(chan string, 2)
	b.Subscribe("discord", func(m *bus.OutboundMessage) { got <- m.ChatID + "|" + m.Content })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	r := NewProgressReporter(b, "discord", "c1")
	if err := r.Report(ctx, "step 1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx, "done"); err != nil {
		t.Fatal(err)
	}
	if v := <-got; v != "c1|step 1" {
		t.Fatalf("report = %q", v)
	}
	if v := <-got; v != "c1|---\ndone" {
		t.Fatalf("complete = %q", v)
	}
}
