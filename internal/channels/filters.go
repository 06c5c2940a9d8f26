package channels

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Action is what the bot does with an incoming message.
type Action int

const (
	// Respond logs the message and replies.
	Respond Action = iota
	// ReadOnly logs the message without replying.
	ReadOnly
	// Ignore drops the message.
	Ignore
)

func (a Action) String() string {
	switch a {
	case Respond:
		return "respond"
	case ReadOnly:
		return "read_only"
	case Ignore:
		return "ignore"
	}
	return "unknown"
}

// DefaultIgnoredChannels is used when no channels file exists.
var DefaultIgnoredChannels = []string{"general"}

// Filter decides the action for incoming messages.
type Filter struct {
	ignored map[string]bool
}

// NewFilter creates a filter ignoring the named channels.
func NewFilter(ignoredChannels []string) *Filter {
	f := &Filter{ignored: make(map[string]bool, len(ignoredChannels))}
	for _, name := range ignoredChannels {
		f.ignored[name] = true
	}
	return f
}

// Evaluate applies the rules in order:
//  1. bot author: ReadOnly
//  2. mentions, none of them the bot: Ignore
//  3. mentions the bot: Respond
//  4. ignored channel name: Ignore
//  5. anything else, DMs included: Respond
func (f *Filter) Evaluate(msg Inbound, botID string) Action {
	if msg.IsBot {
		return ReadOnly
	}
	if len(msg.Mentions) > 0 {
		for _, id := range msg.Mentions {
			if id == botID {
				return Respond
			}
		}
		return Ignore
	}
	if msg.ChannelName != "" && f.ignored[msg.ChannelName] {
		return Ignore
	}
	return Respond
}

type channelsFile struct {
	IgnoredChannels []string `yaml:"ignored_channels"`
}

// LoadIgnoredChannels reads ignored_channels from a YAML file. A missing
// file yields fallback.
func LoadIgnoredChannels(path string, fallback []string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, nil
		}
		return nil, err
	}
	var cf channelsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cf.IgnoredChannels == nil {
		return []string{}, nil
	}
	return cf.IgnoredChannels, nil
}
