// Package config provides configuration types and loading for soulbot.
package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Agent     AgentConfig     `json:"agent"`
	Subagents SubagentsConfig `json:"subagents"`
	Channels  ChannelsConfig  `json:"channels"`
	Tools     ToolsConfig     `json:"tools"`
	Skills    SkillsConfig    `json:"skills"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Events    EventsConfig    `json:"events"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig holds the assistant home. Everything else is derived from it.
type PathsConfig struct {
	Home string `json:"home" envconfig:"HOME"`
}

func (p PathsConfig) SoulPath() string         { return filepath.Join(p.Home, "SOUL.md") }
func (p PathsConfig) HeartbeatPath() string    { return filepath.Join(p.Home, "HEARTBEAT.md") }
func (p PathsConfig) MemoryDir() string        { return filepath.Join(p.Home, "memory") }
func (p PathsConfig) SkillsDir() string        { return filepath.Join(p.Home, "skills") }
func (p PathsConfig) BuiltinSkillsDir() string { return filepath.Join(p.Home, "builtin-skills") }
func (p PathsConfig) DataDir() string          { return filepath.Join(p.Home, "data") }
func (p PathsConfig) MessageDBPath() string    { return filepath.Join(p.Home, "data", "messages.sqlite") }
func (p PathsConfig) VectorDir() string        { return filepath.Join(p.Home, "data", "vectors") }
func (p PathsConfig) LogDir() string           { return filepath.Join(p.Home, "logs") }
func (p PathsConfig) ScheduleFile() string     { return filepath.Join(p.Home, "schedule.yaml") }
func (p PathsConfig) ChannelsFile() string     { return filepath.Join(p.Home, "channels.yaml") }

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups model selection and tool-loop settings.
type ModelConfig struct {
	Backend           string  `json:"backend" envconfig:"BACKEND"`
	Name              string  `json:"name" envconfig:"NAME"`
	MaxTokens         int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature       float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxToolIterations int     `json:"maxToolIterations" envconfig:"MAX_TOOL_ITERATIONS"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains completion and embedding endpoint settings.
type ProvidersConfig struct {
	MiniMax    ProviderConfig  `json:"minimax"`
	OpenAI     ProviderConfig  `json:"openai"`
	Anthropic  ProviderConfig  `json:"anthropic"`
	Embeddings EmbeddingConfig `json:"embeddings"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding endpoint used
// by the recall store. An empty APIKey disables recall.
type EmbeddingConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model   string `json:"model" envconfig:"MODEL"`
}

// ---------------------------------------------------------------------------
// Agent – session and memory policy
// ---------------------------------------------------------------------------

// AgentConfig holds session, compaction, recall and plan settings.
type AgentConfig struct {
	MaxSessionMessages int           `json:"maxSessionMessages" envconfig:"MAX_SESSION_MESSAGES"`
	KeepRecent         int           `json:"keepRecent" envconfig:"KEEP_RECENT"`
	RecallResults      int           `json:"recallResults" envconfig:"RECALL_RESULTS"`
	SessionIdleTTL     time.Duration `json:"sessionIdleTTL" envconfig:"SESSION_IDLE_TTL"`
	MaxStepIterations  int           `json:"maxStepIterations" envconfig:"MAX_STEP_ITERATIONS"`
	ResearchDepth      string        `json:"researchDepth" envconfig:"RESEARCH_DEPTH"`
}

// SubagentsConfig bounds background sub-agent execution.
type SubagentsConfig struct {
	MaxConcurrent int `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	MaxDepth      int `json:"maxDepth" envconfig:"MAX_DEPTH"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
	Slack   SlackConfig   `json:"slack"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled             bool     `json:"enabled" envconfig:"ENABLED"`
	Token               string   `json:"token" envconfig:"TOKEN"`
	MonitoringChannelID string   `json:"monitoringChannelId" envconfig:"MONITORING_CHANNEL_ID"`
	IgnoredChannels     []string `json:"ignoredChannels" envconfig:"IGNORED_CHANNELS"`
}

// SlackConfig configures the Slack channel (socket mode).
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken  string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"APP_TOKEN"`
	BotUserID string `json:"botUserId" envconfig:"BOT_USER_ID"`
}

// ---------------------------------------------------------------------------
// Tools
// ---------------------------------------------------------------------------

// ToolsConfig contains tool configurations.
type ToolsConfig struct {
	Exec  ExecToolConfig  `json:"exec"`
	Web   WebToolConfig   `json:"web"`
	Files FilesToolConfig `json:"files"`
}

// ExecToolConfig configures the shell tool.
type ExecToolConfig struct {
	Enabled bool          `json:"enabled" envconfig:"ENABLED"`
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// WebToolConfig configures web search and fetch tools.
type WebToolConfig struct {
	BraveAPIKey      string        `json:"braveApiKey" envconfig:"BRAVE_API_KEY"`
	MaxResults       int           `json:"maxResults" envconfig:"MAX_RESULTS"`
	MaxResponseBytes int           `json:"maxResponseBytes" envconfig:"MAX_RESPONSE_BYTES"`
	Timeout          time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// FilesToolConfig configures file tools.
type FilesToolConfig struct {
	MaxReadBytes int `json:"maxReadBytes" envconfig:"MAX_READ_BYTES"`
}

// ---------------------------------------------------------------------------
// Skills, scheduler, events
// ---------------------------------------------------------------------------

// SkillsConfig configures skill discovery and the dynamic-skill sandbox.
type SkillsConfig struct {
	Watch          bool          `json:"watch" envconfig:"WATCH"`
	ExecTimeout    time.Duration `json:"execTimeout" envconfig:"EXEC_TIMEOUT"`
	MaxOutputBytes int           `json:"maxOutputBytes" envconfig:"MAX_OUTPUT_BYTES"`
	// Isolation is auto, strict or host. Untrusted skills only ever run in
	// a container.
	Isolation    string `json:"isolation" envconfig:"ISOLATION"`
	SandboxImage string `json:"sandboxImage" envconfig:"SANDBOX_IMAGE"`
}

// SchedulerConfig configures the periodic jobs.
type SchedulerConfig struct {
	Enabled           bool   `json:"enabled" envconfig:"ENABLED"`
	Timezone          string `json:"timezone" envconfig:"TIMEZONE"`
	BriefingTime      string `json:"briefingTime" envconfig:"BRIEFING_TIME"`
	CompactionHours   int    `json:"compactionHours" envconfig:"COMPACTION_HOURS"`
	MemoryReviewDay   string `json:"memoryReviewDay" envconfig:"MEMORY_REVIEW_DAY"`
	HeartbeatMinutes  int    `json:"heartbeatMinutes" envconfig:"HEARTBEAT_MINUTES"`
	BriefingChannelID string `json:"briefingChannelId" envconfig:"BRIEFING_CHANNEL_ID"`
	BriefingTopics    string `json:"briefingTopics" envconfig:"BRIEFING_TOPICS"`
}

// EventsConfig configures the Kafka event stream. Empty Brokers disables it.
type EventsConfig struct {
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{Home: defaultHome()},
		Model: ModelConfig{
			Backend:           "minimax",
			Name:              "MiniMax-M2.5",
			MaxTokens:         4096,
			Temperature:       0.7,
			MaxToolIterations: 10,
		},
		Providers: ProvidersConfig{
			MiniMax:    ProviderConfig{APIBase: "https://api.minimax.io/v1"},
			Embeddings: EmbeddingConfig{Model: "text-embedding-3-small"},
		},
		Agent: AgentConfig{
			MaxSessionMessages: 50,
			KeepRecent:         10,
			RecallResults:      5,
			MaxStepIterations:  15,
			ResearchDepth:      "quick",
		},
		Subagents: SubagentsConfig{MaxConcurrent: 5, MaxDepth: 2},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{Enabled: true, IgnoredChannels: []string{"general"}},
		},
		Tools: ToolsConfig{
			Exec:  ExecToolConfig{Enabled: true, Timeout: 30 * time.Second},
			Web:   WebToolConfig{MaxResults: 5, MaxResponseBytes: 100_000, Timeout: 30 * time.Second},
			Files: FilesToolConfig{MaxReadBytes: 500_000},
		},
		Skills: SkillsConfig{Watch: true, ExecTimeout: 30 * time.Second, MaxOutputBytes: 64 * 1024, Isolation: "auto", SandboxImage: "alpine:3.20"},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			Timezone:         "America/Chicago",
			BriefingTime:     "07:00",
			CompactionHours:  6,
			MemoryReviewDay:  "monday",
			HeartbeatMinutes: 5,
		},
		Events: EventsConfig{Topic: "soulbot.events"},
	}
}
