package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// HomeDirName is the default assistant home directory name.
	HomeDirName = ".soulbot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SOULBOT_CONFIG")); explicit != "" {
		return expandTilde(explicit)
	}
	home, err := resolveHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFile), nil
}

// resolveHome returns the assistant home, honouring SOULBOT_HOME.
func resolveHome() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SOULBOT_HOME")); h != "" {
		return expandTilde(h)
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, HomeDirName), nil
}

func defaultHome() string {
	home, err := resolveHome()
	if err != nil {
		return HomeDirName
	}
	return home
}

func expandTilde(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load builds the configuration from defaults, env files, the JSON config
// file and SOULBOT_* environment variables, in that order.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	envconfig.Process("SOULBOT_PATHS", &cfg.Paths)
	envconfig.Process("SOULBOT_MODEL", &cfg.Model)
	envconfig.Process("SOULBOT_MINIMAX", &cfg.Providers.MiniMax)
	envconfig.Process("SOULBOT_OPENAI", &cfg.Providers.OpenAI)
	envconfig.Process("SOULBOT_ANTHROPIC", &cfg.Providers.Anthropic)
	envconfig.Process("SOULBOT_EMBEDDINGS", &cfg.Providers.Embeddings)
	envconfig.Process("SOULBOT_AGENT", &cfg.Agent)
	envconfig.Process("SOULBOT_SUBAGENTS", &cfg.Subagents)
	envconfig.Process("SOULBOT_CHANNELS_DISCORD", &cfg.Channels.Discord)
	envconfig.Process("SOULBOT_CHANNELS_SLACK", &cfg.Channels.Slack)
	envconfig.Process("SOULBOT_TOOLS_EXEC", &cfg.Tools.Exec)
	envconfig.Process("SOULBOT_TOOLS_WEB", &cfg.Tools.Web)
	envconfig.Process("SOULBOT_TOOLS_FILES", &cfg.Tools.Files)
	envconfig.Process("SOULBOT_SKILLS", &cfg.Skills)
	envconfig.Process("SOULBOT_SCHEDULER", &cfg.Scheduler)
	envconfig.Process("SOULBOT_EVENTS", &cfg.Events)

	// Conventional variable names used by the upstream services.
	fallback := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	fallback(&cfg.Channels.Discord.Token, "DISCORD_TOKEN")
	fallback(&cfg.Channels.Slack.BotToken, "SLACK_BOT_TOKEN")
	fallback(&cfg.Channels.Slack.AppToken, "SLACK_APP_TOKEN")
	fallback(&cfg.Providers.MiniMax.APIKey, "MINIMAX_API_KEY")
	fallback(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY", "OPENROUTER_API_KEY")
	fallback(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fallback(&cfg.Providers.Embeddings.APIKey, "OPENAI_API_KEY")
	fallback(&cfg.Tools.Web.BraveAPIKey, "BRAVE_API_KEY")
	fallback(&cfg.Channels.Discord.MonitoringChannelID, "MONITORING_CHANNEL_ID")

	if home, err := expandTilde(cfg.Paths.Home); err == nil {
		cfg.Paths.Home = home
	}
	applyFloors(cfg)
	return cfg, nil
}

// applyFloors replaces non-positive limits with their defaults.
func applyFloors(cfg *Config) {
	d := DefaultConfig()
	floorInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	floorInt(&cfg.Model.MaxToolIterations, d.Model.MaxToolIterations)
	floorInt(&cfg.Agent.MaxSessionMessages, d.Agent.MaxSessionMessages)
	floorInt(&cfg.Agent.KeepRecent, d.Agent.KeepRecent)
	floorInt(&cfg.Agent.RecallResults, d.Agent.RecallResults)
	floorInt(&cfg.Agent.MaxStepIterations, d.Agent.MaxStepIterations)
	floorInt(&cfg.Subagents.MaxConcurrent, d.Subagents.MaxConcurrent)
	if cfg.Subagents.MaxDepth < 0 {
		cfg.Subagents.MaxDepth = d.Subagents.MaxDepth
	}
	if cfg.Tools.Exec.Timeout <= 0 {
		cfg.Tools.Exec.Timeout = d.Tools.Exec.Timeout
	}
	if cfg.Tools.Web.Timeout <= 0 {
		cfg.Tools.Web.Timeout = d.Tools.Web.Timeout
	}
	floorInt(&cfg.Tools.Web.MaxResponseBytes, d.Tools.Web.MaxResponseBytes)
	floorInt(&cfg.Tools.Web.MaxResults, d.Tools.Web.MaxResults)
	floorInt(&cfg.Tools.Files.MaxReadBytes, d.Tools.Files.MaxReadBytes)
	if cfg.Skills.ExecTimeout <= 0 {
		cfg.Skills.ExecTimeout = d.Skills.ExecTimeout
	}
	floorInt(&cfg.Skills.MaxOutputBytes, d.Skills.MaxOutputBytes)
	if cfg.Skills.Isolation == "" {
		cfg.Skills.Isolation = d.Skills.Isolation
	}
	if cfg.Skills.SandboxImage == "" {
		cfg.Skills.SandboxImage = d.Skills.SandboxImage
	}
	floorInt(&cfg.Scheduler.CompactionHours, d.Scheduler.CompactionHours)
	floorInt(&cfg.Scheduler.HeartbeatMinutes, d.Scheduler.HeartbeatMinutes)
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = d.Events.Topic
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDirs creates the assistant home layout.
func EnsureDirs(cfg *Config) error {
	for _, dir := range []string{
		cfg.Paths.Home,
		cfg.Paths.MemoryDir(),
		cfg.Paths.SkillsDir(),
		cfg.Paths.DataDir(),
		cfg.Paths.LogDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}

		existing, ok := dst[key]
		if !ok {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		dstMap, dstIsMap := existing.(map[string]any)
		if !dstIsMap {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
