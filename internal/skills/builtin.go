package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BuiltinSkill is a skill shipped with soulbot and backed by a specialist.
type BuiltinSkill struct {
	Name        string
	Description string
	Trigger     string
	Permissions []string
}

// BuiltinCatalog is the builtin skill set.
var BuiltinCatalog = []BuiltinSkill{
	{
		Name:        "research",
		Description: "Search the web and summarize findings with sources.",
		Trigger:     "User asks to research, look up, or investigate a topic",
		Permissions: []string{"web_search", "scrape_url", "http_request"},
	},
	{
		Name:        "system",
		Description: "Run shell commands and file operations on the host.",
		Trigger:     "User asks to check, run, or change something on the server",
		Permissions: []string{"shell_exec", "file_read", "file_write", "list_dir"},
	},
	{
		Name:        "builder",
		Description: "Parse an implementation plan and execute it step by step.",
		Trigger:     "User provides a multi-step plan to build or set up something",
		Permissions: []string{"shell_exec", "file_read", "file_write", "list_dir", "web_search", "http_request"},
	},
	{
		Name:        "briefing",
		Description: "Create a daily digest of news for a list of topics.",
		Trigger:     "User asks for a briefing, digest, or news summary (input: comma-separated topics)",
		Permissions: []string{"web_search"},
	},
}

// EnsureBuiltins writes a manifest for every builtin skill missing from dir.
// Existing manifests are left alone so operators can edit them.
func EnsureBuiltins(dir string) error {
	for _, b := range BuiltinCatalog {
		skillDir := filepath.Join(dir, b.Name)
		if _, err := os.Stat(filepath.Join(skillDir, ManifestFile)); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.MkdirAll(skillDir, 0o755); err != nil {
			return fmt.Errorf("create builtin skill dir: %w", err)
		}
		m := &Manifest{
			Name:        b.Name,
			Description: b.Description,
			Trigger:     b.Trigger,
			Permissions: b.Permissions,
			EntryPoint:  DefaultEntryPoint,
			Author:      "soulbot",
			Trusted:     true,
			Created:     "builtin",
			Path:        skillDir,
		}
		if err := WriteManifest(m); err != nil {
			return fmt.Errorf("write builtin manifest %s: %w", b.Name, err)
		}
	}
	return nil
}
