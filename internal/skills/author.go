package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/KafClaw/soulbot/internal/tools"
)

// CreateSkillTool lets the agent author a new dynamic skill. New skills are
// always untrusted.
type CreateSkillTool struct {
	registry *Registry
	userDir  string
	audit    *AuditLog
	now      func() time.Time
}

// NewCreateSkillTool creates the create_skill tool writing into userDir.
func NewCreateSkillTool(registry *Registry, userDir string, audit *AuditLog) *CreateSkillTool {
	return &CreateSkillTool{registry: registry, userDir: userDir, audit: audit, now: time.Now}
}

func (t *CreateSkillTool) Name() string { return "create_skill" }
func (t *CreateSkillTool) Tier() int    { return tools.TierWrite }

func (t *CreateSkillTool) Description() string {
	return "Create a new skill. The code is an executable script (it must start with a #! line naming a " +
		"non-shell interpreter such as python3; the skill runs isolated in a container) " +
		"that reads one JSON line {\"input\",\"tools\"} from stdin, may request tools by printing " +
		"{\"call\",\"args\"} lines, and finishes by printing {\"output\": \"...\"}."
}

func (t *CreateSkillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Skill name (lowercase, hyphens, no spaces)",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What the skill does",
			},
			"trigger": map[string]any{
				"type":        "string",
				"description": "When the skill should be used",
			},
			"code": map[string]any{
				"type":        "string",
				"description": "Executable script body, starting with a #! interpreter line",
			},
			"permissions": map[string]any{
				"type":        "string",
				"description": "Comma-separated tool names the skill may call",
			},
		},
		"required": []string{"name", "description", "trigger", "code"},
	}
}

func (t *CreateSkillTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	name := strings.TrimSpace(tools.GetString(params, "name", ""))
	description := strings.TrimSpace(tools.GetString(params, "description", ""))
	trigger := strings.TrimSpace(tools.GetString(params, "trigger", ""))
	code := tools.GetString(params, "code", "")
	permissions := splitPermissions(tools.GetString(params, "permissions", ""))

	if name == "" || strings.ContainsAny(name, " \t\n") {
		return "Error: Skill name must be non-empty with no spaces. Use hyphens.", nil
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "Error: Skill name must not contain path separators.", nil
	}
	if description == "" || trigger == "" {
		return "Error: description and trigger are required.", nil
	}
	if !strings.HasPrefix(code, "#!") {
		return "Error: Skill code must start with a #! interpreter line.", nil
	}
	firstLine, _, _ := strings.Cut(code, "\n")
	if interp := shebangInterpreter(firstLine); slices.Contains(blockedInterpreterCommands, interp) {
		return fmt.Sprintf("Error: Skill code may not use the shell interpreter '%s'. Agent-authored skills are untrusted and run without shell access; use a language interpreter such as python3.", interp), nil
	}

	dir := filepath.Join(t.userDir, name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Sprintf("Error: Skill '%s' already exists at %s", name, dir), nil
	}

	if err := t.write(dir, name, description, trigger, code, permissions); err != nil {
		os.RemoveAll(dir)
		slog.Error("Failed to create skill", "skill", name, "error", err)
		return fmt.Sprintf("Error creating skill: %v", err), nil
	}

	if t.registry != nil {
		bdir, udir := t.registry.Dirs()
		if udir == "" {
			udir = t.userDir
		}
		t.registry.Reload(bdir, udir)
		if _, ok := t.registry.Get(name); !ok {
			os.RemoveAll(dir)
			return fmt.Sprintf("Error creating skill: '%s' did not load after writing", name), nil
		}
	}

	t.audit.Record("skill_created", map[string]any{
		"skill":       name,
		"permissions": permissions,
	})
	slog.Info("Skill created", "skill", name, "dir", dir)
	return fmt.Sprintf("Skill '%s' created at %s. It is now available for use.", name, dir), nil
}

func (t *CreateSkillTool) write(dir, name, description, trigger, code string, permissions []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	m := &Manifest{
		Name:        name,
		Description: description,
		Trigger:     trigger,
		Permissions: permissions,
		EntryPoint:  DefaultEntryPoint,
		Author:      "agent",
		Trusted:     false,
		Created:     t.now().Format("2006-01-02"),
		Path:        dir,
	}
	if err := WriteManifest(m); err != nil {
		return err
	}
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return os.WriteFile(m.EntryPath(), []byte(code), 0o755)
}

func splitPermissions(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
