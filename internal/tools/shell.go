package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CatastrophicPatterns are substrings that block a command outright.
var CatastrophicPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"dd if=/dev/zero of=/dev/",
	"dd if=/dev/random of=/dev/",
	"mkfs.",
	"> /dev/sda",
	">/dev/sda",
	"fdisk /dev/",
}

// DefaultShellTimeout bounds a single shell_exec call.
const DefaultShellTimeout = 30 * time.Second

// IsCatastrophicCommand reports whether command matches a blocked pattern.
func IsCatastrophicCommand(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, p := range CatastrophicPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ShellTool executes shell commands.
type ShellTool struct {
	Timeout time.Duration
	WorkDir string
}

// NewShellTool creates a ShellTool. A zero timeout uses DefaultShellTimeout.
func NewShellTool(timeout time.Duration, workDir string) *ShellTool {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &ShellTool{Timeout: timeout, WorkDir: workDir}
}

func (t *ShellTool) Name() string { return "shell_exec" }
func (t *ShellTool) Tier() int    { return TierHighRisk }

func (t *ShellTool) Description() string {
	return "Execute a shell command and return the output. Catastrophic commands (rm -rf /, dd to disk, mkfs, etc.) are permanently blocked."
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	if strings.TrimSpace(command) == "" {
		return "Error: command is required", nil
	}
	if IsCatastrophicCommand(command) {
		slog.Warn("Blocked catastrophic shell command", "command", command)
		return fmt.Sprintf("Blocked: `%s` could cause catastrophic damage and will never be executed.", command), nil
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Command timed out after %s", formatSeconds(timeout)), nil
	}

	var result strings.Builder
	if out := strings.TrimSpace(stdout.String()); out != "" {
		result.WriteString(out)
	}
	if errOut := strings.TrimSpace(stderr.String()); errOut != "" {
		result.WriteString("\nSTDERR: ")
		result.WriteString(errOut)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Sprintf("Error executing command: %v", err), nil
		}
		fmt.Fprintf(&result, "\nExit code: %d", exitErr.ExitCode())
	}
	if result.Len() == 0 {
		return "(no output)", nil
	}
	return result.String(), nil
}

func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}
