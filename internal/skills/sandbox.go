package skills

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/KafClaw/soulbot/internal/tools"
)

const (
	defaultExecTimeout    = 30 * time.Second
	defaultMaxOutputBytes = 64 * 1024
	maxProtocolLine       = 1024 * 1024
	defaultSandboxImage   = "alpine:3.20"
)

// Isolation modes.
const (
	// IsolationAuto runs trusted skills on the host and untrusted skills in
	// a container, refusing them when no container runtime exists.
	IsolationAuto = "auto"
	// IsolationStrict runs every dynamic skill in a container.
	IsolationStrict = "strict"
	// IsolationHost never starts containers. Untrusted skills are refused.
	IsolationHost = "host"
)

var blockedInterpreterCommands = []string{
	"sh", "bash", "zsh", "fish", "dash", "ksh", "csh", "tcsh", "ash", "busybox", "cmd", "powershell", "pwsh",
}

// Sandbox runs dynamic skills as separate processes. The child gets a fresh
// scratch directory as its working directory, a minimal environment, a
// wall-clock timeout and bounded output. It can only reach the tools it was
// permitted, through a JSON-line protocol on stdin/stdout:
//
//	soulbot -> skill  {"input": "...", "tools": ["web_search"]}
//	skill -> soulbot  {"call": "web_search", "args": {"query": "..."}}
//	soulbot -> skill  {"result": "..."}
//	skill -> soulbot  {"output": "final answer"}
//
// Any other stdout line is collected as plain output.
//
// Untrusted skills never run on the host: they go to a locked-down
// docker/podman container (no network, read-only root, all capabilities
// dropped, nobody user), and entries interpreted by a shell are refused
// outright. HostExec false puts trusted skills in the container too.
type Sandbox struct {
	ScratchRoot    string
	Timeout        time.Duration
	MaxOutputBytes int
	Isolation      string
	Image          string
	HostExec       bool

	detectRuntime func() (string, bool)
}

// NewSandbox creates a sandbox rooted at scratchRoot.
func NewSandbox(scratchRoot string, timeout time.Duration, maxOutputBytes int) *Sandbox {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}
	return &Sandbox{
		ScratchRoot:    scratchRoot,
		Timeout:        timeout,
		MaxOutputBytes: maxOutputBytes,
		Isolation:      IsolationAuto,
		Image:          defaultSandboxImage,
		HostExec:       true,
		detectRuntime:  detectContainerRuntime,
	}
}

type skillRequest struct {
	Input string   `json:"input"`
	Tools []string `json:"tools"`
}

type skillMessage struct {
	Call   string         `json:"call"`
	Args   map[string]any `json:"args"`
	Output *string        `json:"output"`
}

type toolReply struct {
	Result string `json:"result"`
}

// Run executes the skill's entry point and returns its output. Every
// failure is reported as text.
func (s *Sandbox) Run(ctx context.Context, m *Manifest, input string, permitted []tools.Tool) string {
	entry, err := m.ResolveEntry()
	if err != nil {
		return fmt.Sprintf("Skill '%s' blocked: %v", m.Name, err)
	}
	info, err := os.Stat(entry)
	if err != nil {
		return fmt.Sprintf("Skill '%s' entry point not found: %s", m.Name, entry)
	}
	if !runnable(entry, info) {
		return fmt.Sprintf("Skill '%s' has no run entry in %s", m.Name, m.EntryPoint)
	}
	if err := enforceSkillPolicy(m, entryInterpreter(entry)); err != nil {
		slog.Warn("Skill blocked by sandbox policy", "skill", m.Name, "trusted", m.Trusted, "error", err)
		return fmt.Sprintf("Skill '%s' blocked: %v", m.Name, err)
	}
	runtimeBin, err := s.placement(m)
	if err != nil {
		slog.Warn("Skill refused by isolation mode", "skill", m.Name, "mode", s.isolation(), "error", err)
		return fmt.Sprintf("Skill '%s' blocked: %v", m.Name, err)
	}

	scratch, err := prepareSkillScratch(s.ScratchRoot, m.Name)
	if err != nil {
		return fmt.Sprintf("Skill '%s' failed: %v", m.Name, err)
	}
	defer os.RemoveAll(scratch)

	timeout, maxOutput := s.limits(m.Sandbox)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtimeBin != "" {
		cmd = s.containerCommand(runCtx, runtimeBin, m, entry, scratch)
	} else {
		cmd = hostCommand(runCtx, m, entry, scratch)
	}

	start := time.Now()
	out, err := runProtocol(runCtx, cmd, m.Name, input, permitted, maxOutput)
	slog.Info("Dynamic skill finished", "skill", m.Name, "isolated", runtimeBin != "", "duration_ms", time.Since(start).Milliseconds(), "error", err)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Sprintf("Skill '%s' failed: timed out after %s", m.Name, timeout)
		}
		return fmt.Sprintf("Skill '%s' failed: %v", m.Name, err)
	}
	if out == "" {
		return "(no output)"
	}
	return out
}

func (s *Sandbox) isolation() string {
	switch mode := strings.ToLower(strings.TrimSpace(s.Isolation)); mode {
	case IsolationStrict, IsolationHost:
		return mode
	default:
		return IsolationAuto
	}
}

// placement returns the container runtime to use, or "" for the host.
func (s *Sandbox) placement(m *Manifest) (string, error) {
	mode := s.isolation()
	if mode != IsolationStrict && m.Trusted && s.HostExec {
		return "", nil
	}
	if mode == IsolationHost {
		if !m.Trusted {
			return "", errors.New("untrusted skills need container isolation")
		}
		return "", errors.New("host execution is disabled")
	}
	detect := s.detectRuntime
	if detect == nil {
		detect = detectContainerRuntime
	}
	runtimeBin, ok := detect()
	if !ok {
		return "", errors.New("no container runtime (docker/podman) found for isolated execution")
	}
	return runtimeBin, nil
}

func (s *Sandbox) limits(p SandboxPolicy) (time.Duration, int) {
	timeout, maxOutput := s.Timeout, s.MaxOutputBytes
	if d := time.Duration(p.TimeoutSeconds) * time.Second; d > 0 && d < timeout {
		timeout = d
	}
	if p.MaxOutputBytes > 0 && p.MaxOutputBytes < maxOutput {
		maxOutput = p.MaxOutputBytes
	}
	return timeout, maxOutput
}

func hostCommand(ctx context.Context, m *Manifest, entry, scratch string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, entry)
	cmd.Dir = scratch
	cmd.Env = minimalRuntimeEnv(scratch, m.Path, m.Sandbox.Network)
	return cmd
}

// containerCommand runs the entry inside a throwaway container with the
// skill directory mounted read-only at /skill and the scratch dir at /work.
// The container inherits the host environment of the runtime CLI only.
func (s *Sandbox) containerCommand(ctx context.Context, runtimeBin string, m *Manifest, entry, scratch string) *exec.Cmd {
	image := strings.TrimSpace(s.Image)
	if image == "" {
		image = defaultSandboxImage
	}
	rel, err := filepath.Rel(m.Path, entry)
	if err != nil {
		rel = DefaultEntryPoint
	}
	network := "none"
	if m.Trusted && m.Sandbox.Network {
		network = "bridge"
	}
	args := []string{
		"run", "--rm", "-i",
		"--network", network,
		"--read-only",
		"--pids-limit", "64",
		"--memory", "256m",
		"--cpus", "1.0",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--user", "65534:65534",
		"-v", m.Path + ":/skill:ro",
		"-v", scratch + ":/work:rw",
		"-w", "/work",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"-e", "HOME=/work",
		"-e", "TMPDIR=/tmp",
		"-e", "SOULBOT_SKILL_DIR=/skill",
		"-e", "SOULBOT_SKILL_NETWORK=" + networkLabel(network != "none"),
		image,
		"/skill/" + filepath.ToSlash(rel),
	}
	return exec.CommandContext(ctx, runtimeBin, args...)
}

func detectContainerRuntime() (string, bool) {
	for _, name := range []string{"docker", "podman"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// enforceSkillPolicy checks the entry interpreter against the manifest's
// allow and deny lists. Untrusted skills may never be interpreted by a
// shell.
func enforceSkillPolicy(m *Manifest, interpreter string) error {
	allow := normalizeCommandList(m.Sandbox.AllowCommands)
	deny := normalizeCommandList(m.Sandbox.DenyCommands)
	label := interpreter
	if label == "" {
		label = "native binary"
	}
	if len(allow) > 0 && !slices.Contains(allow, interpreter) {
		return fmt.Errorf("%s not in allow_commands", label)
	}
	if interpreter != "" && slices.Contains(deny, interpreter) {
		return fmt.Errorf("%s is in deny_commands", label)
	}
	if !m.Trusted && slices.Contains(blockedInterpreterCommands, interpreter) {
		return fmt.Errorf("shell interpreter %q is not allowed for untrusted skills", interpreter)
	}
	return nil
}

// entryInterpreter returns the base name of the program a #! line starts,
// looking through env. Native binaries return "".
func entryInterpreter(entry string) string {
	f, err := os.Open(entry)
	if err != nil {
		return ""
	}
	defer f.Close()
	line, _ := bufio.NewReader(f).ReadString('\n')
	return shebangInterpreter(line)
}

func shebangInterpreter(line string) string {
	if !strings.HasPrefix(line, "#!") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return ""
	}
	prog := strings.ToLower(filepath.Base(fields[0]))
	if prog != "env" {
		return prog
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") || strings.Contains(f, "=") {
			continue
		}
		return strings.ToLower(filepath.Base(f))
	}
	return prog
}

func normalizeCommandList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(filepath.Base(strings.TrimSpace(v)))
		if v != "" && v != "." {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func runProtocol(ctx context.Context, cmd *exec.Cmd, skill, input string, permitted []tools.Tool, maxOutput int) (string, error) {
	cmd.WaitDelay = 2 * time.Second
	stderr := newLimitedBuffer(maxOutput)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", err
	}

	toolMap := make(map[string]tools.Tool, len(permitted))
	for _, t := range permitted {
		toolMap[t.Name()] = t
	}
	enc := json.NewEncoder(stdin)
	if err := enc.Encode(skillRequest{Input: input, Tools: tools.Names(permitted)}); err != nil {
		slog.Warn("Failed to send skill input", "skill", skill, "error", err)
	}

	plain := newLimitedBuffer(maxOutput)
	var final *string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxProtocolLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg skillMessage
		if len(bytes.TrimSpace(line)) > 0 && line[0] == '{' && json.Unmarshal(line, &msg) == nil {
			if msg.Output != nil {
				final = msg.Output
				break
			}
			if msg.Call != "" {
				result := callTool(ctx, skill, toolMap, msg.Call, msg.Args)
				if err := enc.Encode(toolReply{Result: result}); err != nil {
					slog.Warn("Failed to send tool result to skill", "skill", skill, "error", err)
				}
				continue
			}
		}
		plain.Write(line)
		plain.Write([]byte("\n"))
	}
	_ = stdin.Close()
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	if final != nil {
		return *final, nil
	}
	return strings.TrimSpace(plain.String()), nil
}

func callTool(ctx context.Context, skill string, toolMap map[string]tools.Tool, name string, args map[string]any) (result string) {
	t, ok := toolMap[name]
	if !ok {
		slog.Warn("Skill requested a tool it is not permitted", "skill", skill, "tool", name)
		return fmt.Sprintf("Error: tool '%s' is not permitted for this skill", name)
	}
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("Error executing %s: %v", name, r)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", name, err)
	}
	return out
}

// runnable reports whether entry is an executable regular file that starts
// with an interpreter line or is a native binary.
func runnable(entry string, info os.FileInfo) bool {
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return false
	}
	f, err := os.Open(entry)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	return bytes.HasPrefix(head, []byte("#!")) || bytes.HasPrefix(head, []byte("\x7fELF")) || isMachO(head)
}

func isMachO(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	for _, magic := range [][]byte{{0xfe, 0xed, 0xfa, 0xcf}, {0xcf, 0xfa, 0xed, 0xfe}, {0xca, 0xfe, 0xba, 0xbe}} {
		if bytes.Equal(head, magic) {
			return true
		}
	}
	return false
}

func prepareSkillScratch(root, skill string) (string, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, sanitizeSkillName(skill), fmt.Sprintf("run-%d", time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sanitizeSkillName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "-")
	name = strings.ReplaceAll(name, "..", "-")
	if name == "" {
		return "skill"
	}
	return name
}

func minimalRuntimeEnv(scratch, skillDir string, network bool) []string {
	path := os.Getenv("PATH")
	if strings.TrimSpace(path) == "" {
		path = "/usr/bin:/bin"
	}
	env := []string{
		"PATH=" + path,
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
		"SOULBOT_SKILL_DIR=" + skillDir,
		"SOULBOT_SKILL_NETWORK=" + networkLabel(network),
	}
	if !network {
		env = append(env, "HTTP_PROXY=", "HTTPS_PROXY=", "ALL_PROXY=", "NO_PROXY=*")
	}
	return env
}

func networkLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

type limitedBuffer struct {
	buf       bytes.Buffer
	maxBytes  int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{maxBytes: max}
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.maxBytes - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string { return l.buf.String() }

func (l *limitedBuffer) Truncated() bool { return l.truncated }

var _ io.Writer = (*limitedBuffer)(nil)
