// Package skills discovers skill manifests, dispatches skills to builtin
// specialists or sandboxed executables, and lets the agent author new ones.
package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest file name inside a skill directory.
const ManifestFile = "manifest.yaml"

// DefaultEntryPoint is the executable run for dynamic skills when the
// manifest names none.
const DefaultEntryPoint = "run"

// Manifest describes one skill.
type Manifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Trigger     string   `yaml:"trigger"`
	Permissions []string `yaml:"permissions"`
	EntryPoint  string   `yaml:"entry_point"`
	Author      string   `yaml:"author"`
	Trusted     bool     `yaml:"trusted"`
	Created     string   `yaml:"created"`

	// Sandbox narrows how a dynamic skill may run.
	Sandbox SandboxPolicy `yaml:"sandbox,omitempty"`

	// Path is the skill directory. It is not part of the file.
	Path string `yaml:"-"`
}

// SandboxPolicy is the optional sandbox block of a manifest. Commands
// name entry interpreters (sh, python3, ...) and match on base name.
// Limits can only tighten the sandbox defaults.
type SandboxPolicy struct {
	Network        bool     `yaml:"network,omitempty"`
	AllowCommands  []string `yaml:"allow_commands,omitempty"`
	DenyCommands   []string `yaml:"deny_commands,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	MaxOutputBytes int      `yaml:"max_output_bytes,omitempty"`
}

// EntryPath returns the path of the entry executable. Use ResolveEntry
// before executing it.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Path, m.EntryPoint)
}

// ResolveEntry returns the entry path, rejecting entry points that are
// absolute or resolve outside the skill directory.
func (m *Manifest) ResolveEntry() (string, error) {
	if err := checkEntryPoint(m.EntryPoint); err != nil {
		return "", err
	}
	return m.EntryPath(), nil
}

func checkEntryPoint(entry string) error {
	if filepath.IsAbs(entry) || strings.HasPrefix(entry, "/") || strings.HasPrefix(entry, `\`) {
		return fmt.Errorf("entry_point %q must be relative to the skill directory", entry)
	}
	rel := filepath.Clean(filepath.FromSlash(entry))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry_point %q escapes the skill directory", entry)
	}
	return nil
}

// TrustLabel renders the trust flag.
func (m *Manifest) TrustLabel() string {
	if m.Trusted {
		return "trusted"
	}
	return "untrusted"
}

// ParseManifest decodes manifest YAML and applies defaults. name,
// description and trigger are required.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	switch {
	case m.Name == "":
		return nil, errors.New("manifest missing name")
	case m.Description == "":
		return nil, errors.New("manifest missing description")
	case m.Trigger == "":
		return nil, errors.New("manifest missing trigger")
	}
	if m.EntryPoint == "" {
		m.EntryPoint = DefaultEntryPoint
	}
	if err := checkEntryPoint(m.EntryPoint); err != nil {
		return nil, err
	}
	if m.Author == "" {
		m.Author = "unknown"
	}
	if m.Created == "" {
		m.Created = "unknown"
	}
	if m.Permissions == nil {
		m.Permissions = []string{}
	}
	m.Path = dir
	return &m, nil
}

// LoadManifests reads every <dir>/<skill>/manifest.yaml in directory order.
// Directories without a manifest, and manifests that fail to parse, are
// skipped with a log line. A missing dir yields no manifests.
func LoadManifests(dir string) []*Manifest {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read skills directory", "dir", dir, "error", err)
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(filepath.Join(skillDir, ManifestFile))
		if err != nil {
			slog.Warn("Skill has no manifest.yaml, skipping", "skill", e.Name())
			continue
		}
		m, err := ParseManifest(data, skillDir)
		if err != nil {
			slog.Error("Failed to load skill", "skill", e.Name(), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// WriteManifest writes m to <m.Path>/manifest.yaml.
func WriteManifest(m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(m.Path, ManifestFile), data, 0o644)
}
