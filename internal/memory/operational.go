package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Operational memory section keys, in prompt order.
const (
	SectionSafetyRules      = "safety_rules"
	SectionPreferences      = "preferences"
	SectionOperationalNotes = "operational_notes"
)

// SectionOrder lists the sections in the order they are injected.
var SectionOrder = []string{SectionSafetyRules, SectionPreferences, SectionOperationalNotes}

const timestampLayout = "2006-01-02 15:04 UTC"

var sectionFiles = map[string]struct{ file, header string }{
	SectionSafetyRules:      {"safety-rules.md", "# Safety Rules\n\n"},
	SectionPreferences:      {"preferences.md", "# Preferences\n\n"},
	SectionOperationalNotes: {"operational-notes.md", "# Operational Notes\n\n"},
}

// Operational is the append-only markdown memory the agent learns into.
// Safety rules can be added but never removed, preferences are overridable
// by appending a newer entry, notes are freeform.
type Operational struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewOperational returns operational memory rooted at dir.
func NewOperational(dir string) *Operational {
	return &Operational{dir: dir, now: time.Now}
}

// Dir returns the memory directory.
func (o *Operational) Dir() string { return o.dir }

// Initialize creates the memory directory and seeds missing files with
// their headers.
func (o *Operational) Initialize() error {
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	for _, key := range SectionOrder {
		sf := sectionFiles[key]
		path := filepath.Join(o.dir, sf.file)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(sf.header), 0o644); err != nil {
			return fmt.Errorf("seed %s: %w", sf.file, err)
		}
	}
	return nil
}

// AddSafetyRule appends a safety rule.
func (o *Operational) AddSafetyRule(rule string) error {
	return o.appendLine(SectionSafetyRules, fmt.Sprintf("- [%s] %s\n", o.stamp(), rule))
}

// UpdatePreference records a preference. Later entries override earlier ones.
func (o *Operational) UpdatePreference(key, value string) error {
	return o.appendLine(SectionPreferences, fmt.Sprintf("- **%s** [%s]: %s\n", key, o.stamp(), value))
}

// AddNote appends an operational note.
func (o *Operational) AddNote(note string) error {
	return o.appendLine(SectionOperationalNotes, fmt.Sprintf("- [%s] %s\n", o.stamp(), note))
}

// ReadAll returns a snapshot of every section keyed by section name.
// Missing files read as empty.
func (o *Operational) ReadAll() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(SectionOrder))
	for _, key := range SectionOrder {
		data, err := os.ReadFile(filepath.Join(o.dir, sectionFiles[key].file))
		if err != nil {
			out[key] = ""
			continue
		}
		out[key] = string(data)
	}
	return out
}

// Sections returns the non-empty sections in prompt order.
func (o *Operational) Sections() []string {
	all := o.ReadAll()
	var out []string
	for _, key := range SectionOrder {
		if strings.TrimSpace(all[key]) != "" {
			out = append(out, all[key])
		}
	}
	return out
}

func (o *Operational) stamp() string {
	return o.now().UTC().Format(timestampLayout)
}

func (o *Operational) appendLine(section, line string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	path := filepath.Join(o.dir, sectionFiles[section].file)
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", sectionFiles[section].file, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("append %s: %w", sectionFiles[section].file, err)
	}
	return nil
}
