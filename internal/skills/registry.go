package skills

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/KafClaw/soulbot/internal/agent"
)

// Registry maps skill names to manifests. It is rebuilt by full rescan,
// never diffed.
type Registry struct {
	mu         sync.RWMutex
	skills     map[string]*Manifest
	builtinDir string
	userDir    string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*Manifest)}
}

// Register adds or replaces a manifest.
func (r *Registry) Register(m *Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[m.Name] = m
}

// Get looks a skill up by name.
func (r *Registry) Get(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.skills[name]
	return m, ok
}

// All returns every manifest sorted by name.
func (r *Registry) All() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, 0, len(r.skills))
	for _, m := range r.skills {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered skill names, sorted.
func (r *Registry) Names() []string {
	all := r.All()
	names := make([]string, len(all))
	for i, m := range all {
		names[i] = m.Name
	}
	return names
}

// Index renders the condensed skill list injected into the system prompt.
func (r *Registry) Index() string {
	all := r.All()
	if len(all) == 0 {
		return agent.NoSkillsIndex
	}
	lines := make([]string, len(all))
	for i, m := range all {
		lines[i] = fmt.Sprintf("- **%s** (%s): %s", m.Name, m.TrustLabel(), m.Trigger)
	}
	return strings.Join(lines, "\n")
}

// Reload clears the registry and rescans builtinDir then userDir. A user
// skill with a builtin's name replaces it. It returns the skill count.
func (r *Registry) Reload(builtinDir, userDir string) int {
	var found []*Manifest
	for _, dir := range []string{builtinDir, userDir} {
		if dir == "" {
			continue
		}
		found = append(found, LoadManifests(dir)...)
	}

	r.mu.Lock()
	r.skills = make(map[string]*Manifest, len(found))
	for _, m := range found {
		r.skills[m.Name] = m
	}
	r.builtinDir, r.userDir = builtinDir, userDir
	n := len(r.skills)
	r.mu.Unlock()

	slog.Info("Skill registry reloaded", "skills", n)
	return n
}

// Rescan reloads from the directories of the last Reload.
func (r *Registry) Rescan() int {
	builtinDir, userDir := r.Dirs()
	return r.Reload(builtinDir, userDir)
}

// Dirs returns the directories of the last Reload.
func (r *Registry) Dirs() (builtinDir, userDir string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtinDir, r.userDir
}
