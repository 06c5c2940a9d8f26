package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrNoProposal is returned when there is no pending proposal.
var ErrNoProposal = errors.New("no pending SOUL.md proposal")

// Proposal is a pending SOUL.md change. The agent never writes SOUL.md
// directly; a proposal is applied only after approval.
type Proposal struct {
	OldContent string    `json:"old_content"`
	NewContent string    `json:"new_content"`
	Reason     string    `json:"reason"`
	Diff       string    `json:"diff"`
	CreatedAt  time.Time `json:"created_at"`
}

// Editor manages proposals for one SOUL.md. The pending proposal is kept in
// a sidecar file so it survives restarts and CLI invocations.
type Editor struct {
	soulPath string
}

// NewEditor creates an editor for soulPath.
func NewEditor(soulPath string) *Editor {
	return &Editor{soulPath: soulPath}
}

func (e *Editor) pendingPath() string {
	return filepath.Join(filepath.Dir(e.soulPath), ".soul-proposal.json")
}

// Propose diffs newContent against the current file, stores it as the
// pending proposal and returns it. A newer proposal replaces an older one.
func (e *Editor) Propose(newContent, reason string) (*Proposal, error) {
	old := ""
	if data, err := os.ReadFile(e.soulPath); err == nil {
		old = string(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	diff, err := UnifiedDiff(old, newContent)
	if err != nil {
		return nil, err
	}
	p := &Proposal{OldContent: old, NewContent: newContent, Reason: reason, Diff: diff, CreatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(e.pendingPath()), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(e.pendingPath(), data, 0o600); err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}
	return p, nil
}

// Pending returns the stored proposal or ErrNoProposal.
func (e *Editor) Pending() (*Proposal, error) {
	data, err := os.ReadFile(e.pendingPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProposal
	}
	if err != nil {
		return nil, err
	}
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

// Approve writes the pending proposal to SOUL.md and clears it.
func (e *Editor) Approve() (*Proposal, error) {
	p, err := e.Pending()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(e.soulPath, []byte(p.NewContent), 0o644); err != nil {
		return nil, fmt.Errorf("write SOUL.md: %w", err)
	}
	_ = os.Remove(e.pendingPath())
	return p, nil
}

// Reject discards the pending proposal.
func (e *Editor) Reject() error {
	err := os.Remove(e.pendingPath())
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoProposal
	}
	return err
}

// UnifiedDiff renders a unified diff between two SOUL.md versions.
func UnifiedDiff(oldContent, newContent string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "SOUL.md (current)",
		ToFile:   "SOUL.md (proposed)",
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}
