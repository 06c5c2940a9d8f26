package identity

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ScaffoldResult reports what ScaffoldHome did to each template file.
type ScaffoldResult struct {
	Created  []string
	Skipped  []string
	BackedUp []string // backup file names, for files replaced under force
	Errors   []string
	// DiscardedProposal is set when a reset SOUL.md dropped a pending edit
	// proposal that was written against the old identity.
	DiscardedProposal bool
}

// ScaffoldHome writes the SOUL.md and HEARTBEAT.md seeds into the assistant
// home. Existing files are kept unless force is set. Under force a file that
// differs from its seed is first copied to <name>.<timestamp>.bak, so an
// identity shaped by approved edits is never lost.
func ScaffoldHome(home string, force bool) (*ScaffoldResult, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}
	result := &ScaffoldResult{}
	stamp := time.Now().UTC().Format("20060102T150405")

	for _, name := range TemplateNames {
		dst := filepath.Join(home, name)
		seed, err := Template(name)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}

		current, err := os.ReadFile(dst)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		case !force || bytes.Equal(current, seed):
			result.Skipped = append(result.Skipped, name)
			continue
		default:
			backup := fmt.Sprintf("%s.%s.bak", name, stamp)
			if err := writeFileAtomic(filepath.Join(home, backup), current); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: backup: %v", name, err))
				continue
			}
			result.BackedUp = append(result.BackedUp, backup)
		}

		if err := writeFileAtomic(dst, seed); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		result.Created = append(result.Created, name)
		if name == SoulFile && NewEditor(dst).Reject() == nil {
			result.DiscardedProposal = true
		}
	}
	return result, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
