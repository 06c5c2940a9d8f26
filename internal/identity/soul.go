package identity

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// Seed returns the initial SOUL.md content.
func Seed() string {
	data, err := Template(SoulFile)
	if err != nil {
		return ""
	}
	return string(data)
}

// LoadSoul reads SOUL.md, writing the seed first when the file is missing.
func LoadSoul(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	seed := Seed()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		return "", err
	}
	slog.Info("Wrote seed SOUL.md", "path", path)
	return seed, nil
}

// Reader returns a function that re-reads SOUL.md on every call so edits
// apply to the next turn. A read failure falls back to the seed.
func Reader(path string) func() string {
	return func() string {
		soul, err := LoadSoul(path)
		if err != nil {
			slog.Warn("Failed to read SOUL.md, using seed", "path", path, "error", err)
			return Seed()
		}
		return soul
	}
}
