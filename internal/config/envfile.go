package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// envFileCandidates returns the existing env files, most specific first:
// $SOULBOT_ENV_FILE, ./.env, <soulbot home>/.env and
// ~/.config/soulbot/env.
func envFileCandidates() []string {
	var paths []string
	if explicit := strings.TrimSpace(os.Getenv("SOULBOT_ENV_FILE")); explicit != "" {
		paths = append(paths, explicit)
	}
	paths = append(paths, ".env")
	if home, err := resolveHome(); err == nil {
		paths = append(paths, filepath.Join(home, ".env"))
	}
	if base, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(base, ".config", "soulbot", "env"))
	}

	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("Cannot read env file", "path", p, "error", err)
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

// LoadEnvFileCandidates loads every existing env file and returns the ones
// it read. Variables already in the environment are never overridden, so
// earlier files win over later ones.
func LoadEnvFileCandidates() []string {
	var loaded []string
	for _, p := range envFileCandidates() {
		if err := godotenv.Load(p); err != nil {
			slog.Warn("Skipping malformed env file", "path", p, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "path", p)
		loaded = append(loaded, p)
	}
	return loaded
}
