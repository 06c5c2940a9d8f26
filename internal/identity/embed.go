// Package identity owns the assistant's SOUL.md: the embedded seed, loading
// and the propose-and-approve editor.
package identity

import "embed"

//go:embed templates/*.md
var templateFS embed.FS

// Seed file names inside the assistant home.
const (
	SoulFile      = "SOUL.md"
	HeartbeatFile = "HEARTBEAT.md"
)

// TemplateNames lists the files written into a fresh assistant home.
var TemplateNames = []string{SoulFile, HeartbeatFile}

// Template returns the embedded content of a template file.
func Template(name string) ([]byte, error) {
	return templateFS.ReadFile("templates/" + name)
}
