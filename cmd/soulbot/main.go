// Package main is the entry point for the soulbot CLI.
package main

import (
	"os"

	"github.com/KafClaw/soulbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
