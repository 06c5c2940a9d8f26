package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/soulbot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                 _ _           _\n" +
		"  ___  ___  _   _| | |__   ___ | |_\n" +
		" / __|/ _ \\| | | | | '_ \\ / _ \\| __|\n" +
		" \\__ \\ (_) | |_| | | |_) | (_) | |_\n" +
		" |___/\\___/ \\__,_|_|_.__/ \\___/ \\__|\n"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "soulbot",
	Short: "soulbot - Discord AI assistant with memory, skills and specialists",
	Long:  color.CyanString(logo) + "\nA conversational agent runtime with tools, sub-agents, plans and sandboxed skills.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose, os.Getenv("SOULBOT_LOG_LEVEL"))
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "soulbot v%s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(soulCmd)
}

// setupLogging installs a text handler on stderr. An explicit level in
// SOULBOT_LOG_LEVEL wins over --verbose.
func setupLogging(verbose bool, envLevel string) {
	level := logLevel(verbose, envLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func logLevel(verbose bool, envLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(envLevel)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func printHeader(title string) {
	fmt.Println(color.New(color.FgCyan, color.Bold).Sprint(title))
	fmt.Println(strings.Repeat("─", 40))
}
