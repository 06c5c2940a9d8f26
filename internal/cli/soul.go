package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/identity"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var soulProposeReason string

var soulCmd = &cobra.Command{
	Use:   "soul",
	Short: "Show SOUL.md and manage proposed changes",
}

var soulShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print SOUL.md and any pending proposal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		soul, err := identity.LoadSoul(cfg.Paths.SoulPath())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), soul)
		p, err := identity.NewEditor(cfg.Paths.SoulPath()).Pending()
		if errors.Is(err, identity.ErrNoProposal) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s\n", color.YellowString("Pending proposal:"), p.Reason)
		printDiff(cmd, p.Diff)
		return nil
	},
}

var soulProposeCmd = &cobra.Command{
	Use:   "propose <file>",
	Short: "Propose replacing SOUL.md with the content of file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read proposal: %w", err)
		}
		p, err := identity.NewEditor(cfg.Paths.SoulPath()).Propose(string(data), soulProposeReason)
		if err != nil {
			return err
		}
		if p.Diff == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
			return nil
		}
		printDiff(cmd, p.Diff)
		fmt.Fprintln(cmd.OutOrStdout(), "\nRun `soulbot soul approve` to apply or `soulbot soul reject` to discard.")
		return nil
	},
}

var soulApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Apply the pending SOUL.md proposal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		p, err := identity.NewEditor(cfg.Paths.SoulPath()).Approve()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s SOUL.md updated (%s)\n", color.GreenString("✓"), p.Reason)
		return nil
	},
}

var soulRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Discard the pending SOUL.md proposal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := identity.NewEditor(cfg.Paths.SoulPath()).Reject(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Proposal discarded.")
		return nil
	},
}

func init() {
	soulProposeCmd.Flags().StringVar(&soulProposeReason, "reason", "manual edit", "Why the change is needed")
	soulCmd.AddCommand(soulShowCmd)
	soulCmd.AddCommand(soulProposeCmd)
	soulCmd.AddCommand(soulApproveCmd)
	soulCmd.AddCommand(soulRejectCmd)
}

func printDiff(cmd *cobra.Command, diff string) {
	out := cmd.OutOrStdout()
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case len(line) > 0 && line[0] == '+':
			fmt.Fprintln(out, color.New(color.FgGreen).Sprint(line))
		case len(line) > 0 && line[0] == '-':
			fmt.Fprintln(out, color.New(color.FgRed).Sprint(line))
		default:
			fmt.Fprintln(out, line)
		}
	}
}
