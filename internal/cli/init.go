package cli

import (
	"fmt"
	"strings"

	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/identity"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/skills"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the assistant home (SOUL.md, HEARTBEAT.md, memory, builtin skills)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.EnsureDirs(cfg); err != nil {
			return err
		}
		res, err := identity.ScaffoldHome(cfg.Paths.Home, initForce)
		if err != nil {
			return err
		}
		if err := memory.NewOperational(cfg.Paths.MemoryDir()).Initialize(); err != nil {
			return err
		}
		if err := skills.EnsureBuiltins(cfg.Paths.BuiltinSkillsDir()); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Home: %s\n", cfg.Paths.Home)
		for _, name := range res.Created {
			fmt.Fprintf(out, "  %s %s\n", color.GreenString("created"), name)
		}
		for _, name := range res.Skipped {
			fmt.Fprintf(out, "  %s %s (use --force to overwrite)\n", color.YellowString("skipped"), name)
		}
		for _, name := range res.BackedUp {
			fmt.Fprintf(out, "  %s %s\n", color.CyanString("backup"), name)
		}
		if res.DiscardedProposal {
			fmt.Fprintf(out, "  %s pending SOUL.md proposal\n", color.YellowString("discarded"))
		}
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  %s %s\n", color.RedString("error"), e)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("scaffold failed: %s", strings.Join(res.Errors, "; "))
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reset SOUL.md and HEARTBEAT.md to their seeds, keeping .bak copies")
}
