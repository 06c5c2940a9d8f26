package cli

import (
	"fmt"
	"strings"

	"github.com/KafClaw/soulbot/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List, run and reload skills",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and user skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		all := rt.skills.All()
		if len(all) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No skills installed.")
			return nil
		}
		out := cmd.OutOrStdout()
		for _, m := range all {
			trust := color.YellowString("%s", m.TrustLabel())
			if m.Trusted {
				trust = color.GreenString("%s", m.TrustLabel())
			}
			fmt.Fprintf(out, "%s  [%s]  %s\n", color.New(color.Bold).Sprint(m.Name), trust, m.Description)
			if m.Trigger != "" {
				fmt.Fprintf(out, "    trigger: %s\n", m.Trigger)
			}
			if len(m.Permissions) > 0 {
				fmt.Fprintf(out, "    tools:   %s\n", strings.Join(m.Permissions, ", "))
			}
		}
		return nil
	},
}

var skillsRunCmd = &cobra.Command{
	Use:   "run <name> <input>",
	Short: "Dispatch a skill with the given input",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		result := rt.skillDispatcher.Dispatch(cmd.Context(), args[0], strings.Join(args[1:], " "))
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

var skillsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Rescan skill directories and print the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		n := rt.skills.Rescan()
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d skill(s).\n\n%s\n", n, rt.skills.Index())
		return nil
	},
}

var skillsAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify the skill audit log hash chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		n, err := rt.audit.Verify()
		if err != nil {
			return fmt.Errorf("audit log %s: %w", rt.audit.Path(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries verified (%s)\n", color.GreenString("✓"), n, rt.audit.Path())
		return nil
	},
}

func init() {
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsRunCmd)
	skillsCmd.AddCommand(skillsReloadCmd)
	skillsCmd.AddCommand(skillsAuditCmd)
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return buildRuntime(cfg, runtimeHooks{})
}
