package cli

import (
	"fmt"
	"strings"

	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/memory"
	"github.com/KafClaw/soulbot/internal/timeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var memorySearchLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit operational memory",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print safety rules, preferences and operational notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, op, err := loadOperational()
		if err != nil {
			return err
		}
		all := op.ReadAll()
		for _, key := range memory.SectionOrder {
			fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("== %s ==", key))
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(all[key]))
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

var memoryAddRuleCmd = &cobra.Command{
	Use:   "add-rule <rule>",
	Short: "Append a permanent safety rule",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, op, err := loadOperational()
		if err != nil {
			return err
		}
		rule := strings.Join(args, " ")
		if err := op.AddSafetyRule(rule); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Safety rule added: %s\n", rule)
		return nil
	},
}

var memorySetPrefCmd = &cobra.Command{
	Use:   "set-pref <key> <value>",
	Short: "Record a preference (newer entries win)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, op, err := loadOperational()
		if err != nil {
			return err
		}
		value := strings.Join(args[1:], " ")
		if err := op.UpdatePreference(args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Preference updated: %s = %s\n", args[0], value)
		return nil
	},
}

var memoryAddNoteCmd = &cobra.Command{
	Use:   "add-note <note>",
	Short: "Append an operational note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, op, err := loadOperational()
		if err != nil {
			return err
		}
		note := strings.Join(args, " ")
		if err := op.AddNote(note); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note added: %s\n", note)
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recall, or the message log when recall is not configured",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		query := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		if recall := openRecall(cfg); recall != nil {
			results, err := recall.Search(cmd.Context(), query, memorySearchLimit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No matches.")
			}
			for _, r := range results {
				fmt.Fprintf(out, "%s %s\n", color.HiBlackString("[%.2f]", r.Similarity), r.Text)
			}
			return nil
		}

		tl, err := timeline.NewTimelineService(cfg.Paths.MessageDBPath())
		if err != nil {
			return err
		}
		defer tl.Close()
		msgs, err := tl.SearchMessages(query, memorySearchLimit)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "No matches.")
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "%s %s: %s\n", color.HiBlackString("%s", m.Timestamp.Format("2006-01-02 15:04")), m.UserName, m.Content)
		}
		return nil
	},
}

func init() {
	memorySearchCmd.Flags().IntVarP(&memorySearchLimit, "limit", "n", 5, "Maximum results")
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryAddRuleCmd)
	memoryCmd.AddCommand(memorySetPrefCmd)
	memoryCmd.AddCommand(memoryAddNoteCmd)
	memoryCmd.AddCommand(memorySearchCmd)
}

// loadOperational opens operational memory without a model provider.
func loadOperational() (*config.Config, *memory.Operational, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	op := memory.NewOperational(cfg.Paths.MemoryDir())
	if err := op.Initialize(); err != nil {
		return nil, nil, err
	}
	return cfg, op, nil
}
