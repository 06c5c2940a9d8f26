package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/plan"
	"github.com/KafClaw/soulbot/internal/specialists"
	"github.com/KafClaw/soulbot/internal/tools"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var planParseJSON bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Parse or execute an implementation plan",
}

var planParseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a plan file into phases and steps without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, text, err := loadPlanInput(args[0])
		if err != nil {
			return err
		}
		p, err := plan.Parse(cmd.Context(), rt.provider, text)
		if err != nil {
			return err
		}
		if planParseJSON {
			data, _ := json.MarshalIndent(p, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printPlan(cmd, p)
		return nil
	},
}

var planRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Parse a plan file and execute it step by step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, text, err := loadPlanInput(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		p, err := plan.Parse(ctx, rt.provider, text)
		if err != nil {
			return err
		}
		builder, _ := rt.specialists.Get(specialists.BuilderName)
		exec := &plan.Executor{
			Provider:  rt.provider,
			Tools:     tools.Filter(rt.tools.List(), builder.Tools),
			Sanitizer: rt.sanitizer,
			Reporter: plan.ReporterFunc(func(_ context.Context, message string) error {
				fmt.Fprintln(cmd.OutOrStdout(), message)
				return nil
			}),
			MaxStepIterations: rt.cfg.Agent.MaxStepIterations,
		}
		exec.Execute(ctx, p)
		return nil
	},
}

func init() {
	planParseCmd.Flags().BoolVar(&planParseJSON, "json", false, "Print the parsed plan as JSON")
	planCmd.AddCommand(planParseCmd)
	planCmd.AddCommand(planRunCmd)
}

func loadPlanInput(path string) (*runtime, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read plan: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	rt, err := buildRuntime(cfg, runtimeHooks{})
	if err != nil {
		return nil, "", err
	}
	return rt, string(data), nil
}

func printPlan(cmd *cobra.Command, p *plan.ExecutionPlan) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d steps)\n", color.New(color.Bold).Sprint(p.Title), p.TotalSteps())
	for i, ph := range p.Phases {
		mode := "sequential"
		if ph.Parallel {
			mode = "parallel"
		}
		fmt.Fprintf(out, "\n%s %s\n", color.CyanString("Phase %d:", i+1), ph.Name+" ("+mode+")")
		for j, s := range ph.Steps {
			fmt.Fprintf(out, "  %d. %s\n", j+1, s.Description)
			if s.Validation != "" {
				fmt.Fprintf(out, "     %s %s\n", color.HiBlackString("verify:"), s.Validation)
			}
		}
	}
}
