package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/KafClaw/soulbot/internal/agent"
	"github.com/KafClaw/soulbot/internal/config"
	"github.com/KafClaw/soulbot/internal/provider"
	"github.com/spf13/cobra"
)

var (
	agentMessage   string
	agentSessionID string
	agentUserName  string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the agent directly in CLI",
	Run:   runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVarP(&agentSessionID, "session", "s", "cli-default", "Session ID")
	agentCmd.Flags().StringVar(&agentUserName, "user", "", "Display name for the sender")
}

func runAgent(cmd *cobra.Command, args []string) {
	if agentMessage == "" {
		fmt.Println("Error: --message is required")
		os.Exit(1)
	}

	printHeader("🤖 soulbot agent")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Build runtime
	rt, err := buildRuntime(cfg, runtimeHooks{
		OnSubagentComplete: func(_ context.Context, task *agent.SubagentTask, specialist, result string) error {
			fmt.Printf("\n✅ [%s %s]\n%s\n", specialist, task.ID, result)
			return nil
		},
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// 3. One turn
	fmt.Printf("🗣  %s\n", agentMessage)
	reply, err := rt.agent.Invoke(context.Background(), agentSessionID, agentMessage, agentUserName)
	if err != nil {
		if pe, ok := provider.AsProviderError(err); ok {
			fmt.Printf("Error: %s\n", pe.UserMessage())
		} else {
			fmt.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("\n%s\n", reply)

	// Let delegated specialists finish before exiting.
	if rt.subagents.ActiveCount() > 0 {
		fmt.Println("\n⏳ Waiting for background specialists...")
		if err := rt.subagents.Wait(context.Background()); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}
