// Command rho is a personal agent-runtime shell: a persistent brain for
// agent sessions, file-backed coordination for singleton roles, and a
// supervisor for agent child processes speaking line-delimited JSON.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/config"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "rho",
	Short: "Personal agent-runtime shell",
	Long: `rho wraps a coding agent with a persistent brain and reliable sessions.

The brain is an append-only JSONL log of typed entries (identity, user
facts, behaviors, preferences, learnings, project contexts, tasks,
reminders). Every agent turn is seeded with a budgeted projection of the
brain. Long-running roles coordinate through file-backed leases, and
agent child processes are supervised with reconnect-safe event replay.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if !jsonOutput {
			jsonOutput = config.GetBool("json")
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddGroup(
		&cobra.Group{ID: "brain", Title: "Brain commands:"},
		&cobra.Group{ID: "sessions", Title: "Session commands:"},
		&cobra.Group{ID: "roles", Title: "Role commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
