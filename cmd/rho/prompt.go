package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/brain"
	"github.com/untoldecay/rho/internal/config"
	"github.com/untoldecay/rho/internal/prompt"
)

var promptCmd = &cobra.Command{
	Use:     "prompt",
	GroupID: "brain",
	Short:   "Render the budgeted brain projection",
	Long: `Render the system-prompt projection of the brain.

Identity and user facts are always included in full; behaviors,
preferences, the matching project context, and top-scored learnings
split the remaining token budget. Sections that overflow end with an
omission marker so the agent knows material was cut.

Examples:
  rho prompt
  rho prompt --cwd /home/alice/src/widget --budget 1500
  rho prompt --ids`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, _ := cmd.Flags().GetString("cwd")
		if cwd == "" {
			cwd = mustCwd()
		}
		budget, _ := cmd.Flags().GetInt("budget")
		if budget <= 0 {
			budget = config.GetInt("prompt-budget")
		}

		entries, _, err := brain.ReadBrain(config.BrainPath())
		if err != nil {
			return fmt.Errorf("reading brain: %w", err)
		}
		proj := prompt.Build(brain.Fold(entries), cwd, budget, time.Now().UTC())

		showIDs, _ := cmd.Flags().GetBool("ids")
		if jsonOutput {
			out, _ := json.MarshalIndent(map[string]interface{}{
				"text":         proj.Text,
				"injected_ids": proj.InjectedIDs,
				"tokens":       prompt.Tokens(proj.Text),
			}, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Print(proj.Text)
		if showIDs {
			fmt.Println()
			for _, id := range proj.InjectedIDs {
				fmt.Println(id)
			}
		}
		return nil
	},
}

func init() {
	promptCmd.Flags().String("cwd", "", "Working directory for context matching (default: current)")
	promptCmd.Flags().Int("budget", 0, "Token budget (default: prompt-budget config)")
	promptCmd.Flags().Bool("ids", false, "Append the injected entry ids after the projection")
	rootCmd.AddCommand(promptCmd)
}
