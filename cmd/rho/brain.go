package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/brain"
	"github.com/untoldecay/rho/internal/config"
	"github.com/untoldecay/rho/internal/ui"
)

var brainCmd = &cobra.Command{
	Use:     "brain",
	GroupID: "brain",
	Short:   "Manage the persistent brain log",
	Long: `Manage the append-only brain log.

Entries are never rewritten: updates append a new entry with the same id
and removals append a tombstone. Keyed types (identity, user, meta,
context) upsert deterministically by natural key.

Examples:
  rho brain add identity --key name --value Alice
  rho brain add learning --text "Use pnpm not npm"
  rho brain add task --description "file taxes" --due tomorrow
  rho brain list --type task --filter pending
  rho brain remove --id a1b2c3d4
  rho brain decay`,
}

// runAction executes a brain action and renders the structured result,
// exiting non-zero on failure.
func runAction(p brain.Params) {
	opts := &brain.Options{
		Cwd:            mustCwd(),
		DecayAfterDays: config.GetInt("decay-after-days"),
		DecayMinScore:  config.GetInt("decay-min-score"),
	}
	res := brain.HandleAction(config.BrainPath(), p, opts)
	if jsonOutput {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	} else if res.OK {
		fmt.Println(ui.OK(res.Message))
	} else {
		fmt.Println(ui.Fail(res.Message))
	}
	if !res.OK {
		os.Exit(1)
	}
}

func mustCwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// parseDue accepts either an ISO date or natural language ("tomorrow",
// "friday 5pm") via the when parser.
func parseDue(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", s); err == nil {
		return s, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, time.Now())
	if err != nil || r == nil {
		return "", fmt.Errorf("cannot parse due date %q", s)
	}
	return r.Time.Format("2006-01-02"), nil
}

var brainAddCmd = &cobra.Command{
	Use:   "add <type>",
	Short: "Add a brain entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := paramsFromFlags(cmd)
		p.Action = brain.ActionAdd
		p.Type = args[0]

		due, _ := cmd.Flags().GetString("due")
		parsed, err := parseDue(due)
		if err != nil {
			return err
		}
		p.Due = parsed

		every, _ := cmd.Flags().GetString("every")
		at, _ := cmd.Flags().GetString("at")
		switch {
		case every != "":
			p.Cadence = &brain.Cadence{Kind: brain.CadenceInterval, Every: every}
		case at != "":
			p.Cadence = &brain.Cadence{Kind: brain.CadenceDaily, At: at}
		}

		runAction(p)
		return nil
	},
}

var brainUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a brain entry by id (appends a new version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := paramsFromFlags(cmd)
		p.Action = brain.ActionUpdate
		p.ID = args[0]
		runAction(p)
		return nil
	},
}

var brainRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove an entry (appends a tombstone)",
	Long: `Remove an entry by id, or a keyed entry by type and natural key.

Examples:
  rho brain remove --id a1b2c3d4
  rho brain remove --type identity --key name
  rho brain remove --type context --path /home/alice/src/widget`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := paramsFromFlags(cmd)
		p.Action = brain.ActionRemove
		p.ID, _ = cmd.Flags().GetString("id")

		force, _ := cmd.Flags().GetBool("force")
		if !force && ui.IsTerminal() {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title("Remove this entry from the brain?").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(ui.Muted("aborted"))
				return nil
			}
		}
		runAction(p)
		return nil
	},
}

var brainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List brain entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := paramsFromFlags(cmd)
		p.Action = brain.ActionList
		p.Query, _ = cmd.Flags().GetString("query")
		p.Filter, _ = cmd.Flags().GetString("filter")
		p.Verbose, _ = cmd.Flags().GetBool("verbose")

		opts := &brain.Options{Cwd: mustCwd()}
		res := brain.HandleAction(config.BrainPath(), p, opts)
		if !res.OK {
			fmt.Println(ui.Fail(res.Message))
			os.Exit(1)
		}
		if jsonOutput {
			out, _ := json.MarshalIndent(res.Data, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Println(res.Message)
		return nil
	},
}

var brainDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Tombstone old, low-scoring learnings",
	Long: `Tombstone learnings older than decay-after-days whose score has
fallen below decay-min-score. Preferences never decay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runAction(brain.Params{Action: brain.ActionDecay})
		return nil
	},
}

var brainTaskDoneCmd = &cobra.Command{
	Use:   "task-done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runAction(brain.Params{Action: brain.ActionTaskDone, ID: args[0]})
		return nil
	},
}

var brainTaskClearCmd = &cobra.Command{
	Use:   "task-clear",
	Short: "Tombstone all done tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		runAction(brain.Params{Action: brain.ActionTaskClear})
		return nil
	},
}

var brainDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check brain log integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		report := brain.Doctor(config.BrainPath())
		if jsonOutput {
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Println(ui.Header("Brain integrity"))
		fmt.Println(ui.KV("path", report.Path))
		fmt.Println(ui.KV("entries", report.Total))
		if report.BadLines == 0 && !report.TruncatedTail {
			fmt.Println(ui.OK("no damage"))
			return nil
		}
		if report.BadLines > 0 {
			fmt.Println(ui.Warn(fmt.Sprintf("%d malformed line(s)", report.BadLines)))
			for _, ex := range report.Examples {
				fmt.Println("  " + ui.Muted(ex))
			}
		}
		if report.TruncatedTail {
			fmt.Println(ui.Warn("truncated tail line (crash mid-append); next append supersedes it"))
		}
		return nil
	},
}

// paramsFromFlags collects the shared entry-field flags.
func paramsFromFlags(cmd *cobra.Command) brain.Params {
	var p brain.Params
	p.Key, _ = cmd.Flags().GetString("key")
	p.Value, _ = cmd.Flags().GetString("value")
	p.Category, _ = cmd.Flags().GetString("category")
	p.Text, _ = cmd.Flags().GetString("text")
	p.Source, _ = cmd.Flags().GetString("source")
	p.Scope, _ = cmd.Flags().GetString("scope")
	p.ProjectPath, _ = cmd.Flags().GetString("project-path")
	p.Project, _ = cmd.Flags().GetString("project")
	p.Path, _ = cmd.Flags().GetString("path")
	p.Content, _ = cmd.Flags().GetString("content")
	p.Description, _ = cmd.Flags().GetString("description")
	p.Status, _ = cmd.Flags().GetString("status")
	p.Priority, _ = cmd.Flags().GetString("priority")
	if tags, _ := cmd.Flags().GetString("tags"); tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	p.Type, _ = cmd.Flags().GetString("type")
	return p
}

func addEntryFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("key", "", "Natural key (identity/user/meta)")
	f.String("value", "", "Value (identity/user/meta)")
	f.String("category", "", "Category (behavior: do|dont|value; preference: freeform)")
	f.String("text", "", "Entry text (behavior/learning/preference/reminder)")
	f.String("source", "", "Learning source (auto|manual)")
	f.String("scope", "", "Learning scope (global|project)")
	f.String("project-path", "", "Project path for project-scoped learnings")
	f.String("project", "", "Project name (context)")
	f.String("path", "", "Project path (context)")
	f.String("content", "", "Context content")
	f.String("description", "", "Task description")
	f.String("status", "", "Task status (pending|done)")
	f.String("priority", "", "Priority (urgent|high|normal|low)")
	f.String("tags", "", "Comma-separated tags")
	f.String("type", "", "Entry type (for remove/list filters)")
}

func init() {
	for _, c := range []*cobra.Command{brainAddCmd, brainUpdateCmd, brainRemoveCmd, brainListCmd} {
		addEntryFlags(c)
	}
	brainAddCmd.Flags().String("due", "", "Task due date (ISO or natural language)")
	brainAddCmd.Flags().String("every", "", "Reminder interval cadence, e.g. 30m, 2h, 1d")
	brainAddCmd.Flags().String("at", "", "Reminder daily cadence time, HH:MM")
	brainRemoveCmd.Flags().String("id", "", "Entry id")
	brainRemoveCmd.Flags().Bool("force", false, "Skip confirmation")
	brainListCmd.Flags().String("query", "", "Substring filter")
	brainListCmd.Flags().String("filter", "", "Type-specific filter (task: pending|done; reminder: active)")
	brainListCmd.Flags().Bool("verbose", false, "Raw JSON entries")

	brainCmd.AddCommand(brainAddCmd, brainUpdateCmd, brainRemoveCmd, brainListCmd,
		brainDecayCmd, brainTaskDoneCmd, brainTaskClearCmd, brainDoctorCmd)
	rootCmd.AddCommand(brainCmd)
}
