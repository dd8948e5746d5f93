package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/brain"
	"github.com/untoldecay/rho/internal/config"
	"github.com/untoldecay/rho/internal/heartbeat"
	"github.com/untoldecay/rho/internal/lease"
	"github.com/untoldecay/rho/internal/lockfile"
	"github.com/untoldecay/rho/internal/ui"
)

var heartbeatCmd = &cobra.Command{
	Use:     "heartbeat",
	GroupID: "roles",
	Short:   "Run or inspect the reminder heartbeat role",
	Long: `Run the single-leader heartbeat role.

Any number of rho processes may run the heartbeat; exactly one per host
holds the lease and becomes leader. The leader watches the brain for
due reminders, announces them, and records each run. Followers retry
acquisition periodically and take over if the leader's lease goes
stale.`,
}

var heartbeatRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the heartbeat loop in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		roleName, _ := cmd.Flags().GetString("role")
		role, err := config.FindRole(roleName)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(config.LeaseDir(), 0o755); err != nil {
			return fmt.Errorf("creating lease dir: %w", err)
		}

		// A second runner in the same process tree is harmless (it just
		// follows), but warn when one already runs from this state dir.
		if running, fl := lockfile.TryDaemonLock(config.RhoDir()); running {
			fmt.Println(ui.Warn("another rho heartbeat is already running from this directory; continuing as follower"))
		} else if fl != nil {
			defer func() { _ = fl.Unlock() }()
		}

		runner := heartbeat.NewRunner(heartbeat.Config{
			BrainPath:       config.BrainPath(),
			LeasePath:       role.LeasePath(),
			Purpose:         role.Name,
			Stale:           role.StaleDuration(),
			AttemptInterval: role.AttemptDuration(),
			Handler:         announceReminder,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		fmt.Println(ui.Muted(fmt.Sprintf("heartbeat role %q on %s", role.Name, role.LeasePath())))
		return runner.Run(ctx)
	},
}

// announceReminder prints the due reminder; the runner records the run.
func announceReminder(ctx context.Context, reminder brain.Entry) (string, string) {
	fmt.Printf("%s %s\n", ui.Header("reminder:"), reminder.Text)
	return brain.ResultOK, ""
}

var heartbeatStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who holds the heartbeat lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		roleName, _ := cmd.Flags().GetString("role")
		role, err := config.FindRole(roleName)
		if err != nil {
			return err
		}
		payload, stale, err := lease.Status(role.LeasePath(), time.Now(), role.StaleDuration())
		if os.IsNotExist(err) {
			if jsonOutput {
				fmt.Println(`{"held": false}`)
				return nil
			}
			fmt.Println(ui.Muted("no leader (lease not held)"))
			return nil
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(map[string]interface{}{
				"held":    true,
				"stale":   stale,
				"payload": payload,
			}, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		fmt.Println(ui.Header("Heartbeat lease"))
		fmt.Println(ui.KV("path", role.LeasePath()))
		fmt.Println(ui.KV("holder pid", payload.PID))
		fmt.Println(ui.KV("host", payload.Hostname))
		fmt.Println(ui.KV("acquired", payload.AcquiredAt))
		fmt.Println(ui.KV("refreshed", payload.RefreshedAt))
		if stale {
			fmt.Println(ui.Warn("stale: next acquisition attempt takes over"))
		} else {
			fmt.Println(ui.OK("fresh"))
		}
		return nil
	},
}

func init() {
	heartbeatRunCmd.Flags().String("role", "heartbeat", "Role name from roles.toml")
	heartbeatStatusCmd.Flags().String("role", "heartbeat", "Role name from roles.toml")
	heartbeatCmd.AddCommand(heartbeatRunCmd, heartbeatStatusCmd)
	rootCmd.AddCommand(heartbeatCmd)
}
