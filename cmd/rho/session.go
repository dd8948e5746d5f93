package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/rho/internal/config"
	"github.com/untoldecay/rho/internal/debug"
	"github.com/untoldecay/rho/internal/lockfile"
	"github.com/untoldecay/rho/internal/rpc"
	"github.com/untoldecay/rho/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	GroupID: "sessions",
	Short:   "Supervise agent sessions",
	Long: `Supervise agent child processes speaking line-delimited JSON.

"start" runs a supervisor in the foreground: commands are read from
stdin (one JSON object per line) and forwarded to the child; every
child event is printed to stdout as one JSON line with its sequence
number. Closing stdin detaches the client: after the orphan grace the
child's turn is aborted, and shortly after the session stops.

Running supervisors register under $RHO_DIR/sessions so "list" and
"stop" can find them from another shell.`,
}

// sessionRecord is what a running supervisor writes to the registry.
type sessionRecord struct {
	ID      string `json:"id"`
	PID     int    `json:"pid"`
	File    string `json:"file"`
	Started string `json:"started"`
}

func sessionsDir() string {
	return filepath.Join(config.RhoDir(), "sessions")
}

func writeSessionRecord(rec sessionRecord) (string, error) {
	dir := sessionsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, rec.ID+".json")
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, append(data, '\n'), 0o644)
}

func readSessionRecords() []sessionRecord {
	entries, err := os.ReadDir(sessionsDir())
	if err != nil {
		return nil
	}
	var recs []sessionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sessionsDir(), e.Name())) // #nosec G304
		if err != nil {
			continue
		}
		var rec sessionRecord
		if json.Unmarshal(data, &rec) == nil && rec.ID != "" {
			recs = append(recs, rec)
		}
	}
	return recs
}

func agentCommand(cmd *cobra.Command) ([]string, error) {
	if agent, _ := cmd.Flags().GetString("agent"); agent != "" {
		return strings.Fields(agent), nil
	}
	if agent := config.GetString("rpc-agent-command"); agent != "" {
		return strings.Fields(agent), nil
	}
	return nil, fmt.Errorf("no agent command: set rpc-agent-command or pass --agent")
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <session-file>",
	Short: "Start a supervised agent session in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		argv, err := agentCommand(cmd)
		if err != nil {
			return err
		}
		return runSupervisor(argv, args[0])
	},
}

// runSupervisor wires stdin/stdout to one session and blocks until the
// session's final lifecycle event.
func runSupervisor(argv []string, sessionFile string) error {
	// The orphan callbacks fire only after a session has started, so the
	// late manager assignment is safe.
	var mgr *rpc.Manager
	rel := rpc.NewReliability(rpc.ReliabilityConfig{
		EventBuffer:      config.GetInt("event-buffer-size"),
		CommandRetention: config.GetDuration("command-retention", rpc.DefaultCommandRetention),
		OrphanGrace:      config.GetDuration("orphan-grace", rpc.DefaultOrphanGrace),
		OrphanAbortDelay: config.GetDuration("orphan-abort-delay", rpc.DefaultOrphanAbortDelay),
		OnAbort: func(sessionID string) {
			debug.Logf("session: orphan grace elapsed, aborting turn on %s", sessionID)
			_ = mgr.SendCommand(sessionID, rpc.Command{"type": "abort"})
		},
		OnStop: func(sessionID string) {
			_ = mgr.StopSession(sessionID)
		},
	})
	mgr = rpc.NewManager(rpc.ManagerConfig{
		AgentCommand:   argv,
		ConnectTimeout: config.GetDuration("rpc-connect-timeout", rpc.DefaultConnectTimeout),
		IdleTimeout:    config.GetDuration("rpc-idle-timeout", rpc.DefaultIdleTimeout),
		KillDelay:      config.GetDuration("rpc-shutdown-kill-delay", rpc.DefaultKillDelay),
		Reliability:    rel,
	})

	id, err := mgr.StartSession(sessionFile)
	if err != nil {
		return err
	}

	recPath, err := writeSessionRecord(sessionRecord{
		ID:      id,
		PID:     os.Getpid(),
		File:    sessionFile,
		Started: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		debug.Logf("session: registry write failed: %v", err)
	} else {
		defer func() { _ = os.Remove(recPath) }()
	}

	done := make(chan struct{})
	enc := json.NewEncoder(os.Stdout)
	var encMu sync.Mutex
	writeOut := func(v interface{}) {
		encMu.Lock()
		_ = enc.Encode(v)
		encMu.Unlock()
	}
	unsubscribe, err := mgr.OnEvent(id, func(ev rpc.Event) {
		writeOut(ev)
		switch ev.Type() {
		case rpc.EventSessionStopped, rpc.EventProcessCrashed:
			close(done)
		}
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		debug.Logf("session: signal received, stopping %s", id)
		_ = mgr.StopSession(id)
	}()

	// Stdin pump: one JSON command per line. EOF detaches the client;
	// unsubscribing arms the orphan abort/stop timers.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var c rpc.Command
			if err := json.Unmarshal([]byte(line), &c); err != nil {
				writeOut(rpc.Event{"type": rpc.EventError, "phase": rpc.PhaseParse, "line": line})
				continue
			}
			reg := rel.RegisterCommand(id, c.ID())
			if reg.Duplicate {
				if reg.CachedResponse != nil {
					writeOut(reg.CachedResponse)
				}
				continue
			}
			if err := mgr.SendCommand(id, c); err != nil {
				debug.Logf("session: send failed: %v", err)
				return
			}
		}
		unsubscribe()
	}()

	<-done
	mgr.Dispose()
	return nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		recs := readSessionRecords()
		if jsonOutput {
			out, _ := json.MarshalIndent(recs, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		if len(recs) == 0 {
			fmt.Println(ui.Muted("no sessions"))
			return nil
		}
		for _, rec := range recs {
			state := ui.OK("live")
			if !lockfile.Alive(rec.PID) {
				state = ui.Muted("dead")
			}
			fmt.Printf("%s  %s  pid=%d  %s  %s\n", rec.ID[:8], state, rec.PID, rec.File, ui.Muted(rec.Started))
		}
		return nil
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a registered session's supervisor",
	Long: `Stop a session by id (or unique id prefix). The supervisor process
receives SIGTERM and shuts the child down gracefully; a dead
supervisor's stale registry record is cleaned up instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var match *sessionRecord
		for _, rec := range readSessionRecords() {
			if strings.HasPrefix(rec.ID, args[0]) {
				if match != nil {
					return fmt.Errorf("ambiguous session id prefix %q", args[0])
				}
				r := rec
				match = &r
			}
		}
		if match == nil {
			return fmt.Errorf("no session matching %q", args[0])
		}
		path := filepath.Join(sessionsDir(), match.ID+".json")
		if !lockfile.Alive(match.PID) {
			_ = os.Remove(path)
			fmt.Println(ui.Muted("supervisor already dead, record removed"))
			return nil
		}
		if err := signalStop(match.PID); err != nil {
			return fmt.Errorf("stopping supervisor pid %d: %w", match.PID, err)
		}
		fmt.Println(ui.OK(fmt.Sprintf("stop requested for %s (pid %d)", match.ID[:8], match.PID)))
		return nil
	},
}

func signalStop(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <json-command>",
	Short: "Print a command line for a running supervisor's stdin",
	Long: `Validate a JSON command and print it as one line, ready to be piped
into a running "rho session start" supervisor:

  rho session send '{"type":"prompt","id":"c1","text":"hi"}' | rho session start notes.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var c rpc.Command
		if err := json.Unmarshal([]byte(args[0]), &c); err != nil {
			return fmt.Errorf("invalid command JSON: %w", err)
		}
		data, err := c.Encode()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	sessionStartCmd.Flags().String("agent", "", "Agent command line (overrides rpc-agent-command)")
	sessionCmd.AddCommand(sessionStartCmd, sessionListCmd, sessionStopCmd, sessionSendCmd)
	rootCmd.AddCommand(sessionCmd)
}
