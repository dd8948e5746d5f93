// Package heartbeat runs the single-leader reminder role. One process
// per host holds the heartbeat lease; the leader scans the brain for due
// reminders, runs them, and records the result. Everyone else follows
// and retries acquisition periodically.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/rho/internal/brain"
	"github.com/untoldecay/rho/internal/debug"
	"github.com/untoldecay/rho/internal/lease"
)

const debounceDelay = 500 * time.Millisecond

// fallbackScanInterval drives re-scans when the file watcher is
// unavailable.
const fallbackScanInterval = 60 * time.Second

// ReminderHandler runs one due reminder and reports the outcome to be
// recorded via reminder_run: result is ok|error|skipped plus an optional
// error message.
type ReminderHandler func(ctx context.Context, reminder brain.Entry) (result string, errMsg string)

// Config describes one runner.
type Config struct {
	BrainPath string
	LeasePath string
	Purpose   string // recorded in the lease payload

	Stale           time.Duration // lease staleness window
	AttemptInterval time.Duration // follower retry cadence

	Handler ReminderHandler

	// Now is a test hook; defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Stale <= 0 {
		c.Stale = 45 * time.Second
	}
	if c.AttemptInterval <= 0 {
		c.AttemptInterval = 15 * time.Second
	}
	if c.Purpose == "" {
		c.Purpose = "heartbeat"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// State of the runner's leadership state machine.
type State int

const (
	Follower State = iota
	Leader
)

// Runner drives the follower/leader loop until its context is cancelled.
type Runner struct {
	cfg    Config
	nonce  string
	handle *lease.Handle
	state  atomic.Int32 // State; read from other goroutines for display
}

// NewRunner creates a runner. It does nothing until Run is called.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg.withDefaults(), nonce: uuid.NewString()}
}

// State returns the current leadership state (for status display).
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Run blocks until ctx is cancelled. Followers attempt acquisition every
// AttemptInterval; leaders refresh at a third of the staleness window and
// scan for due reminders. Any lost refresh demotes to follower after
// cancelling all leader-only work.
func (r *Runner) Run(ctx context.Context) error {
	defer r.demote()

	attempt := time.NewTicker(r.cfg.AttemptInterval)
	defer attempt.Stop()

	for {
		if r.tryPromote() {
			if err := r.lead(ctx); err != nil {
				return err
			}
			// lead returned: demoted or cancelled.
			if ctx.Err() != nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-attempt.C:
		}
	}
}

func (r *Runner) tryPromote() bool {
	now := r.cfg.Now()
	h, holderPID, err := lease.TryAcquire(r.cfg.LeasePath, r.nonce, now, lease.Options{
		Stale:   r.cfg.Stale,
		Purpose: r.cfg.Purpose,
	})
	if err != nil {
		debug.Logf("heartbeat: lease acquire failed: %v", err)
		return false
	}
	if h == nil {
		debug.Logf("heartbeat: following (leader pid=%d)", holderPID)
		return false
	}
	r.handle = h
	r.state.Store(int32(Leader))
	debug.Logf("heartbeat: promoted to leader")
	return true
}

// lead runs leader-only work until the lease is lost or ctx cancels.
// All leader side effects (watcher, tickers) are torn down before the
// demotion is declared.
func (r *Runner) lead(ctx context.Context) error {
	leadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanCh := make(chan struct{}, 1)
	kick := func() {
		select {
		case scanCh <- struct{}{}:
		default:
		}
	}

	watcher, err := NewFileWatcher(r.cfg.BrainPath, kick)
	var fallback *time.Ticker
	if err != nil {
		debug.Logf("heartbeat: watcher unavailable (%v), polling every %v", err, fallbackScanInterval)
		fallback = time.NewTicker(fallbackScanInterval)
		defer fallback.Stop()
	} else {
		watcher.Start(leadCtx)
		defer func() { _ = watcher.Close() }()
	}
	var fallbackCh <-chan time.Time
	if fallback != nil {
		fallbackCh = fallback.C
	}

	refresh := time.NewTicker(r.cfg.Stale / 3)
	defer refresh.Stop()

	// Initial scan on promotion.
	r.scan(leadCtx)

	for {
		select {
		case <-leadCtx.Done():
			r.demote()
			return nil
		case <-refresh.C:
			now := r.cfg.Now()
			if !r.handle.Refresh(now) {
				// Lease lost: stop leader work before anything else.
				cancel()
				r.demote()
				debug.Logf("heartbeat: lease lost, demoted to follower")
				return nil
			}
		case <-scanCh:
			r.scan(leadCtx)
		case <-fallbackCh:
			r.scan(leadCtx)
		}
	}
}

// demote releases the lease (safe if already lost: Release only unlinks
// our own file) and flips the state.
func (r *Runner) demote() {
	if r.handle != nil {
		r.handle.Release()
		r.handle = nil
	}
	r.state.Store(int32(Follower))
}

// scan runs every enabled reminder whose next_due has arrived and records
// the outcome through the brain tool.
func (r *Runner) scan(ctx context.Context) {
	now := r.cfg.Now()
	entries, _, err := brain.ReadBrain(r.cfg.BrainPath)
	if err != nil {
		debug.Logf("heartbeat: reading brain: %v", err)
		return
	}
	m := brain.Fold(entries)

	for _, reminder := range m.Reminders {
		if ctx.Err() != nil {
			return
		}
		if reminder.Enabled == nil || !*reminder.Enabled {
			continue
		}
		if reminder.NextDue == "" {
			continue
		}
		due, err := time.Parse(time.RFC3339, reminder.NextDue)
		if err != nil || due.After(now) {
			continue
		}

		result, errMsg := brain.ResultSkipped, ""
		if r.cfg.Handler != nil {
			result, errMsg = r.cfg.Handler(ctx, reminder)
		}
		res := brain.HandleAction(r.cfg.BrainPath, brain.Params{
			Action:    brain.ActionReminderRun,
			ID:        reminder.ID,
			RunResult: result,
			RunError:  errMsg,
		}, &brain.Options{Now: now})
		if !res.OK {
			debug.Logf("heartbeat: recording reminder %s failed: %s", reminder.ID, res.Message)
		}
	}
}
