// Package lockfile implements rho's file-based mutual exclusion.
//
// Two mechanisms live here. The short-hold mutex (WithFileLock) guards
// critical sections such as brain appends: it creates the lock file with
// O_CREAT|O_EXCL, writes a holder payload, and takes over locks whose
// holders are dead or stale. The flock-based daemon lock (TryDaemonLock)
// is a cheap singleton probe for long-running roles, immune to PID reuse.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/rho/internal/debug"
)

// ErrLockTimeout is returned when a live holder keeps the lock past the
// acquisition deadline.
var ErrLockTimeout = errors.New("LOCK_TIMEOUT")

// Payload is the JSON document written into a held lock file.
type Payload struct {
	PID         int    `json:"pid"`
	Nonce       string `json:"nonce"`
	AcquiredAt  string `json:"acquiredAt"`
	RefreshedAt string `json:"refreshedAt"`
	Hostname    string `json:"hostname"`
	Purpose     string `json:"purpose,omitempty"`
}

// Options control acquisition behavior.
type Options struct {
	// Stale: a holder whose refreshedAt is older than this is considered
	// dead weight and its lock is taken over. Default 30s.
	Stale time.Duration
	// Timeout: how long to keep retrying against a live holder before
	// giving up with ErrLockTimeout. Default 5s.
	Timeout time.Duration
	// Purpose is recorded in the payload for diagnostics.
	Purpose string
}

func (o *Options) withDefaults() Options {
	opts := Options{Stale: 30 * time.Second, Timeout: 5 * time.Second}
	if o != nil {
		if o.Stale > 0 {
			opts.Stale = o.Stale
		}
		if o.Timeout > 0 {
			opts.Timeout = o.Timeout
		}
		opts.Purpose = o.Purpose
	}
	return opts
}

// WithFileLock runs fn while holding exclusive ownership of lockPath,
// releasing it on all paths. Returns ErrLockTimeout when a live holder
// remains past the deadline; otherwise returns fn's error.
func WithFileLock(lockPath string, opts *Options, fn func() error) error {
	o := opts.withDefaults()
	nonce := uuid.NewString()

	if err := acquire(lockPath, nonce, o); err != nil {
		return err
	}
	defer release(lockPath, nonce)
	return fn()
}

func acquire(lockPath string, nonce string, o Options) error {
	deadline := time.Now().Add(o.Timeout)
	backoff := 10 * time.Millisecond

	for {
		ok, err := tryCreate(lockPath, nonce, o.Purpose)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		// Lock exists. Decide between takeover and backoff.
		if lockIsStale(lockPath, o.Stale) {
			debug.Logf("taking over stale lock %s", lockPath)
			_ = os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		// Exponential backoff 10 -> 250ms with ±50% jitter.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff))) - backoff/2
		time.Sleep(sleep)
		backoff *= 2
		if backoff > 250*time.Millisecond {
			backoff = 250 * time.Millisecond
		}
	}
}

// tryCreate atomically creates the lock file and writes our payload.
// Returns (false, nil) when the file already exists.
func tryCreate(lockPath, nonce, purpose string) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) // #nosec G304
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating lock %s: %w", lockPath, err)
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	now := time.Now().UTC().Format(time.RFC3339)
	payload := Payload{
		PID:         os.Getpid(),
		Nonce:       nonce,
		AcquiredAt:  now,
		RefreshedAt: now,
		Hostname:    hostname,
		Purpose:     purpose,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshaling lock payload: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = os.Remove(lockPath)
		return false, fmt.Errorf("writing lock payload: %w", err)
	}
	return true, nil
}

// lockIsStale reports whether the current lock file may be taken over:
// the holder is dead, the payload is too old, or the file is unreadable
// garbage whose mtime is past the staleness window.
func lockIsStale(lockPath string, stale time.Duration) bool {
	data, err := os.ReadFile(lockPath) // #nosec G304
	if err != nil {
		// Racing remove by the holder; treat as gone.
		return os.IsNotExist(err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil || p.PID == 0 {
		// Unparseable: fall back to mtime as the freshness signal.
		st, err := os.Stat(lockPath)
		if err != nil {
			return os.IsNotExist(err)
		}
		return time.Since(st.ModTime()) > stale
	}

	if !pidAlive(p.PID) {
		return true
	}
	refreshed, err := time.Parse(time.RFC3339, p.RefreshedAt)
	if err != nil {
		st, statErr := os.Stat(lockPath)
		if statErr != nil {
			return os.IsNotExist(statErr)
		}
		return time.Since(st.ModTime()) > stale
	}
	return time.Since(refreshed) > stale
}

// Alive reports whether pid refers to a live process. EPERM counts as
// alive; ESRCH does not.
func Alive(pid int) bool {
	return pidAlive(pid)
}

// release unlinks the lock only if the on-disk payload still shows our
// pid+nonce. Best effort: a lost race means someone already took over.
func release(lockPath, nonce string) {
	data, err := os.ReadFile(lockPath) // #nosec G304
	if err != nil {
		return
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.PID != os.Getpid() || p.Nonce != nonce {
		debug.Logf("lock %s no longer ours (pid=%d nonce=%s), skipping unlink", lockPath, p.PID, p.Nonce)
		return
	}
	_ = os.Remove(lockPath)
}
