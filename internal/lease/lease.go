// Package lease implements long-held, file-backed leadership leases.
//
// A lease differs from the short-hold mutex in internal/lockfile: it is
// held for minutes or hours, refreshed in place through the original file
// descriptor, and verified by inode so a demoted former leader can never
// clobber or unlink a successor's file after a TOCTOU race.
package lease

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/untoldecay/rho/internal/debug"
	"github.com/untoldecay/rho/internal/lockfile"
)

// Version identifies the lease payload layout.
const Version = 1

// Payload is the JSON document stored in a lease file.
type Payload struct {
	Version     int    `json:"version"`
	Purpose     string `json:"purpose,omitempty"`
	PID         int    `json:"pid"`
	Nonce       string `json:"nonce"`
	AcquiredAt  string `json:"acquiredAt"`
	RefreshedAt string `json:"refreshedAt"`
	Hostname    string `json:"hostname"`
}

// Options control acquisition and staleness.
type Options struct {
	// Stale: a lease whose refreshedAt is older than this (or whose holder
	// is dead) may be taken over.
	Stale time.Duration
	// Purpose is recorded in the payload and checked on refresh.
	Purpose string
}

// Handle represents an owned lease: an open descriptor pinned to the file
// created at acquisition, plus the identity of that file. All methods are
// safe to call after the lease has been lost; they report loss instead of
// interfering with the new holder.
type Handle struct {
	path    string
	f       *os.File
	created os.FileInfo // identity (dev+inode) of the file we created
	pid     int
	nonce   string
	purpose string
}

// TryAcquire attempts to take the lease at path. On success it returns an
// owned Handle. When a live holder exists it returns (nil, holderPID, nil).
// Stale leases (dead holder, unparseable or expired refreshedAt) are
// unlinked and retried up to 3 times.
func TryAcquire(path, nonce string, now time.Time, opts Options) (*Handle, int, error) {
	for attempt := 0; attempt < 3; attempt++ {
		h, err := create(path, nonce, now, opts)
		if err == nil {
			return h, 0, nil
		}
		if !os.IsExist(err) {
			return nil, 0, fmt.Errorf("creating lease %s: %w", path, err)
		}

		stale, holderPID := inspect(path, now, opts.Stale)
		if !stale {
			return nil, holderPID, nil
		}
		debug.Logf("lease %s stale (holder pid=%d), taking over", path, holderPID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("removing stale lease %s: %w", path, err)
		}
	}
	// Three takeover attempts lost the race each time; report the winner.
	_, holderPID := inspect(path, now, opts.Stale)
	return nil, holderPID, nil
}

func create(path, nonce string, now time.Time, opts Options) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644) // #nosec G304
	if err != nil {
		return nil, err
	}

	h := &Handle{
		path:    path,
		f:       f,
		pid:     os.Getpid(),
		nonce:   nonce,
		purpose: opts.Purpose,
	}
	if err := h.write(now, now); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	h.created = info
	return h, nil
}

// write rewrites the payload through the held descriptor.
func (h *Handle) write(acquiredAt, refreshedAt time.Time) error {
	hostname, _ := os.Hostname()
	data, err := json.Marshal(Payload{
		Version:     Version,
		Purpose:     h.purpose,
		PID:         h.pid,
		Nonce:       h.nonce,
		AcquiredAt:  acquiredAt.UTC().Format(time.RFC3339),
		RefreshedAt: refreshedAt.UTC().Format(time.RFC3339),
		Hostname:    hostname,
	})
	if err != nil {
		return fmt.Errorf("marshaling lease payload: %w", err)
	}
	data = append(data, '\n')
	if err := h.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lease: %w", err)
	}
	if _, err := h.f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("writing lease: %w", err)
	}
	return h.f.Sync()
}

// IsCurrent reports whether path still resolves to the file this handle
// created. False means another process took over.
func (h *Handle) IsCurrent() bool {
	info, err := os.Stat(h.path)
	if err != nil {
		return false
	}
	return os.SameFile(info, h.created)
}

// Refresh rewrites the payload in place via the held descriptor, bumping
// refreshedAt. Returns false when the lease has been lost: the path no
// longer maps to our file, or the on-disk payload no longer matches our
// pid+nonce+purpose.
func (h *Handle) Refresh(now time.Time) bool {
	if !h.IsCurrent() {
		return false
	}

	// Re-read through the descriptor: even with the inode intact, a writer
	// bug elsewhere could have replaced the payload.
	current, err := h.readPayload()
	if err != nil {
		debug.Logf("lease %s payload unreadable on refresh: %v", h.path, err)
		return false
	}
	if current.PID != h.pid || current.Nonce != h.nonce || current.Purpose != h.purpose {
		return false
	}

	acquired, err := time.Parse(time.RFC3339, current.AcquiredAt)
	if err != nil {
		acquired = now
	}
	if err := h.write(acquired, now); err != nil {
		debug.Logf("lease %s refresh write failed: %v", h.path, err)
		return false
	}
	return true
}

// Release unlinks the lease only if the path still resolves to our file,
// then closes the descriptor. Safe to call repeatedly.
func (h *Handle) Release() {
	if h.f == nil {
		return
	}
	if h.IsCurrent() {
		_ = os.Remove(h.path)
	}
	_ = h.f.Close()
	h.f = nil
}

func (h *Handle) readPayload() (Payload, error) {
	info, err := h.f.Stat()
	if err != nil {
		return Payload{}, err
	}
	buf := make([]byte, info.Size())
	if _, err := h.f.ReadAt(buf, 0); err != nil {
		return Payload{}, err
	}
	var p Payload
	if err := json.Unmarshal(buf, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Status reads the lease at path for display: the recorded payload plus
// whether it could be taken over right now. A missing file surfaces as
// an os.IsNotExist error.
func Status(path string, now time.Time, stale time.Duration) (Payload, bool, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Payload{}, false, err
	}
	var p Payload
	_ = json.Unmarshal(data, &p)
	isStale, _ := inspect(path, now, stale)
	return p, isStale, nil
}

// inspect classifies the lease file at path. Returns stale=true when the
// lease may be taken over, plus the holder pid when one is recorded.
func inspect(path string, now time.Time, stale time.Duration) (bool, int) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		// Holder released between our create attempt and now.
		return os.IsNotExist(err), 0
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil || p.PID == 0 {
		// Unparseable: mtime is the only freshness signal left.
		st, statErr := os.Stat(path)
		if statErr != nil {
			return os.IsNotExist(statErr), 0
		}
		return now.Sub(st.ModTime()) > stale, 0
	}

	if !lockfile.Alive(p.PID) {
		return true, p.PID
	}
	refreshed, err := time.Parse(time.RFC3339, p.RefreshedAt)
	if err != nil {
		return true, p.PID
	}
	return now.Sub(refreshed) > stale, p.PID
}
