package brain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/rho/internal/debug"
	"github.com/untoldecay/rho/internal/lockfile"
)

// Stats summarizes damage observed while reading the log.
type Stats struct {
	Total         int  `json:"total"`
	BadLines      int  `json:"badLines"`
	TruncatedTail bool `json:"truncatedTail"`
}

// StoreOptions configure writes to the brain log.
type StoreOptions struct {
	// Lock configures the append mutex. Nil uses lockfile defaults
	// (30s stale, 5s timeout).
	Lock *lockfile.Options
	// LockPath overrides the default "<path>.lock".
	LockPath string
}

func (o *StoreOptions) lockPath(brainPath string) string {
	if o != nil && o.LockPath != "" {
		return o.LockPath
	}
	return brainPath + ".lock"
}

func (o *StoreOptions) lock() *lockfile.Options {
	if o != nil && o.Lock != nil {
		return o.Lock
	}
	return &lockfile.Options{Purpose: "brain-append"}
}

// ReadBrain reads the whole log. It never fails on damage: malformed
// lines are skipped and counted, and a final line without a terminating
// newline (crash mid-append) is reported as a truncated tail and NOT
// emitted, even when it happens to parse. A missing file is an empty
// brain. Only real I/O errors (permissions, etc.) are returned.
func ReadBrain(path string) ([]Entry, Stats, error) {
	var stats Stats

	data, err := os.ReadFile(path) // #nosec G304 -- caller-controlled brain path
	if os.IsNotExist(err) {
		return nil, stats, nil
	}
	if err != nil {
		return nil, stats, fmt.Errorf("reading brain log: %w", err)
	}

	var entries []Entry
	for len(data) > 0 {
		nl := -1
		for i, b := range data {
			if b == '\n' {
				nl = i
				break
			}
		}
		if nl < 0 {
			// Unterminated tail: a writer crashed mid-append. Do not parse
			// it; the next complete append will supersede it.
			if len(strings.TrimSpace(string(data))) > 0 {
				stats.TruncatedTail = true
			}
			break
		}
		line := strings.TrimRight(string(data[:nl]), "\r")
		data = data[nl+1:]

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.ID == "" {
			stats.BadLines++
			continue
		}
		entries = append(entries, e)
		stats.Total++
	}
	return entries, stats, nil
}

// AppendEntry validates the entry, then appends it as one JSON line under
// the brain mutex. The lock serializes appends across processes so each
// line is either fully flushed or absent.
func AppendEntry(path string, e Entry, opts *StoreOptions) error {
	if err := Validate(&e); err != nil {
		return err
	}
	return lockfile.WithFileLock(opts.lockPath(path), opts.lock(), func() error {
		return appendLine(path, e)
	})
}

// AppendEntryWithDedup appends like AppendEntry but reads and folds the
// current log inside the lock first, skipping the write when isDup says
// the materialized state already contains an equivalent entry. Returns
// whether a line was written.
func AppendEntryWithDedup(path string, e Entry, opts *StoreOptions, isDup func(*Materialized, *Entry) bool) (bool, error) {
	if err := Validate(&e); err != nil {
		return false, err
	}
	wrote := false
	err := lockfile.WithFileLock(opts.lockPath(path), opts.lock(), func() error {
		entries, _, err := ReadBrain(path)
		if err != nil {
			return err
		}
		if isDup != nil && isDup(Fold(entries), &e) {
			debug.Logf("dedup: skipping duplicate %s entry", e.Type)
			return nil
		}
		if err := appendLine(path, e); err != nil {
			return err
		}
		wrote = true
		return nil
	})
	return wrote, err
}

func appendLine(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating brain dir: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("opening brain log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending entry: %w", err)
	}
	return f.Sync()
}

// NowUTC formats a timestamp the way brain entries store them.
func NowUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
