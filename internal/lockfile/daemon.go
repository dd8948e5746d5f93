package lockfile

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

// TryDaemonLock probes whether another process holds the singleton lock
// for dir. Returns (running, lock): when running is false the returned
// lock is held by us and must be kept for the process lifetime (or
// Unlocked on clean shutdown). The flock is advisory and kernel-released
// on crash, so it is immune to PID reuse.
func TryDaemonLock(dir string) (bool, *flock.Flock) {
	lock := flock.New(filepath.Join(dir, "daemon.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return true, nil
	}
	return false, lock
}
