//go:build unix

package lockfile

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive probes liveness with signal 0. ESRCH means the process is gone;
// EPERM means it exists but belongs to another user, which counts as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
