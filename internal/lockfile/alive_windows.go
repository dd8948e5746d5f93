//go:build windows

package lockfile

import "os"

// pidAlive is a best-effort probe on Windows: FindProcess succeeds for any
// pid, so fall back to assuming the holder is alive and let the staleness
// window handle takeover.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
