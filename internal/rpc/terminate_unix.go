//go:build unix

package rpc

import (
	"os"

	"golang.org/x/sys/unix"
)

// terminate asks the child to exit gracefully. The manager escalates to
// Kill via the kill timer if it lingers.
func terminate(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}
