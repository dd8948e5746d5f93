//go:build windows

package rpc

import "os"

// terminate on Windows has no graceful signal; kill outright.
func terminate(p *os.Process) error {
	return p.Kill()
}
