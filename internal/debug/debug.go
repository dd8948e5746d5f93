// Package debug provides opt-in diagnostic logging for rho.
//
// Logging is controlled by the RHO_DEBUG environment variable. When set to
// "1", "true", or a file path, log lines are written to stderr and mirrored
// into a size-rotated file under the rho directory so long-running roles
// (heartbeat, session manager) keep a trail without filling the disk.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	enabled bool
	sink    io.Writer
	once    sync.Once
)

func initSink() {
	val := strings.TrimSpace(os.Getenv("RHO_DEBUG"))
	if val == "" || val == "0" || strings.EqualFold(val, "false") {
		return
	}
	enabled = true

	logPath := ""
	if val != "1" && !strings.EqualFold(val, "true") {
		// RHO_DEBUG holds an explicit log path.
		logPath = val
	} else if home, err := os.UserHomeDir(); err == nil {
		logPath = filepath.Join(home, ".rho", "logs", "rho-debug.log")
	}

	writers := []io.Writer{os.Stderr}
	if logPath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}
	sink = io.MultiWriter(writers...)
}

// Enabled reports whether debug logging is active.
func Enabled() bool {
	once.Do(initSink)
	return enabled
}

// Logf writes a formatted debug line when RHO_DEBUG is set. Safe for
// concurrent use; a no-op otherwise.
func Logf(format string, args ...interface{}) {
	once.Do(initSink)
	if !enabled {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().UTC().Format(time.RFC3339)
	fmt.Fprintf(sink, "[rho %s] "+format+"\n", append([]interface{}{ts}, args...)...)
}
