package heartbeat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/rho/internal/debug"
)

// FileWatcher watches the brain log for appends so the runner re-scans
// reminders as soon as the log changes instead of waiting a full tick.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	path      string
	wg        sync.WaitGroup
}

// NewFileWatcher watches path (via its parent directory, so creates and
// renames are caught too) and calls onChanged after a 500ms debounce.
func NewFileWatcher(path string, onChanged func()) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	// Watch the file itself when it already exists; harmless otherwise.
	_ = watcher.Add(path)

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(debounceDelay, onChanged),
		path:      path,
	}, nil
}

// Start begins dispatching events until ctx is cancelled.
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.wg.Add(1)
	go func() {
		defer fw.wg.Done()
		for {
			select {
			case ev, ok := <-fw.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != fw.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					fw.debouncer.Trigger()
				}
			case err, ok := <-fw.watcher.Errors:
				if !ok {
					return
				}
				debug.Logf("heartbeat: watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the watcher and waits for the dispatch goroutine.
func (fw *FileWatcher) Close() error {
	fw.debouncer.Cancel()
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}
