package engine

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a config file on disk and invokes onChange with the
// freshly parsed, normalized Config on every write. It only detects and
// parses the change and applies nothing to a running Engine itself; what
// happens to the new Config is up to onChange. It follows the pack's
// directory-watch pattern (a config file is frequently replaced by a rename,
// which most editors/deploy tools do instead of an in-place write).
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	watching bool
}

// NewConfigWatcher creates a watcher for the config file at path. Call
// Start to begin watching.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("engine: create config watcher: %w", err)
	}
	return &ConfigWatcher{path: path, watcher: w}, nil
}

// Start watches the config file's directory and calls onChange with every
// successfully parsed update. onChange is called from the watcher's own
// goroutine; callers that swap shared state must synchronize.
func (w *ConfigWatcher) Start(onChange func(Config), onError func(error)) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("engine: watch config dir %s: %w", dir, err)
	}
	w.watching = true
	w.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadYAML(w.path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
	return nil
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *ConfigWatcher) Close() error {
	return w.watcher.Close()
}
