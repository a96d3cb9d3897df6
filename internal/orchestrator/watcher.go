package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ControlWatcher handles out-of-band control via the .ordino directory.
// External tooling drops signal files into .ordino/signals; the watcher
// picks them up immediately when fsnotify is available, with a stat
// fallback in case an event was missed.
type ControlWatcher struct {
	ordinoDir string

	mu          sync.RWMutex
	stopSignal  bool
	drainSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewControlWatcher creates a watcher rooted at dir/.ordino.
func NewControlWatcher(dir string) (*ControlWatcher, error) {
	ordinoDir := filepath.Join(dir, ".ordino")
	signalsDir := filepath.Join(ordinoDir, "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	cw := &ControlWatcher{
		ordinoDir: ordinoDir,
		done:      make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher, stat fallback still works.
		return cw, nil
	}
	cw.watcher = watcher

	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		cw.watcher = nil
		return cw, nil
	}

	go cw.watchSignals()

	return cw, nil
}

// watchSignals monitors the signals directory for stop/drain files.
func (cw *ControlWatcher) watchSignals() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			written := event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0
			if !written {
				continue
			}
			cw.mu.Lock()
			switch filepath.Base(event.Name) {
			case "stop":
				cw.stopSignal = true
			case "drain":
				cw.drainSignal = true
			}
			cw.mu.Unlock()
		case <-cw.watcher.Errors:
			// Keep watching.
		}
	}
}

// ShouldStop reports whether a stop signal has been received. Running
// tasks should be cancelled.
func (cw *ControlWatcher) ShouldStop() bool {
	if _, err := os.Stat(cw.signalPath("stop")); err == nil {
		cw.mu.Lock()
		cw.stopSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stopSignal
}

// ShouldDrain reports whether a drain signal has been received. Running
// tasks finish, new submissions should be refused.
func (cw *ControlWatcher) ShouldDrain() bool {
	if _, err := os.Stat(cw.signalPath("drain")); err == nil {
		cw.mu.Lock()
		cw.drainSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.drainSignal
}

// SendStop creates a stop signal file.
func (cw *ControlWatcher) SendStop() error {
	return os.WriteFile(cw.signalPath("stop"), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// SendDrain creates a drain signal file.
func (cw *ControlWatcher) SendDrain() error {
	return os.WriteFile(cw.signalPath("drain"), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (cw *ControlWatcher) ClearSignals() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.stopSignal = false
	cw.drainSignal = false

	os.Remove(cw.signalPath("stop"))
	os.Remove(cw.signalPath("drain"))
}

// Dir returns the path to the .ordino directory.
func (cw *ControlWatcher) Dir() string {
	return cw.ordinoDir
}

// Close shuts down the watcher.
func (cw *ControlWatcher) Close() {
	close(cw.done)
	if cw.watcher != nil {
		cw.watcher.Close()
	}
}

func (cw *ControlWatcher) signalPath(name string) string {
	return filepath.Join(cw.ordinoDir, "signals", name)
}
