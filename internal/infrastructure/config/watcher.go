package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Watcher polls a configuration file for changes by modification time and
// size. Each detected change is loaded into a brand-new *Config; the value
// previously returned is never modified.
//
// A change that fails to load or validate is reported once and the
// previous configuration stays active until the file changes again.
//
// Thread Safety: all methods are safe for concurrent use.
type Watcher struct {
	path string

	mu      sync.Mutex
	current *Config
	modTime time.Time
	size    int64
	seen    bool
}

// NewWatcher creates a watcher for path that starts from the given
// configuration. The file's current state is recorded so the first Poll
// does not report the file that produced initial as a change.
func NewWatcher(path string, initial *Config) *Watcher {
	w := &Watcher{
		path:    path,
		current: initial,
	}
	if info, err := os.Stat(path); err == nil {
		w.modTime = info.ModTime()
		w.size = info.Size()
		w.seen = true
	}
	return w
}

// Path returns the watched file path.
func (w *Watcher) Path() string {
	return w.path
}

// Current returns the active configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Poll checks the file and reloads it if it changed since the last call.
//
// Returns:
//   - *Config: the active configuration (new on a successful reload)
//   - bool: true only when a new configuration was loaded
//   - error: the load/validation failure of a changed file, if any
func (w *Watcher) Poll() (*Config, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A removed file keeps the running configuration.
			w.seen = false
			return w.current, false, nil
		}
		return w.current, false, fmt.Errorf("checking config file: %w", err)
	}

	if w.seen && info.ModTime().Equal(w.modTime) && info.Size() == w.size {
		return w.current, false, nil
	}

	w.modTime = info.ModTime()
	w.size = info.Size()
	w.seen = true

	cfg, err := Load(w.path)
	if err != nil {
		return w.current, false, err
	}

	w.current = cfg
	return cfg, true, nil
}
