package config

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultWatchInterval is how often the daemon checks its config file.
const DefaultWatchInterval = 5 * time.Second

// fileState is what the watcher remembers about the config file.
type fileState struct {
	modTime time.Time
	size    int64
	sum     [blake2b.Size256]byte
}

// Watcher polls the config file and calls onChange when its contents
// change. Saving the same bytes again or touching the file does not fire.
// onChange never runs after Stop has returned, so the daemon can close the
// client right after stopping the watcher.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// Owned by the poll goroutine after Start.
	last    fileState
	known   bool
	missing bool
}

// NewWatcher creates a watcher for path. A zero interval means
// DefaultWatchInterval.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config", "path", path),
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Start records the current contents and begins polling.
func (w *Watcher) Start() {
	if st, err := w.read(); err == nil {
		w.last, w.known = st, true
	}

	w.wg.Add(1)
	go w.poll()
	w.logger.Info("config watcher started", "interval", w.interval)
}

// Stop ends polling and waits for a running onChange to return. It is
// safe to call more than once, and before Start.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) poll() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.check() && w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// check reports whether the file contents differ from the last ones seen.
func (w *Watcher) check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		if !w.missing {
			w.logger.Warn("config file unavailable, keeping current settings", "error", err)
			w.missing = true
		}
		return false
	}
	reappeared := w.missing
	if reappeared {
		w.logger.Info("config file is back")
		w.missing = false
	}

	if w.known && !reappeared && info.ModTime().Equal(w.last.modTime) && info.Size() == w.last.size {
		return false
	}

	st, err := w.read()
	if err != nil {
		w.logger.Warn("cannot read config file", "error", err)
		return false
	}
	changed := !w.known || st.sum != w.last.sum
	w.last, w.known = st, true

	if !changed {
		w.logger.Debug("config file touched, contents unchanged")
		return false
	}
	w.logger.Info("config file changed", "mod_time", st.modTime, "size", st.size)
	return true
}

func (w *Watcher) read() (fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}, err
	}
	return fileState{
		modTime: info.ModTime(),
		size:    int64(len(data)),
		sum:     blake2b.Sum256(data),
	}, nil
}
