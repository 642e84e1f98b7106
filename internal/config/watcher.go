package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc is called after the watched file changed and the new content
// loaded and validated. It runs on the watcher goroutine.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher polls a config file and reports validated changes. The
// modification time gates a reload and the content hash confirms it, so
// touching the file without editing it does not fire. An invalid file is
// logged once and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu   sync.Mutex
	snap snapshot
	// seen is the modification time of the last file examined, valid or not.
	seen time.Time

	cancel  context.CancelFunc
	stopped chan struct{}
}

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. The default is slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap, w.seen = snap, snap.mtime

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Stop ends polling and waits for the watcher goroutine to exit. It must
// not be called from the ChangeFunc.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if old, next, ok := w.reload(); ok {
				diff := Diff(old, next)
				w.log.Info("configuration reloaded", "path", w.path, "restart_needed", diff.NeedsRestart())
				if w.onChange != nil {
					w.onChange(old, next, diff)
				}
			}
		}
	}
}

// reload re-reads the file when its modification time moved and returns
// the previous and new config when the content actually changed.
func (w *Watcher) reload() (old, next *Config, changed bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config file unreadable", "path", w.path, "error", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.seen) {
		return nil, nil, false
	}
	w.seen = info.ModTime()

	snap, err := readSnapshot(w.path)
	if err != nil {
		w.log.Warn("invalid config ignored, keeping previous", "path", w.path, "error", err)
		return nil, nil, false
	}
	if snap.sum == w.snap.sum {
		return nil, nil, false
	}
	old = w.snap.cfg
	w.snap = snap
	return old, snap.cfg, true
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
