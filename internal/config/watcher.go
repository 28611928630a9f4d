package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps a config file's last valid content in memory and calls a
// callback with the previous and the new [Config] when an edit decodes and
// validates. Edits that fail to decode leave the previous config current.
//
// Change detection is two-staged: a cheap stat compares modification time and
// size, and only when those moved is the file read and its digest compared.
type Watcher struct {
	path      string
	interval  time.Duration
	onChange  func(old, new *Config)
	onInvalid func(error)

	current atomic.Pointer[Config]
	stamp   fileStamp // owned by the poll goroutine after NewWatcher returns

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one observed revision of the watched file.
type fileStamp struct {
	modTime time.Time
	size    int64
	digest  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithInvalidHandler registers fn to receive the error of every edit that
// was rejected. Rejections are always logged at warn level as well.
func WithInvalidHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onInvalid = fn }
}

// NewWatcher loads path and starts polling it in a background goroutine.
// The initial load must succeed; onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.stamp = stamp

	go w.loop()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Stop ends polling and waits for an in-flight check to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check picks up a new revision of the file, if there is one.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.stamp.modTime) && info.Size() == w.stamp.size {
		return
	}

	cfg, stamp, err := w.read()
	if err != nil {
		// Remember the rejected revision so it is reported once, not every tick.
		w.stamp.modTime, w.stamp.size = info.ModTime(), info.Size()
		slog.Warn("config watcher: edit rejected, keeping previous config", "path", w.path, "err", err)
		if w.onInvalid != nil {
			w.onInvalid(err)
		}
		return
	}

	sameContent := stamp.digest == w.stamp.digest
	w.stamp = stamp
	if sameContent {
		return
	}

	old := w.current.Swap(cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read decodes the file in the format implied by its extension and stamps
// the revision it decoded.
func (w *Watcher) read() (*Config, fileStamp, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}

	cfg, err := Decode(bytes.NewReader(data), FormatForPath(w.path))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{
		modTime: info.ModTime(),
		size:    info.Size(),
		digest:  sha256.Sum256(data),
	}, nil
}
