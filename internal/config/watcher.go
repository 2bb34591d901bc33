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

// fingerprint identifies one version of the config file. size and modTime
// are compared first so an untouched file is never read.
type fingerprint struct {
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher reloads a config file when it changes on disk and hands the old and
// new config to a callback. A file that fails to parse or validate is logged
// and skipped; [Watcher.Current] keeps returning the last good config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often [Watcher.Watch] looks at the file. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger replaces slog.Default for reload messages.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path once and returns a Watcher holding it. Polling only
// starts with [Watcher.Watch]. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch polls the file until ctx is done.
func (w *Watcher) Watch(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				w.log.Warn("config reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file now. It reports whether a new config was applied;
// an unchanged file returns false and a nil error. The callback runs on the
// calling goroutine, outside the lock.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := info.Size() == w.seen.size && info.ModTime().Equal(w.seen.modTime)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, fp, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	sameContent := fp.sum == w.seen.sum
	w.seen = fp
	old := w.current
	if !sameContent {
		w.current = cfg
	}
	w.mu.Unlock()
	if sameContent {
		return false, nil
	}

	w.log.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read parses and validates the file and fingerprints what it read.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{size: int64(len(data)), modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
