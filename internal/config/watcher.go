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

// DefaultWatchInterval is the polling interval used when none is configured.
const DefaultWatchInterval = 5 * time.Second

// snapshot is one successfully parsed version of the config file.
type snapshot struct {
	cfg *Config
	sum [sha256.Size]byte
	mod time.Time
}

// Watcher keeps the most recent valid [Config] read from a file. It polls the
// file's modification time and only reparses when it moves; a reparse whose
// content hash is unchanged is not reported. Invalid edits are logged and
// the previous config stays current. API keys are re-resolved from the
// environment on every load.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu   sync.Mutex
	last snapshot
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnChange registers fn to be called after each reload that changed the
// file's content. It runs on the polling goroutine.
func WithOnChange(fn func(old, new *Config, d ConfigDiff)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher reads the initial config from path. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last = snap
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Run polls until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			moved := !info.ModTime().Equal(w.last.mod)
			w.mu.Unlock()
			if moved {
				w.Reload()
			}
		}
	}
}

// Reload rereads the file now, regardless of its modification time, and
// reports whether the current config changed.
func (w *Watcher) Reload() bool {
	snap, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	prev := w.last
	if snap.sum == prev.sum {
		w.last.mod = snap.mod
		w.mu.Unlock()
		return false
	}
	w.last = snap
	w.mu.Unlock()

	d := Diff(prev.cfg, snap.cfg)
	slog.Info("config watcher: configuration reloaded", "path", w.path, "changed", d.Sections())
	if w.onChange != nil {
		w.onChange(prev.cfg, snap.cfg, d)
	}
	return true
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
	cfg.ResolveAPIKey()
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mod: info.ModTime()}, nil
}
