// Package watch re-syncs the artifacts directory when artifact files change.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/logger"
)

// DefaultDebounce is used when no debounce window is configured
const DefaultDebounce = 500 * time.Millisecond

// SyncFunc is called once per burst of artifact changes
type SyncFunc func(ctx context.Context) error

// Options configures a Watcher
type Options struct {
	Extension string        // only files with this suffix trigger a sync
	Debounce  time.Duration // quiet period before syncing
	Logger    *zap.Logger
}

// Watcher observes one artifacts directory (not recursive)
type Watcher struct {
	dir       string
	extension string
	debounce  time.Duration
	sync      SyncFunc
	logger    *zap.Logger
	fsw       *fsnotify.Watcher
}

// New creates a Watcher on dir. Call Run to start delivering syncs.
func New(dir string, sync SyncFunc, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:       dir,
		extension: opts.Extension,
		debounce:  opts.Debounce,
		sync:      sync,
		logger:    logger.OrNop(opts.Logger),
		fsw:       fsw,
	}, nil
}

// Run delivers debounced syncs until ctx is cancelled, then closes the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := 0

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			pending++
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.String("dir", w.dir), zap.Error(err))

		case <-timerC:
			timerC = nil
			w.logger.Info("artifact changes detected, syncing",
				zap.String("dir", w.dir),
				zap.Int("events", pending),
			)
			pending = 0
			if err := w.sync(ctx); err != nil {
				w.logger.Error("sync after change failed", zap.Error(err))
			}
		}
	}
}

// relevant filters out events for non-artifact files and chmod-only changes
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if w.extension == "" {
		return true
	}
	return strings.HasSuffix(filepath.Base(event.Name), w.extension)
}
