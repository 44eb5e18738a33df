package filter

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a filter config file on write and hands each successfully
// recompiled Engine to onReload. Bad edits (syntax or validation errors)
// are logged and ignored — the previous Engine stays in effect, so a
// typo in the file never takes the classifier down.
type Watcher struct {
	path     string
	log      *zap.Logger
	onReload func(*FileConfig, *Engine)
}

// NewWatcher builds a Watcher for the file at path.
func NewWatcher(path string, log *zap.Logger, onReload func(*FileConfig, *Engine)) *Watcher {
	return &Watcher{path: path, log: log, onReload: onReload}
}

// Run blocks watching the file for writes until ctx is cancelled. fsnotify
// watches the containing directory rather than the file itself so that
// atomic-rename editors (vim, most config-management tools) still trigger
// a reload.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case <-debounce:
			w.reload()
			debounce = nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filter watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	fc, err := LoadFile(w.path)
	if err != nil {
		w.log.Warn("filter config reload failed, keeping previous rules", zap.Error(err))
		return
	}
	engine, err := Compile(fc)
	if err != nil {
		w.log.Warn("filter config recompile failed, keeping previous rules", zap.Error(err))
		return
	}
	w.log.Info("filter config reloaded", zap.String("path", w.path), zap.Int("rules", len(fc.Rules)))
	w.onReload(fc, engine)
}
