package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and invokes a callback with the
// fresh configuration. Editors rename-and-replace, so the watch is on the
// directory and filtered to the file's name.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onChange func(*Config)
	fw       *fsnotify.Watcher
}

// NewWatcher watches path. onChange runs on the watcher goroutine after each
// successful reload; reload failures are logged and the previous
// configuration stays in effect.
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	return &Watcher{path: path, logger: logger, onChange: onChange, fw: fw}, nil
}

// Run blocks until ctx is cancelled, dispatching reloads for write, create
// and rename events on the watched file.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous configuration",
					zap.String("path", w.path),
					zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			w.onChange(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
