package config

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher applies log-level changes from the config file to a running
// logger. Only the log level is live; every other key is fixed at
// startup.
type Watcher struct {
	fsw    *fsnotify.Watcher
	done   chan struct{}
	closed chan struct{}
}

// WatchLogLevel watches path and adjusts logger's level whenever the
// file is rewritten with a valid log_level. Invalid or unreadable
// updates are logged and skipped.
func WatchLogLevel(path string, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than write in
	// place, which would drop a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	w := &Watcher{fsw: fsw, done: make(chan struct{}), closed: make(chan struct{})}
	go w.run(path, logger)
	return w, nil
}

func (w *Watcher) run(path string, logger *log.Logger) {
	defer close(w.closed)
	abs, _ := filepath.Abs(path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evAbs, _ := filepath.Abs(event.Name); evAbs != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("ignoring config change", "error", err)
				continue
			}
			level, err := ParseLevel(cfg.LogLevel)
			if err != nil {
				logger.Warn("ignoring config change", "error", err)
				continue
			}
			if logger.GetLevel() != level {
				logger.SetLevel(level)
				logger.Info("log level changed", "level", cfg.LogLevel)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	<-w.closed
	return err
}
