package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/s3db-io/s3db/internal/logger"
)

// Watch reloads the config file on change and invokes onChange with each
// successfully loaded configuration. Invalid intermediate states (editors
// write in multiple steps) are logged and skipped.
//
// The watch is on the parent directory, not the file: most editors and
// config management tools replace the file via rename, which drops a
// file-level watch.
//
// Returns a stop function that releases the watcher.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				cfg, loadErr := Load(path)
				if loadErr != nil {
					logger.Warn("config reload skipped", "path", path, "error", loadErr)
					continue
				}
				logger.Info("config reloaded", "path", path)
				onChange(cfg)

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", watchErr)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
