package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/depthstream/logging"
)

// DefaultWatchDelay is how long the watcher waits for writes to settle before re-reading.
const DefaultWatchDelay = 200 * time.Millisecond

// Watch calls onChange with the re-read config every time the file at filePath changes, until ctx
// is done. Configs that fail to read or validate are logged and skipped. The directory is watched
// rather than the file so editors that replace the file on save are followed.
func Watch(ctx context.Context, filePath string, delay time.Duration, logger logging.Logger, onChange func(*Config)) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Debugw("error closing config watcher", "error", err)
		}
	}()
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.Wrapf(err, "cannot watch config %q", filePath)
	}

	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	debounced := debounce.New(delay)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Read(filePath)
		if err != nil {
			logger.Warnw("ignoring invalid config change", "path", filePath, "error", err)
			return
		}
		logger.Infow("config changed", "path", filePath)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			// Replaces any pending reload.
			debounced(func() {})
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounced(reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("config watcher error", "error", err)
		}
	}
}
