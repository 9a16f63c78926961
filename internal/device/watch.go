package device

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events editors produce on save.
const watchDebounce = 250 * time.Millisecond

// Watch re-imports the device file whenever it changes, until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors replacing the file by rename are still observed.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating device file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	r.logger.Info("watching device file", "file", abs)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.logger.Debug("device file changed", "op", event.Op.String())
				debounce = time.After(watchDebounce)
			}

		case <-debounce:
			debounce = nil
			if _, err := r.ImportFile(ctx, abs); err != nil {
				r.logger.Error("device file reload failed", "file", abs, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("device file watcher error", "error", err)
		}
	}
}
