package buildinfo

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/oshokin/device-updater/internal/logger"
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watch resets the cache whenever the build info file changes and blocks
// until ctx is done. The parent directory is watched so that files replaced
// by rename are still noticed.
func (c *Cache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	if err = watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(c.path), err)
	}

	logger.InfoKV(ctx, "Watching build info", "path", c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != c.path || !event.Op.Has(watchedOps) {
				continue
			}

			logger.DebugKV(ctx, "Build info changed, resetting cache", "op", event.Op.String())
			c.Reset()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.WarnKV(ctx, "Build info watcher error", "error", watchErr)
		}
	}
}
