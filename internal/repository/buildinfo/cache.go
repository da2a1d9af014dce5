package buildinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/device-updater/internal/domain/update"
	"github.com/oshokin/device-updater/internal/logger"
)

// Cache lazily loads and caches the installed build info.
type Cache struct {
	// path is the filesystem location of the JSON build info file.
	path string
	// info is the cached mapping, nil until loaded.
	info update.BuildInfo
	// lastErr records why the last load produced an empty mapping.
	lastErr error
	// mu lets Watch reset the cache from its own goroutine.
	mu sync.Mutex
}

// NewCache creates a cache reading the build info at path.
func NewCache(path string) *Cache {
	return &Cache{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the build info file.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the cached build info, loading it on first access.
// A missing or malformed file yields an empty mapping; the failure is logged
// and available through LastError.
func (c *Cache) Get(ctx context.Context) update.BuildInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.info == nil {
		c.info, c.lastErr = load(ctx, c.path)
		if c.lastErr != nil {
			logger.ErrorKV(ctx, "Failed to get build info", "path", c.path, "error", c.lastErr)
		}
	}

	return c.info.Clone()
}

// Reset drops the cached mapping so the next Get reloads the file.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.info = nil
	c.lastErr = nil
}

// LastError returns the failure recorded by the last load, if any.
func (c *Cache) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// load keeps every top-level entry that decodes as a component. Other
// entries, such as scalar build attributes, are skipped.
func load(ctx context.Context, path string) (update.BuildInfo, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return update.BuildInfo{}, fmt.Errorf("%w: build info not found: %w", update.ErrFilesystem, err)
		}

		return update.BuildInfo{}, fmt.Errorf("%w: read build info: %w", update.ErrFilesystem, err)
	}

	var entries map[string]json.RawMessage
	if err = json.Unmarshal(contents, &entries); err != nil {
		return update.BuildInfo{}, fmt.Errorf("%w: decode build info: %w", update.ErrParse, err)
	}

	info := make(update.BuildInfo, len(entries))

	for key, raw := range entries {
		var component update.Component
		if err = json.Unmarshal(raw, &component); err != nil {
			logger.WarnKV(ctx, "Skipping build info entry", "key", key, "error", err)

			continue
		}

		info[key] = component
	}

	return info, nil
}
