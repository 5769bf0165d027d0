package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"voice-commerce-service/internal/observability/metrics"
)

// Watch reloads the catalog whenever file is written or replaced, until ctx
// is done. The parent directory is watched so editors that save by rename are
// picked up too.
func (c *Catalog) Watch(ctx context.Context, file string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("watch %s: %w", file, err)
	}

	logger := log.With().Str("component", "catalog").Str("file", file).Logger()
	logger.Info().Msg("Watching catalog file")

	target := filepath.Clean(file)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			err := c.Reload(file)
			metrics.DefaultMetrics.RecordCatalogReload(err)
			if err != nil {
				logger.Warn().Err(err).Msg("Catalog reload failed, keeping previous products")
				continue
			}
			logger.Info().Int("products", c.Len()).Msg("Catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Catalog watcher error")
		}
	}
}
