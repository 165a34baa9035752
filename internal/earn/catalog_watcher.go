package earn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/eventbus"
)

// CatalogWatcher reloads a FileCatalog when files under its patterns change.
// Events are debounced so an editor's write-rename sequence triggers a single
// reload.
type CatalogWatcher struct {
	watcher     *fsnotify.Watcher
	catalog     *catalog.FileCatalog
	bus         *eventbus.EventBus
	debounceDur time.Duration
	log         zerolog.Logger
}

// NewCatalogWatcher watches the static base directory of each catalog
// pattern. Returns nil if no directory exists or fsnotify fails.
func NewCatalogWatcher(cat *catalog.FileCatalog, bus *eventbus.EventBus, log zerolog.Logger) *CatalogWatcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("catalog: failed to create fsnotify watcher")
		return nil
	}

	w := &CatalogWatcher{
		watcher:     watcher,
		catalog:     cat,
		bus:         bus,
		debounceDur: 200 * time.Millisecond,
		log:         log,
	}

	added := 0
	for _, pattern := range cat.Patterns() {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		if err := w.addRecursive(filepath.FromSlash(base)); err != nil {
			w.log.Debug().Err(err).Str("dir", base).Msg("skipping catalog directory")
			continue
		}
		added++
	}

	if added == 0 {
		_ = watcher.Close()
		return nil
	}

	return w
}

// Run reloads the catalog after each settled burst of file events until ctx
// is cancelled or the watcher is closed.
func (w *CatalogWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			w.log.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("file system event")

			// Track new directories for recursive watching
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}

			if !w.settle(ctx) {
				return
			}

			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// settle drains events until none arrive for the debounce window. Returns
// false if ctx is cancelled or the watcher closes while waiting.
func (w *CatalogWatcher) settle(ctx context.Context) bool {
	debounce := time.NewTimer(w.debounceDur)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-w.watcher.Events:
			if !ok {
				return false
			}
			if !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(w.debounceDur)
		case <-debounce.C:
			return true
		}
	}
}

func (w *CatalogWatcher) reload(ctx context.Context) {
	n, err := w.catalog.Load(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("catalog reload failed, keeping previous tasks")
		return
	}
	w.log.Info().Int("tasks", n).Msg("catalog reloaded")
	w.bus.PublishCatalogReloaded(eventbus.CatalogReloadedPayload{Tasks: n})
}

// Close stops the watcher.
func (w *CatalogWatcher) Close() error {
	return w.watcher.Close()
}

func (w *CatalogWatcher) addRecursive(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.Debug().Err(err).Str("path", p).Msg("skipping path during walk")
			return nil
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.watcher.Add(p)
		}
		return nil
	})
}

func (w *CatalogWatcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}

	for _, ext := range []string{".tmp", ".lock", ".swp", ".swx", "~"} {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}

	return false
}
