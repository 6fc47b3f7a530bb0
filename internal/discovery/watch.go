package discovery

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/calloway/taskpilot/internal/logging"
)

// CatalogWatcher hot-reloads the growth catalogue when its file changes.
// The daemon uses it so an operator can edit the catalogue without a
// restart.
type CatalogWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *logging.Logger

	mu      sync.RWMutex
	catalog *Catalog
}

// NewCatalogWatcher loads the catalogue from path and starts watching
// its directory (watching the directory survives editor rename-replace).
func NewCatalogWatcher(path string, log *logging.Logger) (*CatalogWatcher, error) {
	if log == nil {
		log = logging.Component("catalog")
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &CatalogWatcher{
		path:    path,
		watcher: fw,
		log:     log,
		catalog: catalog,
	}, nil
}

// Catalog returns the current catalogue snapshot.
func (w *CatalogWatcher) Catalog() *Catalog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.catalog
}

// Run processes file events until the context is cancelled.
func (w *CatalogWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnf("catalog watch: %v", err)
		}
	}
}

func (w *CatalogWatcher) reload() {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		// Keep serving the last good catalogue.
		w.log.Warnf("catalog reload failed: %v", err)
		return
	}

	w.mu.Lock()
	w.catalog = catalog
	w.mu.Unlock()

	w.log.InfoCtx("catalog reloaded", map[string]any{
		"candidates": len(catalog.Candidates),
	})
}

// Close stops the underlying file watcher.
func (w *CatalogWatcher) Close() error {
	return w.watcher.Close()
}
