// Package watcher turns file system changes under watched shares into
// debounced refresh jobs.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// Scheduler queues refresh jobs.
type Scheduler interface {
	ScheduleRefresh(path resource.Path, categories []string, includeSubDirectories bool) *importer.ImportJob
}

// Root is a watched directory tree.
type Root struct {
	Path                  resource.Path `json:"path"`
	Categories            []string      `json:"categories"`
	IncludeSubDirectories bool          `json:"include_sub_directories"`
	StartTime             time.Time     `json:"start_time"`
}

// change is a debounced refresh request.
type change struct {
	root      *Root
	recursive bool
}

// Watcher watches share roots on the local file system. Resource paths are
// host paths.
type Watcher struct {
	scheduler Scheduler
	logger    hclog.Logger
	debounce  time.Duration

	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	roots   map[resource.Path]*Root
	pending map[resource.Path]change

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher that schedules refreshes at most once per debounce
// interval for each changed directory.
func New(scheduler Scheduler, debounce time.Duration, logger hclog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		scheduler: scheduler,
		logger:    logger.Named("watcher"),
		debounce:  debounce,
		watcher:   fw,
		roots:     make(map[resource.Path]*Root),
		pending:   make(map[resource.Path]change),
	}, nil
}

// Start runs the event loop until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.watchEvents(ctx)
	go w.flushLoop(ctx)
	w.logger.Info("file watcher started")
}

// Stop ends the event loop and releases the underlying watches.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	w.logger.Info("file watcher stopped")
	return err
}

// Watch adds a root. Sub directories are watched when the root recurses.
func (w *Watcher) Watch(root Root) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.roots[root.Path]; exists {
		return nil
	}

	if err := w.watcher.Add(root.Path.String()); err != nil {
		return fmt.Errorf("failed to add watch for %s: %w", root.Path, err)
	}
	if root.IncludeSubDirectories {
		w.addRecursiveWatch(root.Path.String())
	}

	root.StartTime = time.Now()
	w.roots[root.Path] = &root
	w.logger.Info("watching share", "path", root.Path, "recursive", root.IncludeSubDirectories)
	return nil
}

// Unwatch removes a root and the watches below it.
func (w *Watcher) Unwatch(path resource.Path) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.roots[path]; !exists {
		return
	}
	delete(w.roots, path)

	for _, watched := range w.watcher.WatchList() {
		p, err := toResourcePath(watched)
		if err != nil || !path.IsSameOrParentOf(p) || w.rootForLocked(p) != nil {
			continue
		}
		if err := w.watcher.Remove(watched); err != nil {
			w.logger.Debug("failed to remove watch", "path", watched, "error", err)
		}
	}
	for dir := range w.pending {
		if path.IsSameOrParentOf(dir) {
			delete(w.pending, dir)
		}
	}
	w.logger.Info("stopped watching share", "path", path)
}

// Roots returns the watched roots ordered by path.
func (w *Watcher) Roots() []Root {
	w.mu.RLock()
	defer w.mu.RUnlock()

	roots := make([]Root, 0, len(w.roots))
	for _, r := range w.roots {
		roots = append(roots, *r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Path < roots[j].Path })
	return roots
}

// addRecursiveWatch adds watches for all subdirectories of rootPath.
func (w *Watcher) addRecursiveWatch(rootPath string) {
	err := filepath.WalkDir(rootPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() || p == rootPath {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			w.logger.Debug("failed to add watch for subdirectory", "path", p, "error", err)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to walk share for watches", "path", rootPath, "error", err)
	}
}

func (w *Watcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent marks the directory holding the changed entry for refresh.
// A created directory is also watched and refreshed on its own.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	p, err := toResourcePath(event.Name)
	if err != nil || strings.HasPrefix(p.Name(), ".") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	root := w.rootForLocked(p)
	if root == nil {
		return
	}

	if p != root.Path {
		w.markLocked(p.Parent(), change{root: root})
	} else {
		w.markLocked(p, change{root: root})
	}

	if event.Has(fsnotify.Create) && root.IncludeSubDirectories && p != root.Path {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Error("failed to add watch for new directory", "path", event.Name, "error", err)
			} else {
				w.addRecursiveWatch(event.Name)
			}
			w.markLocked(p, change{root: root, recursive: true})
		}
	}
	w.logger.Trace("file system change", "op", event.Op.String(), "path", p)
}

func (w *Watcher) markLocked(dir resource.Path, c change) {
	if prev, ok := w.pending[dir]; ok && prev.recursive {
		c.recursive = true
	}
	w.pending[dir] = c
}

// rootForLocked returns the deepest root containing p.
func (w *Watcher) rootForLocked(p resource.Path) *Root {
	var best *Root
	for path, root := range w.roots {
		if !path.IsSameOrParentOf(p) {
			continue
		}
		if p != path && p.Parent() != path && !root.IncludeSubDirectories {
			continue
		}
		if best == nil || len(path) > len(best.Path) {
			best = root
		}
	}
	return best
}

func (w *Watcher) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-ctx.Done():
			return
		}
	}
}

// flush schedules a refresh for every directory changed since the last flush.
func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[resource.Path]change)
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	dirs := make([]resource.Path, 0, len(pending))
	for dir := range pending {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })

	for _, dir := range dirs {
		c := pending[dir]
		if job := w.scheduler.ScheduleRefresh(dir, c.root.Categories, c.recursive); job != nil {
			w.logger.Debug("scheduled refresh for changed directory", "path", dir, "job_id", job.ID)
		}
	}
}

func toResourcePath(name string) (resource.Path, error) {
	return resource.ParsePath(filepath.ToSlash(name))
}
