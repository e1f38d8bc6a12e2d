package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// memTree is an in-memory resource tree.
type memTree struct {
	mu    sync.Mutex
	nodes map[resource.Path]*memNode
}

type memNode struct {
	dir     bool
	modTime time.Time
	data    []byte
}

func newMemTree() *memTree {
	return &memTree{nodes: map[resource.Path]*memNode{"/": {dir: true}}}
}

func (t *memTree) addDir(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addDirLocked(resource.MustParsePath(p))
}

func (t *memTree) addDirLocked(p resource.Path) {
	for cur := p; ; cur = cur.Parent() {
		if _, ok := t.nodes[cur]; !ok {
			t.nodes[cur] = &memNode{dir: true}
		}
		if cur == "/" {
			return
		}
	}
}

func (t *memTree) addFile(p string, modTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := resource.MustParsePath(p)
	t.addDirLocked(path.Parent())
	t.nodes[path] = &memNode{modTime: modTime, data: []byte(p)}
}

func (t *memTree) remove(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := resource.MustParsePath(p)
	for k := range t.nodes {
		if path.IsSameOrParentOf(k) {
			delete(t.nodes, k)
		}
	}
}

func (t *memTree) Resolve(p resource.Path) (resource.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[p]
	if !ok {
		return nil, resource.ErrNotFound
	}
	return &memHandle{tree: t, path: p, node: *n}, nil
}

func (t *memTree) Files(dir resource.Handle) ([]resource.Handle, error) {
	return t.children(dir, false)
}

func (t *memTree) ChildDirectories(dir resource.Handle) ([]resource.Handle, error) {
	return t.children(dir, true)
}

func (t *memTree) children(dir resource.Handle, dirs bool) ([]resource.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[dir.Path()]; !ok {
		return nil, resource.ErrNotFound
	}
	var handles []resource.Handle
	for p, n := range t.nodes {
		if p != "/" && p.Parent() == dir.Path() && n.dir == dirs {
			handles = append(handles, &memHandle{tree: t, path: p, node: *n})
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Path() < handles[j].Path() })
	return handles, nil
}

type memHandle struct {
	tree *memTree
	path resource.Path
	node memNode
}

type readSeekNopCloser struct{ *bytes.Reader }

func (readSeekNopCloser) Close() error { return nil }

func (h *memHandle) Path() resource.Path     { return h.path }
func (h *memHandle) Name() string            { return h.path.Name() }
func (h *memHandle) IsFile() bool            { return !h.node.dir }
func (h *memHandle) IsDirectory() bool       { return h.node.dir }
func (h *memHandle) LastModified() time.Time { return h.node.modTime }
func (h *memHandle) Size() int64             { return int64(len(h.node.data)) }

func (h *memHandle) Exists() bool {
	h.tree.mu.Lock()
	defer h.tree.mu.Unlock()
	_, ok := h.tree.nodes[h.path]
	return ok
}

func (h *memHandle) Open() (io.ReadSeekCloser, error) {
	return readSeekNopCloser{bytes.NewReader(h.node.data)}, nil
}

// fakeCatalog records result calls and answers browsing queries.
type fakeCatalog struct {
	mu      sync.Mutex
	now     time.Time
	items   map[resource.Path]*metadata.MediaItem
	updates []resource.Path
	deletes []resource.Path
}

func newFakeCatalog(now time.Time) *fakeCatalog {
	return &fakeCatalog{now: now, items: make(map[resource.Path]*metadata.MediaItem)}
}

func (c *fakeCatalog) seed(p string, importedAt time.Time, directory bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := &metadata.MediaItem{ID: p, Aspects: metadata.Aspects{}}
	item.Aspects.GetOrCreate(metadata.AspectProviderResource).Set(metadata.AttrPath, p)
	item.Aspects.GetOrCreate(metadata.AspectImporter).Set(metadata.AttrLastImportDate, importedAt)
	if directory {
		item.Aspects.GetOrCreate(metadata.AspectDirectory).Set(metadata.AttrDirectoryName, resource.Path(p).Name())
	}
	c.items[resource.Path(p)] = item
}

func (c *fakeCatalog) LoadItem(ctx context.Context, path resource.Path, necessary []metadata.AspectID) (*metadata.MediaItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[path]
	if !ok {
		return nil, nil
	}
	for _, id := range necessary {
		if _, ok := item.Aspects[id]; !ok {
			return nil, nil
		}
	}
	return item, nil
}

func (c *fakeCatalog) Browse(ctx context.Context, dir resource.Path, necessary []metadata.AspectID) ([]*metadata.MediaItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var items []*metadata.MediaItem
	for p, item := range c.items {
		if p != "/" && p.Parent() == dir {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ResourcePath() < items[j].ResourcePath() })
	return items, nil
}

func (c *fakeCatalog) UpdateMediaItem(ctx context.Context, path resource.Path, aspects metadata.Aspects) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, path)
	item := &metadata.MediaItem{ID: path.String(), Aspects: metadata.Aspects{}}
	for id, a := range aspects {
		item.Aspects[id] = a
	}
	item.Aspects.GetOrCreate(metadata.AspectProviderResource).Set(metadata.AttrPath, path.String())
	item.Aspects.GetOrCreate(metadata.AspectImporter).Set(metadata.AttrLastImportDate, c.now)
	c.items[path] = item
	return nil
}

func (c *fakeCatalog) DeleteMediaItem(ctx context.Context, path resource.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, path)
	for p := range c.items {
		if path.IsSameOrParentOf(p) {
			delete(c.items, p)
		}
	}
	return nil
}

func (c *fakeCatalog) updateCount(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, u := range c.updates {
		if u == resource.Path(p) {
			n++
		}
	}
	return n
}

func (c *fakeCatalog) paths() []resource.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	var paths []resource.Path
	for p := range c.items {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func (c *fakeCatalog) deleted() []resource.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]resource.Path(nil), c.deletes...)
}

// testExtractor accepts every file; hook may block or fail per resource.
type testExtractor struct {
	id   metadata.ExtractorID
	hook func(ctx context.Context, h resource.Handle) error
}

func (e *testExtractor) Metadata() metadata.ExtractorMetadata {
	return metadata.ExtractorMetadata{
		ID:          e.id,
		Name:        string(e.id),
		Categories:  []string{metadata.CategoryVideo},
		AspectTypes: []metadata.AspectID{metadata.AspectMedia, metadata.AspectVideo},
	}
}

func (e *testExtractor) TryExtract(ctx context.Context, h resource.Handle, aspects metadata.Aspects) (bool, error) {
	if e.hook != nil {
		if err := e.hook(ctx, h); err != nil {
			return false, err
		}
	}
	aspects.GetOrCreate(metadata.AspectMedia).Set(metadata.AttrTitle, h.Name())
	return true, nil
}

var errExtract = errors.New("corrupt file")

// memStore keeps persisted records in memory.
type memStore struct {
	mu      sync.Mutex
	records []JobRecord
	saveErr error
}

func (s *memStore) LoadJobs(ctx context.Context) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JobRecord(nil), s.records...), nil
}

func (s *memStore) SaveJobs(ctx context.Context, records []JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records = append([]JobRecord(nil), records...)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) PublishAsync(e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []events.EventType
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}
