package shares

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/viewra-importer/internal/config"
	"github.com/mantonx/viewra-importer/internal/database"
	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/resource"
	"github.com/mantonx/viewra-importer/internal/watcher"
)

type call struct {
	kind string
	path resource.Path
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []call
}

func (s *fakeScheduler) record(kind string, p resource.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{kind, p})
}

func (s *fakeScheduler) ScheduleImport(p resource.Path, categories []string, includeSub bool) *importer.ImportJob {
	s.record("import", p)
	return importer.NewImportJob(importer.JobTypeImport, p, nil, includeSub)
}

func (s *fakeScheduler) ScheduleRefresh(p resource.Path, categories []string, includeSub bool) *importer.ImportJob {
	s.record("refresh", p)
	return importer.NewImportJob(importer.JobTypeRefresh, p, nil, includeSub)
}

func (s *fakeScheduler) CancelJobsForPath(p resource.Path) {
	s.record("cancel", p)
}

func (s *fakeScheduler) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

type fakeWatcher struct {
	watched map[resource.Path]bool
	err     error
}

func (w *fakeWatcher) Watch(root watcher.Root) error {
	if w.err != nil {
		return w.err
	}
	w.watched[root.Path] = true
	return nil
}

func (w *fakeWatcher) Unwatch(p resource.Path) { delete(w.watched, p) }

type fakePurger struct{ deleted []resource.Path }

func (p *fakePurger) DeleteMediaItem(ctx context.Context, path resource.Path) error {
	p.deleted = append(p.deleted, path)
	return nil
}

type collectingPublisher struct{ types []events.EventType }

func (p *collectingPublisher) PublishAsync(e events.Event) error {
	p.types = append(p.types, e.Type)
	return nil
}

type fixture struct {
	store     *GormStore
	scheduler *fakeScheduler
	watcher   *fakeWatcher
	purger    *fakePurger
	publisher *collectingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "shares.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return &fixture{
		store:     NewGormStore(db),
		scheduler: &fakeScheduler{},
		watcher:   &fakeWatcher{watched: make(map[resource.Path]bool)},
		purger:    &fakePurger{},
		publisher: &collectingPublisher{},
	}
}

func (f *fixture) manager(opts Options) *Manager {
	return NewManager(f.store, f.scheduler, f.purger, f.watcher, f.publisher, opts, hclog.NewNullLogger())
}

func TestManager_RegisterAndRemove(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Options{})
	ctx := context.Background()

	share, err := m.Register(ctx, Share{Path: "/media/movies", Categories: []string{"Video"}, IncludeSubDirectories: true, Watch: true})
	require.NoError(t, err)
	assert.NotEmpty(t, share.ID)
	assert.Equal(t, "movies", share.Name)
	assert.True(t, f.watcher.watched["/media/movies"])
	assert.Equal(t, []call{{"import", "/media/movies"}}, f.scheduler.snapshot())

	_, err = m.Register(ctx, Share{Path: "/media/movies"})
	assert.ErrorIs(t, err, ErrShareExists)

	stored, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{"Video"}, stored[0].Categories)

	require.NoError(t, m.Remove(ctx, "/media/movies"))
	assert.Empty(t, m.List())
	assert.False(t, f.watcher.watched["/media/movies"])
	assert.Equal(t, []resource.Path{"/media/movies"}, f.purger.deleted)
	assert.Contains(t, f.scheduler.snapshot(), call{"cancel", "/media/movies"})
	assert.Equal(t, []events.EventType{events.EventShareRegistered, events.EventShareRemoved}, f.publisher.types)

	assert.ErrorIs(t, m.Remove(ctx, "/media/movies"), ErrShareNotFound)
}

func TestManager_StartRefreshesStoredAndImportsConfigured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Save(ctx, Share{Name: "music", Path: "/media/music", IncludeSubDirectories: true})
	require.NoError(t, err)

	m := f.manager(Options{RefreshOnStartup: true})
	require.NoError(t, m.Start(ctx, []Share{
		{Name: "music", Path: "/media/music"},
		{Name: "tv", Path: "/media/tv", Watch: true},
	}))
	defer m.Stop()

	assert.Equal(t, []call{{"refresh", "/media/music"}, {"import", "/media/tv"}}, f.scheduler.snapshot())
	assert.Len(t, m.List(), 2)
	assert.True(t, f.watcher.watched["/media/tv"])
}

func TestManager_PeriodicRefresh(t *testing.T) {
	f := newFixture(t)
	m := f.manager(Options{RefreshInterval: 10 * time.Millisecond})
	require.NoError(t, m.Start(context.Background(), []Share{{Path: "/media"}}))
	defer m.Stop()

	require.Eventually(t, func() bool {
		for _, c := range f.scheduler.snapshot() {
			if c.kind == "refresh" && c.path == "/media" {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func TestManager_WatchFailureDoesNotFailRegistration(t *testing.T) {
	f := newFixture(t)
	f.watcher.err = errors.New("too many watches")
	m := f.manager(Options{})

	_, err := m.Register(context.Background(), Share{Path: "/media", Watch: true})
	require.NoError(t, err)
	assert.Len(t, m.List(), 1)
}

func TestFromConfig(t *testing.T) {
	shares, err := FromConfig([]config.ShareConfig{
		{Path: "/media/movies/", Categories: []string{"Video"}, IncludeSubDirectories: true},
		{Name: "Tunes", Path: "/media/music"},
	})
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, resource.Path("/media/movies"), shares[0].Path)
	assert.Equal(t, "movies", shares[0].Name)
	assert.Equal(t, "Tunes", shares[1].Name)

	_, err = FromConfig([]config.ShareConfig{{Path: "relative"}})
	assert.Error(t, err)
}

func TestGormStore_DeleteMissing(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.store.Delete(context.Background(), "/nope"), ErrShareNotFound)
}
