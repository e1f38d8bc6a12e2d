package shares

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/resource"
	"github.com/mantonx/viewra-importer/internal/watcher"
)

const eventSource = "shares"

// Scheduler queues and cancels import jobs.
type Scheduler interface {
	ScheduleImport(path resource.Path, categories []string, includeSubDirectories bool) *importer.ImportJob
	ScheduleRefresh(path resource.Path, categories []string, includeSubDirectories bool) *importer.ImportJob
	CancelJobsForPath(path resource.Path)
}

// Watcher follows file system changes below a share.
type Watcher interface {
	Watch(root watcher.Root) error
	Unwatch(path resource.Path)
}

// Purger removes catalog entries of a removed share.
type Purger interface {
	DeleteMediaItem(ctx context.Context, path resource.Path) error
}

// Options controls periodic refreshes.
type Options struct {
	// RefreshInterval between full refreshes of every share, 0 disables.
	RefreshInterval time.Duration
	// RefreshOnStartup schedules a refresh of known shares in Start.
	RefreshOnStartup bool
}

// Manager keeps registered shares, their watches and their import jobs.
type Manager struct {
	store     Store
	scheduler Scheduler
	purger    Purger
	watcher   Watcher
	publisher events.Publisher
	opts      Options
	logger    hclog.Logger

	mu     sync.RWMutex
	shares map[resource.Path]Share

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a share manager. purger, watcher and publisher may be nil.
func NewManager(store Store, scheduler Scheduler, purger Purger, watcher Watcher, publisher events.Publisher, opts Options, logger hclog.Logger) *Manager {
	return &Manager{
		store:     store,
		scheduler: scheduler,
		purger:    purger,
		watcher:   watcher,
		publisher: publisher,
		opts:      opts,
		logger:    logger.Named("shares"),
		shares:    make(map[resource.Path]Share),
	}
}

// Start loads the stored shares, registers configured shares not yet
// stored, and starts the periodic refresh loop. New shares get a full
// import, known ones a refresh when RefreshOnStartup is set.
func (m *Manager) Start(ctx context.Context, configured []Share) error {
	stored, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, share := range stored {
		m.shares[share.Path] = share
	}
	m.mu.Unlock()

	for _, share := range stored {
		m.watch(share)
		if m.opts.RefreshOnStartup {
			m.scheduler.ScheduleRefresh(share.Path, share.Categories, share.IncludeSubDirectories)
		}
	}

	for _, share := range configured {
		if _, ok := m.Get(share.Path); ok {
			continue
		}
		if _, err := m.Register(ctx, share); err != nil {
			return fmt.Errorf("failed to register configured share %s: %w", share.Path, err)
		}
	}

	if m.opts.RefreshInterval > 0 {
		loopCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		m.wg.Add(1)
		go m.refreshLoop(loopCtx)
	}

	m.logger.Info("share manager started", "shares", len(m.List()), "refresh_interval", m.opts.RefreshInterval)
	return nil
}

// Stop ends the periodic refresh loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Register stores a new share and schedules its import.
func (m *Manager) Register(ctx context.Context, share Share) (Share, error) {
	if share.Name == "" {
		share.Name = share.Path.Name()
	}
	if _, ok := m.Get(share.Path); ok {
		return Share{}, fmt.Errorf("%s: %w", share.Path, ErrShareExists)
	}

	saved, err := m.store.Save(ctx, share)
	if err != nil {
		return Share{}, err
	}

	m.mu.Lock()
	m.shares[saved.Path] = saved
	m.mu.Unlock()

	m.watch(saved)
	m.scheduler.ScheduleImport(saved.Path, saved.Categories, saved.IncludeSubDirectories)
	m.publish(events.EventShareRegistered, saved)
	m.logger.Info("registered share", "name", saved.Name, "path", saved.Path)
	return saved, nil
}

// Remove cancels the share's jobs, stops watching it, and deletes the share
// together with its catalog entries.
func (m *Manager) Remove(ctx context.Context, path resource.Path) error {
	share, ok := m.Get(path)
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrShareNotFound)
	}

	m.scheduler.CancelJobsForPath(path)
	if m.watcher != nil && share.Watch {
		m.watcher.Unwatch(path)
	}

	if err := m.store.Delete(ctx, path); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.shares, path)
	m.mu.Unlock()

	if m.purger != nil {
		if err := m.purger.DeleteMediaItem(ctx, path); err != nil {
			return fmt.Errorf("failed to remove catalog entries of share %s: %w", path, err)
		}
	}

	m.publish(events.EventShareRemoved, share)
	m.logger.Info("removed share", "name", share.Name, "path", path)
	return nil
}

// Get returns the share registered at path.
func (m *Manager) Get(path resource.Path) (Share, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	share, ok := m.shares[path]
	return share, ok
}

// List returns the registered shares ordered by path.
func (m *Manager) List() []Share {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shares := make([]Share, 0, len(m.shares))
	for _, s := range m.shares {
		shares = append(shares, s)
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Path < shares[j].Path })
	return shares
}

// RefreshAll schedules a refresh of every share and returns how many were
// queued.
func (m *Manager) RefreshAll() int {
	scheduled := 0
	for _, share := range m.List() {
		if m.scheduler.ScheduleRefresh(share.Path, share.Categories, share.IncludeSubDirectories) != nil {
			scheduled++
		}
	}
	return scheduled
}

func (m *Manager) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := m.RefreshAll()
			m.logger.Debug("scheduled periodic share refresh", "jobs", n)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) watch(share Share) {
	if m.watcher == nil || !share.Watch {
		return
	}
	err := m.watcher.Watch(watcher.Root{
		Path:                  share.Path,
		Categories:            share.Categories,
		IncludeSubDirectories: share.IncludeSubDirectories,
	})
	if err != nil {
		m.logger.Warn("failed to watch share", "path", share.Path, "error", err)
	}
}

func (m *Manager) publish(eventType events.EventType, share Share) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishAsync(events.Event{
		Type:    eventType,
		Source:  eventSource,
		Message: share.Path.String(),
		Data: map[string]interface{}{
			"share_id": share.ID,
			"name":     share.Name,
			"path":     share.Path.String(),
		},
	})
	if err != nil {
		m.logger.Trace("failed to publish share event", "type", eventType, "error", err)
	}
}
