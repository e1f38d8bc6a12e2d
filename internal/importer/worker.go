// Package importer runs import jobs: it walks resource trees, extracts
// metadata and pushes the results to the catalog, one job at a time.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
)

const eventSource = "importer"

// Worker owns the job queue and the single goroutine that processes it.
//
// A coordination mutex guards the queue, the suspended flag and the bound
// collaborators; the loop sleeps on a condition variable tied to it. Each
// job guards its own state and frontier.
type Worker struct {
	accessor  resource.Accessor
	registry  ExtractorRegistry
	store     JobStore
	publisher events.Publisher
	throttle  Throttle
	logger    hclog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     jobQueue
	suspended bool
	browsing  MediaBrowsing
	results   ResultHandler
	loopDone  chan struct{}
	cancelRun context.CancelFunc
}

// NewWorker creates a suspended worker. store, publisher and throttle may
// be nil.
func NewWorker(accessor resource.Accessor, registry ExtractorRegistry, store JobStore, publisher events.Publisher, throttle Throttle, logger hclog.Logger) *Worker {
	w := &Worker{
		accessor:  accessor,
		registry:  registry,
		store:     store,
		publisher: publisher,
		throttle:  throttle,
		logger:    logger.Named("importer"),
		suspended: true,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// IsSuspended reports whether the worker is currently suspended.
func (w *Worker) IsSuspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

// Startup restores the jobs persisted by the last Shutdown. They are queued
// behind anything scheduled before Startup ran, so newer requests are still
// served first. The worker stays suspended until Activate.
func (w *Worker) Startup(ctx context.Context) error {
	if w.store == nil {
		return nil
	}
	records, err := w.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending import jobs: %w", err)
	}

	jobs := make([]*ImportJob, 0, len(records))
	for _, record := range records {
		if record.State != JobStateScheduled && record.State != JobStateStarted {
			continue
		}
		job, err := JobFromRecord(record, w.accessor, w.logger)
		if err != nil {
			w.logger.Warn("discarding persisted import job", "job_id", record.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	w.mu.Lock()
	w.queue.jobs = append(w.queue.jobs, jobs...)
	w.cond.Broadcast()
	w.mu.Unlock()

	w.logger.Info("restored pending import jobs", "count", len(jobs))
	return nil
}

// Shutdown suspends the worker and persists the remaining queue.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.Suspend()

	w.mu.Lock()
	jobs := w.queue.clear()
	w.mu.Unlock()

	if w.store == nil {
		return nil
	}
	records := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		if job.State().IsTerminal() {
			continue
		}
		records = append(records, job.Record())
	}
	if err := w.store.SaveJobs(ctx, records); err != nil {
		return fmt.Errorf("failed to persist pending import jobs: %w", err)
	}
	w.logger.Info("persisted pending import jobs", "count", len(records))
	return nil
}

// Activate binds the catalog collaborators and starts the import loop if
// it is not already running. A loop that is still winding down from a
// previous Suspend is waited for first.
func (w *Worker) Activate(browsing MediaBrowsing, results ResultHandler) {
	for {
		w.mu.Lock()
		if w.loopDone != nil && w.suspended {
			done := w.loopDone
			w.mu.Unlock()
			<-done
			continue
		}

		w.browsing, w.results = browsing, results
		if w.loopDone == nil {
			w.suspended = false
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			w.loopDone, w.cancelRun = done, cancel
			go w.run(ctx, done)
			w.logger.Info("importer activated", "queued_jobs", w.queue.len())
		}
		w.cond.Broadcast()
		w.mu.Unlock()
		return
	}
}

// Suspend stops the import loop and blocks until it has exited. The job
// in progress keeps its frontier and resumes on the next Activate.
func (w *Worker) Suspend() {
	w.mu.Lock()
	w.suspended = true
	w.browsing, w.results = nil, nil
	done, cancel := w.loopDone, w.cancelRun
	w.cond.Broadcast()
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
		w.logger.Info("importer suspended")
	}
}

// HandleEvent suspends the worker when the system is shutting down.
func (w *Worker) HandleEvent(event events.Event) error {
	if event.Type == events.EventSystemShuttingDown {
		w.Suspend()
	}
	return nil
}

// ScheduleImport queues a full import of path unless a queued import
// already covers it. Queued jobs of either type at or below path are
// cancelled. It returns the new job, or nil when nothing was scheduled.
func (w *Worker) ScheduleImport(path resource.Path, categories []string, includeSubDirectories bool) *ImportJob {
	return w.schedule(JobTypeImport, path, categories, includeSubDirectories)
}

// ScheduleRefresh queues an incremental refresh of path. Only queued
// refresh jobs are considered: one at or above path covers the request,
// and those strictly below path are cancelled.
func (w *Worker) ScheduleRefresh(path resource.Path, categories []string, includeSubDirectories bool) *ImportJob {
	return w.schedule(JobTypeRefresh, path, categories, includeSubDirectories)
}

func (w *Worker) schedule(jobType JobType, path resource.Path, categories []string, includeSubDirectories bool) *ImportJob {
	ids := w.registry.IDsForCategories(categories)

	w.mu.Lock()
	defer w.mu.Unlock()

	covered := w.queue.any(func(j *ImportJob) bool {
		return j.Type == jobType && !j.State().IsTerminal() && j.Covers(path)
	})
	if covered {
		w.logger.Debug("import request already covered by queued job", "type", jobType, "path", path)
		return nil
	}

	job := NewImportJob(jobType, path, ids, includeSubDirectories)
	superseded := w.queue.removeIf(func(j *ImportJob) bool {
		if jobType == JobTypeRefresh {
			return j.Type == JobTypeRefresh && path.IsParentOf(j.BasePath)
		}
		return path.IsSameOrParentOf(j.BasePath)
	})
	for _, j := range superseded {
		j.Cancel()
		w.logger.Debug("cancelled superseded import job", "job_id", j.ID, "path", j.BasePath)
	}

	job.setState(JobStateScheduled)
	w.queue.push(job)
	w.cond.Broadcast()

	w.logger.Info("scheduled import job", "job_id", job.ID, "type", jobType, "path", path,
		"include_sub_directories", includeSubDirectories, "extractors", len(ids))
	return job
}

// CancelPendingJobs cancels every queued job and empties the queue.
func (w *Worker) CancelPendingJobs() {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := w.queue.clear()
	for _, j := range jobs {
		j.Cancel()
	}
	w.cond.Broadcast()
	w.logger.Info("cancelled all import jobs", "count", len(jobs))
}

// CancelJobsForPath cancels and removes every job whose base path is path
// or lies below it.
func (w *Worker) CancelJobsForPath(path resource.Path) {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := w.queue.removeIf(func(j *ImportJob) bool {
		return path.IsSameOrParentOf(j.BasePath)
	})
	for _, j := range jobs {
		j.Cancel()
	}
	w.cond.Broadcast()
	w.logger.Info("cancelled import jobs for path", "path", path, "count", len(jobs))
}

// Jobs returns a snapshot of the queue in service order.
func (w *Worker) Jobs() []JobInfo {
	w.mu.Lock()
	jobs := w.queue.snapshot()
	w.mu.Unlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, j.Info())
	}
	return infos
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.loopDone, w.cancelRun = nil, nil
		w.mu.Unlock()
		close(done)
	}()

	for {
		w.mu.Lock()
		for !w.suspended && w.queue.len() == 0 {
			w.cond.Wait()
		}
		if w.suspended {
			w.mu.Unlock()
			return
		}
		job := w.queue.peek()
		w.mu.Unlock()

		err := w.process(ctx, job)

		if job.State().IsTerminal() {
			w.mu.Lock()
			w.queue.remove(job)
			w.mu.Unlock()
			continue
		}
		if errors.Is(err, errNotActive) {
			w.mu.Lock()
			if !w.suspended && w.browsing == nil {
				w.cond.Wait()
			}
			w.mu.Unlock()
		}
	}
}

// process runs one job until it finishes, fails or is interrupted.
func (w *Worker) process(ctx context.Context, job *ImportJob) error {
	if job.State().IsTerminal() {
		return nil
	}

	w.mu.Lock()
	browsing, results := w.browsing, w.results
	w.mu.Unlock()
	if browsing == nil || results == nil {
		return errNotActive
	}

	extractors, aspectTypes := w.registry.Resolve(job.ExtractorIDs)
	r := &jobRun{
		worker:      w,
		job:         job,
		browsing:    browsing,
		results:     results,
		extractors:  extractors,
		aspectTypes: aspectTypes,
		logger:      w.logger.With("job_id", job.ID, "type", job.Type, "base_path", job.BasePath),
	}

	err := r.execute(ctx)
	switch {
	case err == nil:
		if job.transition(JobStateStarted, JobStateFinished) || job.transition(JobStateScheduled, JobStateFinished) {
			r.logger.Info("import job finished", "imported", r.imported, "skipped", r.skipped, "deleted", r.deleted, "failed", r.failed)
			w.publish(events.EventImportCompleted, job, r.stats())
		} else if job.State() == JobStateErroneous {
			r.logger.Warn("import job finished with errors", "imported", r.imported, "failed", r.failed)
			w.publish(events.EventImportFailed, job, r.stats())
		}
	case errors.Is(err, errImportSuspended):
		r.logger.Info("import job suspended", "pending_resources", job.PendingCount())
		w.publish(events.EventImportSuspended, job, nil)
	case errors.Is(err, errImportAborted):
		r.logger.Info("import job cancelled")
		w.publish(events.EventImportAborted, job, nil)
	default:
		if r.interrupted(ctx) {
			r.logger.Info("import job suspended", "pending_resources", job.PendingCount())
			w.publish(events.EventImportSuspended, job, nil)
			return errImportSuspended
		}
		r.logger.Error("import job failed", "error", err)
		job.markErroneous()
		w.publish(events.EventImportFailed, job, map[string]interface{}{"error": err.Error()})
	}
	return err
}

func (w *Worker) publish(eventType events.EventType, job *ImportJob, data map[string]interface{}) {
	w.publishPath(eventType, job, job.BasePath, data)
}

func (w *Worker) publishPath(eventType events.EventType, job *ImportJob, path resource.Path, data map[string]interface{}) {
	if w.publisher == nil {
		return
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	data["job_id"] = job.ID
	data["job_type"] = string(job.Type)
	data["path"] = path.String()
	if err := w.publisher.PublishAsync(events.Event{
		Type:    eventType,
		Source:  eventSource,
		Message: path.String(),
		Data:    data,
	}); err != nil {
		w.logger.Trace("failed to publish import event", "type", eventType, "error", err)
	}
}

// jobRun holds the collaborators snapshotted for one processing attempt.
type jobRun struct {
	worker      *Worker
	job         *ImportJob
	browsing    MediaBrowsing
	results     ResultHandler
	extractors  []metadata.Extractor
	aspectTypes []metadata.AspectID
	logger      hclog.Logger

	imported, skipped, deleted, failed int
}

func (r *jobRun) stats() map[string]interface{} {
	return map[string]interface{}{
		"imported": r.imported,
		"skipped":  r.skipped,
		"deleted":  r.deleted,
		"failed":   r.failed,
	}
}

// checkRunning returns the abort signal when the worker is suspending or
// the job was cancelled.
func (r *jobRun) checkRunning() error {
	if r.worker.IsSuspended() {
		return errImportSuspended
	}
	if r.job.State() == JobStateCancelled {
		return errImportAborted
	}
	return nil
}

// interrupted reports whether a failure was caused by suspension.
func (r *jobRun) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || r.worker.IsSuspended()
}

func (r *jobRun) execute(ctx context.Context) error {
	if err := r.checkRunning(); err != nil {
		return err
	}

	if r.job.State() == JobStateScheduled {
		r.logger.Info("starting import job")
		r.worker.publish(events.EventImportStarted, r.job, nil)

		base, err := r.worker.accessor.Resolve(r.job.BasePath)
		if err != nil {
			return fmt.Errorf("failed to resolve base path: %w", err)
		}
		if !base.IsDirectory() {
			if err := r.processResource(ctx, base); err != nil {
				return err
			}
			return r.checkRunning()
		}
		if !r.job.start(base) {
			return errImportAborted
		}
	}

	for r.job.HasPendingResources() {
		if err := r.checkRunning(); err != nil {
			return err
		}

		h := r.job.firstPending()
		if err := r.processResource(ctx, h); err != nil {
			if isAbort(err) {
				return err
			}
			if r.interrupted(ctx) {
				return errImportSuspended
			}
			r.failed++
			r.logger.Warn("failed to import resource", "path", h.Path(), "error", err)
			r.job.markErroneous()
		}
		r.job.completePending(h)
		r.worker.publishPath(events.EventImportStatus, r.job, h.Path(), nil)

		if err := r.checkRunning(); err != nil {
			return err
		}
	}
	return nil
}

// processResource imports a file or expands a directory.
func (r *jobRun) processResource(ctx context.Context, h resource.Handle) error {
	if r.worker.throttle != nil {
		if err := r.worker.throttle.Wait(ctx); err != nil {
			if r.interrupted(ctx) {
				return errImportSuspended
			}
			return fmt.Errorf("throttle: %w", err)
		}
	}

	switch {
	case !h.Exists():
		r.logger.Warn("resource vanished before import", "path", h.Path())
		return nil
	case h.IsDirectory():
		return r.importDirectory(ctx, h)
	case h.IsFile():
		return r.importFile(ctx, h)
	default:
		r.logger.Warn("resource is neither a file nor a directory", "path", h.Path())
		return nil
	}
}

func (r *jobRun) importFile(ctx context.Context, h resource.Handle) error {
	if r.job.Type == JobTypeRefresh {
		item, err := r.browsing.LoadItem(ctx, h.Path(), []metadata.AspectID{metadata.AspectImporter})
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", h.Path(), err)
		}
		if item != nil && !h.LastModified().After(item.LastImportDate()) {
			r.skipped++
			r.logger.Trace("resource unchanged since last import", "path", h.Path())
			return nil
		}
	}

	aspects, err := metadata.Extract(ctx, h, r.extractors)
	if err != nil {
		return err
	}
	if aspects == nil {
		r.logger.Trace("no metadata extracted", "path", h.Path())
		return nil
	}
	for _, id := range r.aspectTypes {
		if _, ok := aspects[id]; !ok {
			aspects[id] = metadata.NewAspect(id)
		}
	}

	if err := r.results.UpdateMediaItem(ctx, h.Path(), aspects); err != nil {
		return fmt.Errorf("failed to update %s: %w", h.Path(), err)
	}
	r.imported++
	r.logger.Debug("imported resource", "path", h.Path())
	return nil
}

// importDirectory registers the directory, removes catalog entries for
// vanished children on refresh, then replaces the directory in the
// frontier with its files followed (when recursing) by its sub directories.
func (r *jobRun) importDirectory(ctx context.Context, dir resource.Handle) error {
	if err := r.ensureDirectoryItem(ctx, dir); err != nil {
		return err
	}

	files, err := r.worker.accessor.Files(dir)
	if err != nil {
		return err
	}
	subDirectories, err := r.worker.accessor.ChildDirectories(dir)
	if err != nil {
		return err
	}

	if r.job.Type == JobTypeRefresh {
		if err := r.deleteVanished(ctx, dir, files, subDirectories); err != nil {
			return err
		}
	}

	if !r.job.IncludeSubDirectories {
		subDirectories = nil
	}
	r.job.expandPending(dir, files, subDirectories)
	return nil
}

func (r *jobRun) ensureDirectoryItem(ctx context.Context, dir resource.Handle) error {
	item, err := r.browsing.LoadItem(ctx, dir.Path(), nil)
	if err != nil {
		return fmt.Errorf("failed to look up directory %s: %w", dir.Path(), err)
	}
	if item != nil && item.IsDirectory() {
		return nil
	}
	if item != nil {
		if err := r.results.DeleteMediaItem(ctx, dir.Path()); err != nil {
			return fmt.Errorf("failed to replace %s with a directory: %w", dir.Path(), err)
		}
	}

	aspects := make(metadata.Aspects)
	aspects.GetOrCreate(metadata.AspectMedia).Set(metadata.AttrTitle, dir.Name())
	aspects.GetOrCreate(metadata.AspectDirectory).Set(metadata.AttrDirectoryName, dir.Name())
	if err := r.results.UpdateMediaItem(ctx, dir.Path(), aspects); err != nil {
		return fmt.Errorf("failed to add directory %s: %w", dir.Path(), err)
	}
	return nil
}

func (r *jobRun) deleteVanished(ctx context.Context, dir resource.Handle, files, subDirectories []resource.Handle) error {
	known, err := r.browsing.Browse(ctx, dir.Path(), nil)
	if err != nil {
		return fmt.Errorf("failed to browse %s: %w", dir.Path(), err)
	}

	present := make(map[resource.Path]bool, len(files)+len(subDirectories))
	for _, h := range files {
		present[h.Path()] = true
	}
	for _, h := range subDirectories {
		present[h.Path()] = true
	}

	for _, item := range known {
		p := item.ResourcePath()
		if p == "" || present[p] {
			continue
		}
		if err := r.checkRunning(); err != nil {
			return err
		}
		if err := r.results.DeleteMediaItem(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		r.deleted++
		r.logger.Debug("removed vanished resource from catalog", "path", p)
	}
	return nil
}
