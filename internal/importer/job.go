package importer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// JobType distinguishes a full import from an incremental refresh.
type JobType string

const (
	JobTypeImport  JobType = "import"
	JobTypeRefresh JobType = "refresh"
)

// JobState is the lifecycle state of an import job.
type JobState string

const (
	JobStateNone      JobState = "none"
	JobStateScheduled JobState = "scheduled"
	JobStateStarted   JobState = "started"
	JobStateFinished  JobState = "finished"
	JobStateCancelled JobState = "cancelled"
	JobStateErroneous JobState = "erroneous"
)

// IsTerminal reports whether no further work happens in this state.
func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateCancelled || s == JobStateErroneous
}

// ImportJob describes the import of one resource tree. Identity is the
// triple (base path, job type, include sub directories); the traversal
// frontier lives in PendingResources while the job is started.
type ImportJob struct {
	ID                    string
	Type                  JobType
	BasePath              resource.Path
	ExtractorIDs          []metadata.ExtractorID
	IncludeSubDirectories bool

	mu      sync.Mutex
	state   JobState
	pending []resource.Handle
}

// NewImportJob creates a job in state None.
func NewImportJob(jobType JobType, basePath resource.Path, extractorIDs []metadata.ExtractorID, includeSubDirectories bool) *ImportJob {
	return &ImportJob{
		ID:                    uuid.New().String(),
		Type:                  jobType,
		BasePath:              basePath,
		ExtractorIDs:          append([]metadata.ExtractorID(nil), extractorIDs...),
		IncludeSubDirectories: includeSubDirectories,
		state:                 JobStateNone,
	}
}

// Equal compares the identity triple.
func (j *ImportJob) Equal(other *ImportJob) bool {
	if other == nil {
		return false
	}
	return j.BasePath == other.BasePath &&
		j.Type == other.Type &&
		j.IncludeSubDirectories == other.IncludeSubDirectories
}

// Covers reports whether a request for path is already accounted for by
// this job, which is the case when its base path is path or a parent of it.
func (j *ImportJob) Covers(path resource.Path) bool {
	return j.BasePath.IsSameOrParentOf(path)
}

func (j *ImportJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *ImportJob) setState(state JobState) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

// transition moves the job to state only when it is currently in from.
func (j *ImportJob) transition(from, to JobState) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != from {
		return false
	}
	j.state = to
	return true
}

// markErroneous flags a running job as failed. Cancelled jobs stay cancelled.
func (j *ImportJob) markErroneous() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateCancelled {
		j.state = JobStateErroneous
	}
}

// Cancel marks the job cancelled. Calling it again has no further effect.
func (j *ImportJob) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateCancelled {
		j.state = JobStateCancelled
	}
}

func (j *ImportJob) HasPendingResources() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending) > 0
}

// PendingCount returns the frontier size.
func (j *ImportJob) PendingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *ImportJob) firstPending() resource.Handle {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return nil
	}
	return j.pending[0]
}

// start seeds the frontier with the base directory. It fails when the job
// was cancelled after being picked up.
func (j *ImportJob) start(base resource.Handle) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != JobStateScheduled {
		return false
	}
	if base != nil {
		j.pending = []resource.Handle{base}
	}
	j.state = JobStateStarted
	return true
}

// completePending drops h from the front of the frontier.
func (j *ImportJob) completePending(h resource.Handle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) > 0 && j.pending[0] == h {
		j.pending = j.pending[1:]
	}
}

// expandPending replaces the directory at the front of the frontier with
// its files, which go first, and appends its sub directories at the end.
func (j *ImportJob) expandPending(dir resource.Handle, files, subDirectories []resource.Handle) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 || j.pending[0] != dir {
		return
	}
	rest := j.pending[1:]
	pending := make([]resource.Handle, 0, len(files)+len(rest)+len(subDirectories))
	pending = append(pending, files...)
	pending = append(pending, rest...)
	pending = append(pending, subDirectories...)
	j.pending = pending
}

func (j *ImportJob) String() string {
	return fmt.Sprintf("%s job %s (%s)", j.Type, j.BasePath, j.ID)
}

// JobRecord is the persisted form of an ImportJob.
type JobRecord struct {
	ID                    string
	Type                  JobType
	BasePath              string
	IncludeSubDirectories bool
	ExtractorIDs          []string
	PendingResources      []string
	State                 JobState
}

// Record captures the job's state for persistence.
func (j *ImportJob) Record() JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := JobRecord{
		ID:                    j.ID,
		Type:                  j.Type,
		BasePath:              j.BasePath.String(),
		IncludeSubDirectories: j.IncludeSubDirectories,
		State:                 j.state,
		ExtractorIDs:          make([]string, 0, len(j.ExtractorIDs)),
		PendingResources:      make([]string, 0, len(j.pending)),
	}
	for _, id := range j.ExtractorIDs {
		record.ExtractorIDs = append(record.ExtractorIDs, string(id))
	}
	for _, h := range j.pending {
		record.PendingResources = append(record.PendingResources, h.Path().String())
	}
	return record
}

// JobFromRecord rebuilds a job. Pending resources that no longer resolve
// are dropped with a warning.
func JobFromRecord(record JobRecord, accessor resource.Accessor, logger hclog.Logger) (*ImportJob, error) {
	basePath, err := resource.ParsePath(record.BasePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path in job %s: %w", record.ID, err)
	}
	switch record.Type {
	case JobTypeImport, JobTypeRefresh:
	default:
		return nil, fmt.Errorf("unknown job type %q in job %s", record.Type, record.ID)
	}

	ids := make([]metadata.ExtractorID, 0, len(record.ExtractorIDs))
	for _, id := range record.ExtractorIDs {
		ids = append(ids, metadata.ExtractorID(id))
	}
	job := NewImportJob(record.Type, basePath, ids, record.IncludeSubDirectories)
	if record.ID != "" {
		job.ID = record.ID
	}
	job.state = record.State
	if job.state == "" {
		job.state = JobStateNone
	}

	for _, raw := range record.PendingResources {
		p, err := resource.ParsePath(raw)
		if err != nil {
			logger.Warn("dropping invalid pending resource", "job_id", job.ID, "path", raw, "error", err)
			continue
		}
		h, err := accessor.Resolve(p)
		if err != nil {
			logger.Warn("dropping pending resource that no longer resolves", "job_id", job.ID, "path", raw, "error", err)
			continue
		}
		job.pending = append(job.pending, h)
	}
	return job, nil
}

// JobInfo is a read-only snapshot of a queued job.
type JobInfo struct {
	ID                    string                 `json:"id"`
	Type                  JobType                `json:"type"`
	BasePath              string                 `json:"base_path"`
	State                 JobState               `json:"state"`
	IncludeSubDirectories bool                   `json:"include_sub_directories"`
	ExtractorIDs          []metadata.ExtractorID `json:"extractor_ids"`
	PendingResources      int                    `json:"pending_resources"`
}

func (j *ImportJob) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobInfo{
		ID:                    j.ID,
		Type:                  j.Type,
		BasePath:              j.BasePath.String(),
		State:                 j.state,
		IncludeSubDirectories: j.IncludeSubDirectories,
		ExtractorIDs:          append([]metadata.ExtractorID(nil), j.ExtractorIDs...),
		PendingResources:      len(j.pending),
	}
}
