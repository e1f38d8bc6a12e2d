package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/viewra-importer/internal/errors"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// Importer is the job control surface of the import worker
type Importer interface {
	IsSuspended() bool
	Jobs() []importer.JobInfo
	ScheduleImport(path resource.Path, categories []string, includeSubDirectories bool) *importer.ImportJob
	ScheduleRefresh(path resource.Path, categories []string, includeSubDirectories bool) *importer.ImportJob
	CancelPendingJobs()
	CancelJobsForPath(path resource.Path)
	Suspend()
	Activate(browsing importer.MediaBrowsing, results importer.ResultHandler)
}

// ItemCounter reports the catalog size
type ItemCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ImporterHandler serves the importer endpoints
type ImporterHandler struct {
	importer Importer
	browsing importer.MediaBrowsing
	results  importer.ResultHandler
	counter  ItemCounter
}

// NewImporterHandler creates the handler. Activate binds browsing and
// results to the worker. counter may be nil.
func NewImporterHandler(imp Importer, browsing importer.MediaBrowsing, results importer.ResultHandler, counter ItemCounter) *ImporterHandler {
	return &ImporterHandler{
		importer: imp,
		browsing: browsing,
		results:  results,
		counter:  counter,
	}
}

type scheduleRequest struct {
	Path                  string   `json:"path" binding:"required"`
	Categories            []string `json:"categories"`
	IncludeSubDirectories *bool    `json:"include_sub_directories"`
}

// GetStatus returns whether the worker runs, its queue and the catalog size
func (h *ImporterHandler) GetStatus(c *gin.Context) {
	response := gin.H{
		"suspended": h.importer.IsSuspended(),
		"jobs":      h.importer.Jobs(),
	}
	if h.counter != nil {
		count, err := h.counter.Count(c.Request.Context())
		if err != nil {
			apperrors.HandleDatabaseError(c, "count media items", err)
			return
		}
		response["media_items"] = count
	}
	c.JSON(http.StatusOK, response)
}

// ListJobs returns the queued jobs, head first
func (h *ImporterHandler) ListJobs(c *gin.Context) {
	jobs := h.importer.Jobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// ScheduleImport queues a full import
func (h *ImporterHandler) ScheduleImport(c *gin.Context) {
	h.schedule(c, h.importer.ScheduleImport)
}

// ScheduleRefresh queues an incremental refresh
func (h *ImporterHandler) ScheduleRefresh(c *gin.Context) {
	h.schedule(c, h.importer.ScheduleRefresh)
}

func (h *ImporterHandler) schedule(c *gin.Context, schedule func(resource.Path, []string, bool) *importer.ImportJob) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "path")
		return
	}

	path, err := resource.ParsePath(req.Path)
	if err != nil {
		apperrors.HandleValidationError(c, err.Error(), "path")
		return
	}

	includeSub := true
	if req.IncludeSubDirectories != nil {
		includeSub = *req.IncludeSubDirectories
	}

	job := schedule(path, req.Categories, includeSub)
	if job == nil {
		apperrors.NewConflictError("a queued job already covers this path", map[string]interface{}{
			"path": path.String(),
		}).ToGinResponse(c)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job.Info()})
}

// CancelJobs cancels the jobs below the path query parameter, or every
// queued job when it is absent
func (h *ImporterHandler) CancelJobs(c *gin.Context) {
	if raw := c.Query("path"); raw != "" {
		path, err := resource.ParsePath(raw)
		if err != nil {
			apperrors.HandleValidationError(c, err.Error(), "path")
			return
		}
		h.importer.CancelJobsForPath(path)
	} else {
		h.importer.CancelPendingJobs()
	}

	c.JSON(http.StatusOK, gin.H{"jobs": h.importer.Jobs()})
}

// Suspend stops the import loop; the current job resumes on Activate
func (h *ImporterHandler) Suspend(c *gin.Context) {
	h.importer.Suspend()
	c.JSON(http.StatusOK, gin.H{"suspended": true})
}

// Activate starts the import loop
func (h *ImporterHandler) Activate(c *gin.Context) {
	h.importer.Activate(h.browsing, h.results)
	c.JSON(http.StatusOK, gin.H{"suspended": false})
}
