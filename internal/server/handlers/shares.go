package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mantonx/viewra-importer/internal/errors"
	"github.com/mantonx/viewra-importer/internal/resource"
	"github.com/mantonx/viewra-importer/internal/shares"
)

// ShareManager registers and removes shares
type ShareManager interface {
	List() []shares.Share
	Register(ctx context.Context, share shares.Share) (shares.Share, error)
	Remove(ctx context.Context, path resource.Path) error
	RefreshAll() int
}

// SharesHandler serves the share endpoints
type SharesHandler struct {
	manager ShareManager
}

func NewSharesHandler(manager ShareManager) *SharesHandler {
	return &SharesHandler{manager: manager}
}

type shareRequest struct {
	Name                  string   `json:"name"`
	Path                  string   `json:"path" binding:"required"`
	Categories            []string `json:"categories"`
	IncludeSubDirectories *bool    `json:"include_sub_directories"`
	Watch                 bool     `json:"watch"`
}

func (h *SharesHandler) ListShares(c *gin.Context) {
	list := h.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"shares": list,
		"count":  len(list),
	})
}

// CreateShare registers a share and schedules its first import
func (h *SharesHandler) CreateShare(c *gin.Context) {
	var req shareRequest
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

	share, err := h.manager.Register(c.Request.Context(), shares.Share{
		Name:                  req.Name,
		Path:                  path,
		Categories:            req.Categories,
		IncludeSubDirectories: includeSub,
		Watch:                 req.Watch,
	})
	if errors.Is(err, shares.ErrShareExists) {
		apperrors.NewConflictError("share already exists", map[string]interface{}{"path": path.String()}).ToGinResponse(c)
		return
	}
	if err != nil {
		apperrors.HandleInternalError(c, "failed to register share", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"share": share})
}

// DeleteShare removes the share given by the path query parameter
func (h *SharesHandler) DeleteShare(c *gin.Context) {
	path, err := resource.ParsePath(c.Query("path"))
	if err != nil {
		apperrors.HandleValidationError(c, err.Error(), "path")
		return
	}

	err = h.manager.Remove(c.Request.Context(), path)
	if errors.Is(err, shares.ErrShareNotFound) {
		apperrors.HandleNotFound(c, "share", path.String())
		return
	}
	if err != nil {
		apperrors.HandleInternalError(c, "failed to remove share", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": path.String()})
}

// RefreshShares schedules a refresh of every share
func (h *SharesHandler) RefreshShares(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"scheduled": h.manager.RefreshAll()})
}
