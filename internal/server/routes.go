package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/viewra-importer/internal/server/handlers"
)

// setupRoutes registers the control API
func (s *Server) setupRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		api.GET("/events", s.hub.ServeWS)

		if s.deps.Importer != nil {
			importerHandler := handlers.NewImporterHandler(s.deps.Importer, s.deps.Browsing, s.deps.Results, s.deps.Counter)
			imp := api.Group("/importer")
			{
				imp.GET("/status", importerHandler.GetStatus)
				imp.GET("/jobs", importerHandler.ListJobs)
				imp.DELETE("/jobs", importerHandler.CancelJobs)
				imp.POST("/import", importerHandler.ScheduleImport)
				imp.POST("/refresh", importerHandler.ScheduleRefresh)
				imp.POST("/suspend", importerHandler.Suspend)
				imp.POST("/activate", importerHandler.Activate)
			}
		}

		if s.deps.Shares != nil {
			sharesHandler := handlers.NewSharesHandler(s.deps.Shares)
			shares := api.Group("/shares")
			{
				shares.GET("", sharesHandler.ListShares)
				shares.POST("", sharesHandler.CreateShare)
				shares.DELETE("", sharesHandler.DeleteShare)
				shares.POST("/refresh", sharesHandler.RefreshShares)
			}
		}
	}
}
