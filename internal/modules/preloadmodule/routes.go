package preloadmodule

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type configureRequest struct {
	PreloadRadius         float64 `json:"preload_radius"`
	MaxConcurrentPreloads int     `json:"max_concurrent_preloads"`
}

// RegisterRoutes registers the preload scheduler debug routes
func (s *Scheduler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/preload")
	{
		api.GET("/stats", s.getStatsHandler)
		api.POST("/configure", s.configureHandler)
		api.POST("/clear", s.clearQueueHandler)
	}
}

// getStatsHandler returns the scheduler introspection snapshot
func (s *Scheduler) getStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.GetStats())
}

// configureHandler applies clamped tuning values
func (s *Scheduler) configureHandler(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid configure payload",
		})
		return
	}

	s.Configure(req.PreloadRadius, req.MaxConcurrentPreloads)
	c.JSON(http.StatusOK, gin.H{
		"preload_radius":          s.Radius(),
		"max_concurrent_preloads": s.Concurrency(),
	})
}

// clearQueueHandler drops all unstarted preload jobs
func (s *Scheduler) clearQueueHandler(c *gin.Context) {
	s.ClearQueue()
	c.JSON(http.StatusOK, gin.H{
		"status": "cleared",
	})
}
