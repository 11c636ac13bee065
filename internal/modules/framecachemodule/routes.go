package framecachemodule

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the frame cache debug routes
func (m *Manager) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/framecache")
	{
		api.GET("/stats", m.getStatsHandler)
		api.POST("/clear", m.clearHandler)
	}
}

// getStatsHandler returns the cache introspection snapshot
func (m *Manager) getStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, m.Stats())
}

// clearHandler drops all cached frames and tears down decoder pools
func (m *Manager) clearHandler(c *gin.Context) {
	m.ClearAll()
	c.JSON(http.StatusOK, gin.H{
		"status": "cleared",
	})
}
