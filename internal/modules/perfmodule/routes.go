package perfmodule

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the performance monitor debug routes
func (m *Monitor) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/perf")
	{
		api.GET("/metrics", m.getMetricsHandler)
		api.GET("/status", m.getStatusHandler)
		api.GET("/grade", m.getGradeHandler)
		api.GET("/recommendations", m.getRecommendationsHandler)
	}
}

// getMetricsHandler returns the current metrics snapshot
func (m *Monitor) getMetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, m.GetMetrics())
}

// getStatusHandler returns the threshold verdict
func (m *Monitor) getStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, m.GetPerformanceStatus())
}

// getGradeHandler returns the letter grade
func (m *Monitor) getGradeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"grade": m.GetPerformanceGrade(),
	})
}

// getRecommendationsHandler returns advisory tuning values
func (m *Monitor) getRecommendationsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, m.GetRecommendations())
}
