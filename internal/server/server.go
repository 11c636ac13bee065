package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velocut/velocut/internal/config"
)

// RouteRegistrar is implemented by every module that exposes debug routes.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// SetupRouter configures the debug/introspection router and mounts every
// module's routes.
func SetupRouter(cfg config.ServerConfig, modules ...RouteRegistrar) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.EnableCORS {
		r.Use(func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}

			c.Next()
		})
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, m := range modules {
		m.RegisterRoutes(r)
	}

	return r
}

// Addr formats the listen address for the configured host and port.
func Addr(cfg config.ServerConfig) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}
