package ops

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all ops routes.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	api := router.Group("/api")
	api.GET("/sessions", handleSessions(opts.Sessions))
	api.GET("/links", handleLinks(opts.Links))
	api.GET("/stream", handleStream(opts.Sessions, opts.Poll))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleSessions(src SessionSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"active":   src.Len(),
			"sessions": src.List(),
		})
	}
}

func handleLinks(src LinkSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	}
}
