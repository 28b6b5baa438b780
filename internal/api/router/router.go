package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobwire/worker-node/internal/api/handler"
)

// SetupRouter configures and returns the Gin router for the local
// observability API. This surface is for operators and probes only; the
// hub never calls it.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "worker-node",
		})
	})

	statusHandler := handler.NewStatusHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		worker := v1.Group("/worker")
		{
			// GET /api/v1/worker/status - Worker state snapshot
			worker.GET("/status", statusHandler.GetStatus)
		}
	}

	return r
}
