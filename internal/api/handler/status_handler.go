package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobwire/worker-node/internal/worker"
)

// StatusHandler serves the local worker observability endpoints.
type StatusHandler struct {
	worker *worker.Worker
}

// NewStatusHandler creates a new StatusHandler instance
func NewStatusHandler(deps *Dependencies) *StatusHandler {
	return &StatusHandler{worker: deps.Worker}
}

// GetStatus returns a consistent snapshot of worker state: connection
// state, derived status, active jobs, capabilities, and buffered results.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.worker.Snapshot())
}
