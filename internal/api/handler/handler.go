package handler

import (
	"log/slog"

	"github.com/jobwire/worker-node/internal/worker"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Worker *worker.Worker
}
