package worker

import (
	"time"

	"github.com/jobwire/worker-node/internal/protocol"
	"github.com/jobwire/worker-node/internal/worker/domain"
)

// JobSnapshot is a read-only view of one active job.
type JobSnapshot struct {
	JobID     string           `json:"job_id"`
	JobType   string           `json:"job_type"`
	Status    domain.JobStatus `json:"status"`
	Cancelled bool             `json:"cancelled"`
	StartedAt time.Time        `json:"started_at"`
}

// Snapshot is a consistent read-only view of worker state for the local
// status API.
type Snapshot struct {
	WorkerID        string                         `json:"worker_id"`
	State           domain.WorkerState             `json:"state"`
	Status          domain.WorkerStatus            `json:"status"`
	SessionSeq      int64                          `json:"session_seq"`
	ActiveJobs      []JobSnapshot                  `json:"active_jobs"`
	Capabilities    map[string]protocol.Capability `json:"capabilities"`
	BufferedResults int                            `json:"buffered_results"`
}

// Snapshot captures the active set, status, and session under one lock so
// observers never see the busy/active-count invariant violated.
func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := make([]JobSnapshot, 0, len(w.active))
	for _, rec := range w.active {
		jobs = append(jobs, JobSnapshot{
			JobID:     rec.JobID,
			JobType:   rec.JobType,
			Status:    rec.Status,
			Cancelled: rec.Cancelled,
			StartedAt: rec.StartedAt,
		})
	}

	status := domain.WorkerStatusIdle
	switch {
	case w.draining:
		status = domain.WorkerStatusDraining
	case w.state == domain.StateDisconnected || w.state == domain.StateConnecting:
		status = domain.WorkerStatusDisconnected
	case len(w.active) > 0:
		status = domain.WorkerStatusBusy
	}

	return Snapshot{
		WorkerID:        w.workerID,
		State:           w.state,
		Status:          status,
		SessionSeq:      w.sessionSeq,
		ActiveJobs:      jobs,
		Capabilities:    w.registry.Advertise(),
		BufferedResults: len(w.unreported),
	}
}
