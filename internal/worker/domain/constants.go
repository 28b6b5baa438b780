package domain

// JobStatus is the lifecycle status of a single job on this worker.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Outcome is the terminal result of a job as reported to the hub.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
)

// WorkerStatus is the worker-level status advertised to the hub.
// busy and idle are derived from the active-job count, never set directly.
type WorkerStatus string

const (
	WorkerStatusIdle         WorkerStatus = "idle"
	WorkerStatusBusy         WorkerStatus = "busy"
	WorkerStatusDraining     WorkerStatus = "draining"
	WorkerStatusDisconnected WorkerStatus = "disconnected"
)

// WorkerState is the connection-level state of the worker state machine.
type WorkerState string

const (
	StateDisconnected WorkerState = "disconnected"
	StateConnecting   WorkerState = "connecting"
	StateAdvertising  WorkerState = "advertising"
	StateReady        WorkerState = "ready"
	StateDraining     WorkerState = "draining"
)
