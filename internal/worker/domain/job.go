package domain

import "time"

// JobRecord is the worker's local tracking entity for one assigned job,
// from admission to reported terminal result.
type JobRecord struct {
	JobID       string
	JobType     string
	Payload     map[string]interface{}
	Constraints map[string]interface{}
	Status      JobStatus
	StartedAt   time.Time

	// Cancelled marks a job whose result must be reported as cancelled
	// regardless of how the execution itself ends.
	Cancelled bool
}
