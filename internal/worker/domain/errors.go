package domain

import "errors"

var (
	// ErrDuplicateJob is returned when a job_id is already active on this worker
	ErrDuplicateJob = errors.New("job_id already active")

	// ErrUnknownCapability is returned when a job_type is not in the capability set
	ErrUnknownCapability = errors.New("job_type not in capability set")

	// ErrNoFreeSlot is returned when the executor pool has no free slot for the capability
	ErrNoFreeSlot = errors.New("no free execution slot for capability")

	// ErrDraining is returned when the worker no longer accepts new jobs
	ErrDraining = errors.New("worker is draining")
)

// AdmissionError wraps the reason a job assignment was rejected. It is
// reported to the hub as outcome=rejected, never surfaced as a failure of
// the worker itself.
type AdmissionError struct {
	JobID string
	Err   error
}

func (e *AdmissionError) Error() string {
	return "job " + e.JobID + " rejected: " + e.Err.Error()
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// NewAdmissionError creates an admission rejection for a job.
func NewAdmissionError(jobID string, err error) *AdmissionError {
	return &AdmissionError{JobID: jobID, Err: err}
}
