package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Valid worker-level status values on the wire.
var validStatuses = map[string]bool{
	"idle":         true,
	"busy":         true,
	"draining":     true,
	"disconnected": true,
}

// Valid terminal outcome values on the wire.
var validOutcomes = map[string]bool{
	"succeeded": true,
	"failed":    true,
	"cancelled": true,
	"rejected":  true,
}

// WorkerStatus advertises worker identity, status, active jobs, and
// capabilities. Sent on every new session and after every admission change.
type WorkerStatus struct {
	WorkerID     string
	Status       string
	ActiveJobIDs []string
	Capabilities map[string]Capability
	Timestamp    float64

	raw []byte
}

// NewWorkerStatus builds a validated worker_status message.
func NewWorkerStatus(workerID, status string, activeJobIDs []string, capabilities map[string]Capability) (*WorkerStatus, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker_status: worker_id is required")
	}
	if !validStatuses[status] {
		return nil, fmt.Errorf("worker_status: invalid status %q", status)
	}
	if activeJobIDs == nil {
		activeJobIDs = []string{}
	}
	m := &WorkerStatus{
		WorkerID:     workerID,
		Status:       status,
		ActiveJobIDs: activeJobIDs,
		Capabilities: capabilities,
		Timestamp:    unixSeconds(time.Now()),
	}
	raw, err := json.Marshal(struct {
		Type         string                `json:"type"`
		WorkerID     string                `json:"worker_id"`
		Status       string                `json:"status"`
		ActiveJobIDs []string              `json:"active_job_ids"`
		Capabilities map[string]Capability `json:"capabilities"`
		Timestamp    float64               `json:"timestamp"`
	}{TypeWorkerStatus, m.WorkerID, m.Status, m.ActiveJobIDs, m.Capabilities, m.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("worker_status: capabilities not encodable: %w", err)
	}
	m.raw = raw
	return m, nil
}

func (m *WorkerStatus) MessageType() string { return TypeWorkerStatus }
func (m *WorkerStatus) Encode() []byte      { return m.raw }

// Heartbeat is the periodic liveness signal.
type Heartbeat struct {
	WorkerID  string
	Timestamp float64

	raw []byte
}

// NewHeartbeat builds a validated worker_heartbeat message.
func NewHeartbeat(workerID string, at time.Time) (*Heartbeat, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker_heartbeat: worker_id is required")
	}
	m := &Heartbeat{WorkerID: workerID, Timestamp: unixSeconds(at)}
	raw, err := json.Marshal(struct {
		Type      string  `json:"type"`
		WorkerID  string  `json:"worker_id"`
		Timestamp float64 `json:"timestamp"`
	}{TypeWorkerHeartbeat, m.WorkerID, m.Timestamp})
	if err != nil {
		return nil, err
	}
	m.raw = raw
	return m, nil
}

func (m *Heartbeat) MessageType() string { return TypeWorkerHeartbeat }
func (m *Heartbeat) Encode() []byte      { return m.raw }

// JobResult reports the terminal outcome of one job. Exactly one of Result
// or Error is meaningful: succeeded carries a result payload, every other
// outcome carries an error description.
type JobResult struct {
	JobID     string
	Outcome   string
	Result    map[string]interface{}
	Error     string
	Timestamp float64

	raw []byte
}

// NewJobResult builds a validated job_result message.
func NewJobResult(jobID, outcome string, result map[string]interface{}, errMsg string) (*JobResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_result: job_id is required")
	}
	if !validOutcomes[outcome] {
		return nil, fmt.Errorf("job_result: invalid outcome %q", outcome)
	}
	if outcome != "succeeded" && errMsg == "" {
		return nil, fmt.Errorf("job_result: outcome %s requires an error description", outcome)
	}
	if outcome == "succeeded" && result == nil {
		result = map[string]interface{}{}
	}
	m := &JobResult{
		JobID:     jobID,
		Outcome:   outcome,
		Result:    result,
		Error:     errMsg,
		Timestamp: unixSeconds(time.Now()),
	}
	raw, err := json.Marshal(struct {
		Type      string                 `json:"type"`
		JobID     string                 `json:"job_id"`
		Outcome   string                 `json:"outcome"`
		Result    map[string]interface{} `json:"result,omitempty"`
		Error     string                 `json:"error,omitempty"`
		Timestamp float64                `json:"timestamp"`
	}{TypeJobResult, m.JobID, m.Outcome, m.Result, m.Error, m.Timestamp})
	if err != nil {
		return nil, fmt.Errorf("job_result: result not encodable: %w", err)
	}
	m.raw = raw
	return m, nil
}

func (m *JobResult) MessageType() string { return TypeJobResult }
func (m *JobResult) Encode() []byte      { return m.raw }

// JobProgress reports intermediate progress for one running job.
type JobProgress struct {
	JobID    string
	Fraction float64
	Note     string

	raw []byte
}

// NewJobProgress builds a validated job_progress message. Fraction must be
// within [0, 1]; a bare note with fraction 0 is allowed.
func NewJobProgress(jobID string, fraction float64, note string) (*JobProgress, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job_progress: job_id is required")
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("job_progress: fraction %v out of range", fraction)
	}
	m := &JobProgress{JobID: jobID, Fraction: fraction, Note: note}
	raw, err := json.Marshal(struct {
		Type     string  `json:"type"`
		JobID    string  `json:"job_id"`
		Fraction float64 `json:"fraction"`
		Note     string  `json:"note,omitempty"`
	}{TypeJobProgress, m.JobID, m.Fraction, m.Note})
	if err != nil {
		return nil, err
	}
	m.raw = raw
	return m, nil
}

func (m *JobProgress) MessageType() string { return TypeJobProgress }
func (m *JobProgress) Encode() []byte      { return m.raw }
