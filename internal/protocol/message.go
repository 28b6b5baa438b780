// Package protocol implements the worker side of the hub wire protocol:
// decoding raw hub messages into a closed set of typed variants and
// encoding outbound worker messages. It has no network or state knowledge.
package protocol

import (
	"time"
)

// Wire type discriminator values. worker_heartbeat is used in both
// directions: the worker emits it and the hub echoes it as an ack.
const (
	TypeConnectionEstablished = "connection_established"
	TypeJobAssigned           = "job_assigned"
	TypeJobCancelled          = "job_cancelled"
	TypeWorkerHeartbeat       = "worker_heartbeat"
	TypeWorkerStatus          = "worker_status"
	TypeJobResult             = "job_result"
	TypeJobProgress           = "job_progress"
)

// Inbound is a message received from the hub, decoded into exactly one of
// the closed set of variants below.
type Inbound interface {
	isInbound()
}

// ConnectionEstablished is the hub's session greeting.
type ConnectionEstablished struct {
	WorkerID  string
	Message   string
	Timestamp float64
}

// JobAssigned assigns one job to this worker.
type JobAssigned struct {
	JobID       string
	JobType     string
	Payload     map[string]interface{}
	Constraints map[string]interface{}
}

// HeartbeatAck acknowledges a worker heartbeat.
type HeartbeatAck struct {
	Timestamp float64
}

// JobCancelled requests cooperative cancellation of an assigned job.
type JobCancelled struct {
	JobID string
}

// Unknown carries a message whose type tag is absent or unrecognized.
// It is tolerated upstream, never an error.
type Unknown struct {
	Type string
	Raw  []byte
}

func (ConnectionEstablished) isInbound() {}
func (JobAssigned) isInbound()           {}
func (HeartbeatAck) isInbound()          {}
func (JobCancelled) isInbound()          {}
func (Unknown) isInbound()               {}

// Capability describes one declared capability in a worker_status message.
type Capability struct {
	Slots    int                    `json:"slots"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Outbound is a message the worker sends to the hub. Values are built only
// through the New* constructors, which validate fields and pre-encode the
// wire form, so Encode never fails.
type Outbound interface {
	// MessageType returns the wire type discriminator.
	MessageType() string
	// Encode returns the wire form of the message. Total for any value
	// produced by a constructor.
	Encode() []byte
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
