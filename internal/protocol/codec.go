package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when an inbound frame is not valid JSON.
var ErrMalformed = errors.New("malformed message")

// InvalidShapeError is returned when a recognized message type is missing
// required fields or carries fields of the wrong type.
type InvalidShapeError struct {
	Type   string
	Detail string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid %s message: %s", e.Type, e.Detail)
}

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one raw hub frame into a typed Inbound variant.
//
// Non-JSON input yields ErrMalformed. Valid JSON with an absent or
// unrecognized type tag yields Unknown (not an error), so unexpected hub
// traffic can never crash the read loop. A recognized type with a bad
// shape yields *InvalidShapeError.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeConnectionEstablished:
		return decodeConnectionEstablished(raw)
	case TypeJobAssigned:
		return decodeJobAssigned(raw)
	case TypeWorkerHeartbeat:
		return decodeHeartbeatAck(raw)
	case TypeJobCancelled:
		return decodeJobCancelled(raw)
	default:
		return Unknown{Type: env.Type, Raw: raw}, nil
	}
}

func decodeConnectionEstablished(raw []byte) (Inbound, error) {
	var m struct {
		WorkerID  string  `json:"worker_id"`
		Message   string  `json:"message"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &InvalidShapeError{Type: TypeConnectionEstablished, Detail: err.Error()}
	}
	return ConnectionEstablished{
		WorkerID:  m.WorkerID,
		Message:   m.Message,
		Timestamp: m.Timestamp,
	}, nil
}

func decodeJobAssigned(raw []byte) (Inbound, error) {
	var m struct {
		JobID       string                 `json:"job_id"`
		JobType     string                 `json:"job_type"`
		Payload     map[string]interface{} `json:"payload"`
		Constraints map[string]interface{} `json:"constraints"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &InvalidShapeError{Type: TypeJobAssigned, Detail: err.Error()}
	}
	if m.JobID == "" {
		return nil, &InvalidShapeError{Type: TypeJobAssigned, Detail: "job_id is required"}
	}
	if m.JobType == "" {
		return nil, &InvalidShapeError{Type: TypeJobAssigned, Detail: "job_type is required"}
	}
	return JobAssigned{
		JobID:       m.JobID,
		JobType:     m.JobType,
		Payload:     m.Payload,
		Constraints: m.Constraints,
	}, nil
}

// decodeHeartbeatAck tolerates a missing timestamp: receipt of the ack is
// what resets liveness, the echoed timestamp is informational only.
func decodeHeartbeatAck(raw []byte) (Inbound, error) {
	var m struct {
		Timestamp float64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &InvalidShapeError{Type: TypeWorkerHeartbeat, Detail: err.Error()}
	}
	return HeartbeatAck{Timestamp: m.Timestamp}, nil
}

func decodeJobCancelled(raw []byte) (Inbound, error) {
	var m struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &InvalidShapeError{Type: TypeJobCancelled, Detail: err.Error()}
	}
	if m.JobID == "" {
		return nil, &InvalidShapeError{Type: TypeJobCancelled, Detail: "job_id is required"}
	}
	return JobCancelled{JobID: m.JobID}, nil
}
