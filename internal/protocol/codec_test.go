package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      Inbound
		wantErr   error
		wantShape bool
	}{
		{
			name: "connection established",
			raw:  `{"type":"connection_established","worker_id":"worker-abc","message":"welcome","timestamp":1700000000.5}`,
			want: ConnectionEstablished{WorkerID: "worker-abc", Message: "welcome", Timestamp: 1700000000.5},
		},
		{
			name: "job assigned",
			raw:  `{"type":"job_assigned","job_id":"job-1","job_type":"render","payload":{"frame":1},"constraints":{"timeout_seconds":30}}`,
			want: JobAssigned{
				JobID:       "job-1",
				JobType:     "render",
				Payload:     map[string]interface{}{"frame": float64(1)},
				Constraints: map[string]interface{}{"timeout_seconds": float64(30)},
			},
		},
		{
			name: "heartbeat ack",
			raw:  `{"type":"worker_heartbeat","timestamp":1700000001}`,
			want: HeartbeatAck{Timestamp: 1700000001},
		},
		{
			name: "heartbeat ack without timestamp",
			raw:  `{"type":"worker_heartbeat"}`,
			want: HeartbeatAck{},
		},
		{
			name: "job cancelled",
			raw:  `{"type":"job_cancelled","job_id":"job-1"}`,
			want: JobCancelled{JobID: "job-1"},
		},
		{
			name:    "not json",
			raw:     `this is not json`,
			wantErr: ErrMalformed,
		},
		{
			name:    "bare number",
			raw:     `42`,
			wantErr: ErrMalformed,
		},
		{
			name:      "job assigned missing job_id",
			raw:       `{"type":"job_assigned","job_type":"render"}`,
			wantShape: true,
		},
		{
			name:      "job assigned missing job_type",
			raw:       `{"type":"job_assigned","job_id":"job-1"}`,
			wantShape: true,
		},
		{
			name:      "job assigned with non-object payload",
			raw:       `{"type":"job_assigned","job_id":"job-1","job_type":"render","payload":"oops"}`,
			wantShape: true,
		},
		{
			name:      "job cancelled missing job_id",
			raw:       `{"type":"job_cancelled"}`,
			wantShape: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, got)
				return
			}
			if tt.wantShape {
				require.Error(t, err)
				var shapeErr *InvalidShapeError
				assert.True(t, errors.As(err, &shapeErr))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_UnknownTypesAreTolerated(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
	}{
		{
			name:     "unrecognized type",
			raw:      `{"type":"hub_gossip","detail":"whatever"}`,
			wantType: "hub_gossip",
		},
		{
			name:     "missing type",
			raw:      `{"job_id":"job-1"}`,
			wantType: "",
		},
		{
			name:     "null",
			raw:      `null`,
			wantType: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)

			unknown, ok := got.(Unknown)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, unknown.Type)
			assert.Equal(t, []byte(tt.raw), unknown.Raw)
		})
	}
}

func TestNewWorkerStatus(t *testing.T) {
	caps := map[string]Capability{
		"render": {Slots: 2, Metadata: map[string]interface{}{"gpu": true}},
	}

	t.Run("valid", func(t *testing.T) {
		msg, err := NewWorkerStatus("worker-1", "busy", []string{"job-1"}, caps)
		require.NoError(t, err)

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Encode(), &wire))
		assert.Equal(t, "worker_status", wire["type"])
		assert.Equal(t, "worker-1", wire["worker_id"])
		assert.Equal(t, "busy", wire["status"])
		assert.Equal(t, []interface{}{"job-1"}, wire["active_job_ids"])
		assert.Contains(t, wire, "capabilities")
		assert.Contains(t, wire, "timestamp")
	})

	t.Run("nil active ids encode as empty list", func(t *testing.T) {
		msg, err := NewWorkerStatus("worker-1", "idle", nil, caps)
		require.NoError(t, err)

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Encode(), &wire))
		assert.Equal(t, []interface{}{}, wire["active_job_ids"])
	})

	t.Run("missing worker id", func(t *testing.T) {
		_, err := NewWorkerStatus("", "idle", nil, caps)
		require.Error(t, err)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := NewWorkerStatus("worker-1", "sleeping", nil, caps)
		require.Error(t, err)
	})
}

func TestNewJobResult(t *testing.T) {
	tests := []struct {
		name    string
		jobID   string
		outcome string
		result  map[string]interface{}
		errMsg  string
		wantErr bool
	}{
		{
			name:    "succeeded with payload",
			jobID:   "job-1",
			outcome: "succeeded",
			result:  map[string]interface{}{"frames": 10},
		},
		{
			name:    "succeeded with nil payload",
			jobID:   "job-1",
			outcome: "succeeded",
		},
		{
			name:    "failed with error",
			jobID:   "job-1",
			outcome: "failed",
			errMsg:  "render crashed",
		},
		{
			name:    "rejected with reason",
			jobID:   "job-1",
			outcome: "rejected",
			errMsg:  "no free execution slot for capability",
		},
		{
			name:    "failed without error description",
			jobID:   "job-1",
			outcome: "failed",
			wantErr: true,
		},
		{
			name:    "missing job id",
			outcome: "succeeded",
			wantErr: true,
		},
		{
			name:    "invalid outcome",
			jobID:   "job-1",
			outcome: "exploded",
			errMsg:  "boom",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewJobResult(tt.jobID, tt.outcome, tt.result, tt.errMsg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			var wire map[string]interface{}
			require.NoError(t, json.Unmarshal(msg.Encode(), &wire))
			assert.Equal(t, "job_result", wire["type"])
			assert.Equal(t, tt.jobID, wire["job_id"])
			assert.Equal(t, tt.outcome, wire["outcome"])
		})
	}
}

func TestNewHeartbeatAndProgress(t *testing.T) {
	t.Run("heartbeat", func(t *testing.T) {
		msg, err := NewHeartbeat("worker-1", time.Now())
		require.NoError(t, err)

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Encode(), &wire))
		assert.Equal(t, "worker_heartbeat", wire["type"])
		assert.Equal(t, "worker-1", wire["worker_id"])
		assert.Greater(t, wire["timestamp"], float64(0))
	})

	t.Run("heartbeat requires worker id", func(t *testing.T) {
		_, err := NewHeartbeat("", time.Now())
		require.Error(t, err)
	})

	t.Run("progress", func(t *testing.T) {
		msg, err := NewJobProgress("job-1", 0.5, "halfway")
		require.NoError(t, err)

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Encode(), &wire))
		assert.Equal(t, "job_progress", wire["type"])
		assert.Equal(t, 0.5, wire["fraction"])
		assert.Equal(t, "halfway", wire["note"])
	})

	t.Run("progress fraction out of range", func(t *testing.T) {
		_, err := NewJobProgress("job-1", 1.5, "")
		require.Error(t, err)
	})
}
