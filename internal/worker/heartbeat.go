package worker

import (
	"sync"
	"time"
)

// HeartbeatMonitor times outbound heartbeats and watches for hub silence.
// It tracks the most recent inbound message of any kind; when the silence
// exceeds a multiple of the heartbeat interval the session is treated as
// dead, because a silent hub may already have reassigned this worker's
// jobs elsewhere.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration

	mu          sync.Mutex
	lastInbound time.Time
}

// NewHeartbeatMonitor creates a monitor with the given heartbeat interval
// and liveness multiplier.
func NewHeartbeatMonitor(interval time.Duration, livenessMultiplier int) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		interval: interval,
		timeout:  time.Duration(livenessMultiplier) * interval,
	}
}

// Interval returns the heartbeat emission interval.
func (m *HeartbeatMonitor) Interval() time.Duration {
	return m.interval
}

// Timeout returns the liveness timeout.
func (m *HeartbeatMonitor) Timeout() time.Duration {
	return m.timeout
}

// Reset starts a fresh liveness window, called at session establishment.
func (m *HeartbeatMonitor) Reset(now time.Time) {
	m.mu.Lock()
	m.lastInbound = now
	m.mu.Unlock()
}

// Observe records an inbound message of any kind.
func (m *HeartbeatMonitor) Observe(now time.Time) {
	m.mu.Lock()
	if now.After(m.lastInbound) {
		m.lastInbound = now
	}
	m.mu.Unlock()
}

// Expired reports whether the hub has been silent past the liveness
// timeout.
func (m *HeartbeatMonitor) Expired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastInbound) > m.timeout
}
