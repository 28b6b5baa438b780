// Package hub owns the transport link to the hub: dialing, per-session
// receive loops, ordered sends, and reconnect backoff. It carries no
// protocol semantics beyond framing.
package hub

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live session to the hub. The worker state machine consumes
// this interface so it can be driven by a fake link in tests.
type Conn interface {
	// Seq returns the monotonically increasing session sequence number.
	Seq() int64
	// Recv returns the session's receive channel. It is closed exactly
	// once at end-of-session and never restarted.
	Recv() <-chan []byte
	// Send transmits one message. Sends are FIFO per session.
	Send(msg []byte) error
	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer establishes sessions to the hub.
type Dialer interface {
	Connect(ctx context.Context) (Conn, error)
}

// Config holds connection manager settings.
type Config struct {
	// URL is the full worker endpoint, e.g. ws://hub:8001/ws/worker/<id>.
	URL               string
	HandshakeTimeout  time.Duration
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	// BackoffJitter is the +/- fraction applied to each backoff delay.
	BackoffJitter float64
}

// Manager dials the hub and hands out sessions. Reconnect policy lives
// here: Connect keeps retrying with capped exponential backoff until the
// context is cancelled, and the delay survives across calls so the first
// redial after a dropped session is also backed off, not immediate.
type Manager struct {
	cfg    *Config
	logger *slog.Logger
	seq    atomic.Int64

	mu sync.Mutex
	// delay is waited out before the next dial. Zero only before the very
	// first session; armed back to the initial delay on every successful
	// connect so a dropped session reconnects after the configured initial
	// backoff.
	delay time.Duration
}

// NewManager creates a connection manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Connect establishes a new session, retrying indefinitely with backoff.
// It returns only a live session or the context's error. Every session it
// returns carries a fresh sequence number; old sessions are never reused.
func (m *Manager) Connect(ctx context.Context) (Conn, error) {
	for attempt := 1; ; attempt++ {
		if delay := m.currentDelay(); delay > 0 {
			wait := jitter(delay, m.cfg.BackoffJitter)
			m.logger.Info("Reconnect scheduled",
				slog.String("url", m.cfg.URL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		session, err := m.dial(ctx)
		if err == nil {
			m.setDelay(m.cfg.BackoffInitial)
			m.logger.Info("Connected to hub",
				slog.String("url", m.cfg.URL),
				slog.Int64("session_seq", session.Seq()),
				slog.Int("attempt", attempt),
			)
			return session, nil
		}

		m.growDelay()
		m.logger.Warn("Failed to connect to hub, retrying",
			slog.String("url", m.cfg.URL),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) currentDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

func (m *Manager) setDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

func (m *Manager) growDelay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delay == 0 {
		m.delay = m.cfg.BackoffInitial
		return
	}
	m.delay = time.Duration(float64(m.delay) * m.cfg.BackoffMultiplier)
	if m.delay > m.cfg.BackoffMax {
		m.delay = m.cfg.BackoffMax
	}
}

func (m *Manager) dial(ctx context.Context) (*Session, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	return newSession(m.seq.Add(1), conn, m.logger), nil
}

// jitter spreads a delay by +/- frac so reconnecting workers don't stampede
// the hub in lockstep.
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := 1 + frac*(2*rand.Float64()-1)
	return time.Duration(float64(d) * spread)
}
