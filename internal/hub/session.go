package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of one session.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

const recvBuffer = 16

// Session is one logical connection to the hub. A session is created per
// connect attempt and discarded on disconnect; in-flight state from an old
// session never leaks into a new one.
type Session struct {
	seq    int64
	conn   *websocket.Conn
	logger *slog.Logger

	recv chan []byte
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu           sync.Mutex
	state        State
	lastReceived time.Time
}

func newSession(seq int64, conn *websocket.Conn, logger *slog.Logger) *Session {
	s := &Session{
		seq:    seq,
		conn:   conn,
		logger: logger,
		recv:   make(chan []byte, recvBuffer),
		done:   make(chan struct{}),
		state:  StateOpen,
	}
	go s.readLoop()
	return s
}

// Seq returns the session sequence number.
func (s *Session) Seq() int64 {
	return s.seq
}

// Recv returns the channel of raw inbound messages. The channel is closed
// when the session ends and is never restarted.
func (s *Session) Recv() <-chan []byte {
	return s.recv
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastReceived returns when the last message arrived on this session.
func (s *Session) LastReceived() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceived
}

// Send transmits one text message. Writes are serialized so outbound order
// matches the order callers produced the messages.
func (s *Session) Send(msg []byte) error {
	if s.State() != StateOpen {
		return fmt.Errorf("session %d is not open", s.seq)
	}

	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.TextMessage, msg)
	s.writeMu.Unlock()

	if err != nil {
		s.fail()
		return fmt.Errorf("failed to send on session %d: %w", s.seq, err)
	}
	return nil
}

// Close tears the session down. Idempotent; also used by the liveness
// timeout to force a reconnect.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateOpen {
			s.state = StateClosed
		}
		s.mu.Unlock()

		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *Session) fail() {
	s.mu.Lock()
	if s.state == StateOpen {
		s.state = StateFailed
	}
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer close(s.recv)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == StateOpen {
				s.logger.Warn("Hub connection read error",
					slog.Int64("session_seq", s.seq),
					slog.Any("error", err),
				)
				s.fail()
				_ = s.conn.Close()
			}
			return
		}

		s.mu.Lock()
		s.lastReceived = time.Now()
		s.mu.Unlock()

		select {
		case s.recv <- data:
		case <-s.done:
			return
		}
	}
}
