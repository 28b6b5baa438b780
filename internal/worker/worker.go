// Package worker implements the worker-side protocol state machine: it
// consumes decoded hub events, admits work into the executor pool, derives
// the advertised worker status, and emits status, heartbeat, progress, and
// result messages.
package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jobwire/worker-node/internal/hub"
	"github.com/jobwire/worker-node/internal/protocol"
	"github.com/jobwire/worker-node/internal/worker/domain"
)

// Config holds worker dependencies and settings.
type Config struct {
	Logger     *slog.Logger
	WorkerID   string
	Registry   *Registry
	Pool       *Pool
	Dialer     hub.Dialer
	Monitor    *HeartbeatMonitor
	DrainGrace time.Duration
}

// Worker is the protocol state machine. All state mutation happens on the
// single Run goroutine; the mutex exists so snapshot readers (the local
// status API) can observe the active set and status together.
type Worker struct {
	logger     *slog.Logger
	workerID   string
	registry   *Registry
	pool       *Pool
	dialer     hub.Dialer
	monitor    *HeartbeatMonitor
	drainGrace time.Duration

	mu            sync.Mutex
	state         domain.WorkerState
	active        map[string]*domain.JobRecord
	sessionSeq    int64
	draining      bool
	graceDeadline time.Time
	unreported    []*protocol.JobResult
}

// NewWorker creates a worker state machine.
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:     cfg.Logger,
		workerID:   cfg.WorkerID,
		registry:   cfg.Registry,
		pool:       cfg.Pool,
		dialer:     cfg.Dialer,
		monitor:    cfg.Monitor,
		drainGrace: cfg.DrainGrace,
		state:      domain.StateDisconnected,
		active:     make(map[string]*domain.JobRecord),
	}
}

// Run drives the connect / advertise / ready / reconnect cycle until the
// context is cancelled, then drains. Link loss never cancels running jobs;
// their results are buffered and flushed on the next session.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Any("capabilities", w.registry.Names()),
	)

	for {
		w.setState(domain.StateConnecting)

		conn, err := w.dialer.Connect(ctx)
		if err != nil {
			// Connect only fails on shutdown.
			w.beginDrain(nil)
			w.drainOffline()
			w.setState(domain.StateDisconnected)
			return nil
		}

		exiting := w.runSession(ctx, conn)
		_ = conn.Close()
		w.setState(domain.StateDisconnected)

		if exiting {
			w.drainOffline()
			w.logger.Info("Worker drained, exiting",
				slog.String("worker_id", w.workerID),
			)
			return nil
		}

		w.logger.Info("Session ended, reconnecting",
			slog.Int64("session_seq", conn.Seq()),
		)
	}
}

// runSession processes one session until link loss or shutdown. The return
// value is true when the worker should exit instead of reconnecting.
func (w *Worker) runSession(ctx context.Context, conn hub.Conn) bool {
	w.mu.Lock()
	w.sessionSeq = conn.Seq()
	w.state = domain.StateAdvertising
	w.mu.Unlock()

	w.monitor.Reset(time.Now())

	// Fresh advertisement first on every session: the hub does not assume
	// continuity across reconnects.
	if !w.sendStatus(conn) {
		return false
	}
	w.mu.Lock()
	if w.draining {
		w.state = domain.StateDraining
	} else {
		w.state = domain.StateReady
	}
	w.mu.Unlock()

	// Results that completed while disconnected go out before any new
	// assignment is consumed, in completion order.
	w.collectFinished()
	if !w.flushUnreported(conn) {
		return false
	}

	ticker := time.NewTicker(w.monitor.Interval())
	defer ticker.Stop()

	ctxDone := ctx.Done()
	var graceC <-chan time.Time

	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			w.beginDrain(conn)
			if w.activeCount() == 0 {
				return true
			}
			graceC = time.After(time.Until(w.deadline()))

		case <-graceC:
			w.logger.Warn("Drain grace deadline elapsed, abandoning jobs",
				slog.Int("abandoned", w.activeCount()),
			)
			w.pool.Stop()
			return true

		case raw, ok := <-conn.Recv():
			if !ok {
				return w.isDraining()
			}
			w.monitor.Observe(time.Now())
			if !w.handleRaw(conn, raw) {
				return w.isDraining()
			}

		case <-ticker.C:
			now := time.Now()
			if w.monitor.Expired(now) {
				w.logger.Warn("No traffic from hub within liveness timeout, closing session",
					slog.Int64("session_seq", conn.Seq()),
					slog.Duration("timeout", w.monitor.Timeout()),
				)
				return w.isDraining()
			}
			hb, err := protocol.NewHeartbeat(w.workerID, now)
			if err == nil {
				if sendErr := conn.Send(hb.Encode()); sendErr != nil {
					return w.isDraining()
				}
			}

		case comp := <-w.pool.Completions():
			if !w.finishJob(conn, comp) {
				return w.isDraining()
			}
			if w.isDraining() && w.activeCount() == 0 {
				return true
			}
			if !w.sendStatus(conn) {
				return w.isDraining()
			}

		case prog := <-w.pool.ProgressReports():
			msg, err := protocol.NewJobProgress(prog.JobID, prog.Fraction, prog.Note)
			if err == nil {
				if sendErr := conn.Send(msg.Encode()); sendErr != nil {
					return w.isDraining()
				}
			}
		}
	}
}

// handleRaw decodes and dispatches one inbound frame. Decode failures are
// logged and dropped without touching worker state or the link. The return
// value is false only when the link itself failed.
func (w *Worker) handleRaw(conn hub.Conn, raw []byte) bool {
	ev, err := protocol.Decode(raw)
	if err != nil {
		w.logger.Warn("Dropping undecodable message",
			slog.String("error", err.Error()),
		)
		return true
	}

	switch ev := ev.(type) {
	case protocol.ConnectionEstablished:
		w.logger.Info("Hub confirmed connection",
			slog.String("message", ev.Message),
		)
		if !w.sendStatus(conn) {
			return false
		}
		w.mu.Lock()
		if w.state == domain.StateAdvertising {
			w.state = domain.StateReady
		}
		w.mu.Unlock()
		return true

	case protocol.JobAssigned:
		return w.handleAssign(conn, ev)

	case protocol.JobCancelled:
		w.handleCancel(ev)
		return true

	case protocol.HeartbeatAck:
		// Liveness deadline was already reset on receipt; nothing else
		// changes on an ack, duplicated or not.
		w.logger.Debug("Heartbeat acknowledged")
		return true

	case protocol.Unknown:
		w.logger.Warn("Ignoring unknown message type",
			slog.String("type", ev.Type),
		)
		return true
	}
	return true
}

func (w *Worker) handleAssign(conn hub.Conn, ev protocol.JobAssigned) bool {
	if err := w.admit(ev); err != nil {
		w.logger.Warn("Rejecting job assignment",
			slog.String("job_id", ev.JobID),
			slog.String("job_type", ev.JobType),
			slog.String("reason", err.Error()),
		)
		msg, buildErr := protocol.NewJobResult(ev.JobID, string(domain.OutcomeRejected), nil, err.Error())
		if buildErr != nil {
			return true
		}
		return conn.Send(msg.Encode()) == nil
	}

	w.logger.Info("Job admitted",
		slog.String("job_id", ev.JobID),
		slog.String("job_type", ev.JobType),
	)
	return w.sendStatus(conn)
}

// admit checks the assignment against the capability set and the current
// free-slot count, creating and submitting the JobRecord on success.
// Capacity is never reserved ahead of processing: a burst beyond capacity
// is rejected, never queued locally.
func (w *Worker) admit(ev protocol.JobAssigned) error {
	w.mu.Lock()
	if w.draining {
		w.mu.Unlock()
		return domain.ErrDraining
	}
	if _, dup := w.active[ev.JobID]; dup {
		w.mu.Unlock()
		return domain.NewAdmissionError(ev.JobID, domain.ErrDuplicateJob)
	}
	w.mu.Unlock()

	if _, ok := w.registry.Lookup(ev.JobType); !ok {
		return domain.NewAdmissionError(ev.JobID, domain.ErrUnknownCapability)
	}

	rec := &domain.JobRecord{
		JobID:       ev.JobID,
		JobType:     ev.JobType,
		Payload:     ev.Payload,
		Constraints: ev.Constraints,
		Status:      domain.JobStatusQueued,
		StartedAt:   time.Now(),
	}

	if !w.pool.Submit(rec) {
		return domain.NewAdmissionError(ev.JobID, domain.ErrNoFreeSlot)
	}

	w.mu.Lock()
	rec.Status = domain.JobStatusRunning
	w.active[ev.JobID] = rec
	w.mu.Unlock()
	return nil
}

func (w *Worker) handleCancel(ev protocol.JobCancelled) {
	w.mu.Lock()
	rec, ok := w.active[ev.JobID]
	if ok {
		rec.Cancelled = true
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Warn("Cancel requested for unknown job",
			slog.String("job_id", ev.JobID),
		)
		return
	}

	w.logger.Info("Cancelling job",
		slog.String("job_id", ev.JobID),
	)
	// Best effort: a handler that ignores cancellation runs to completion
	// and its result is discarded in finishJob.
	w.pool.Cancel(ev.JobID)
}

// finishJob turns a pool completion into a terminal JobResult. The record
// leaves the active set here; the result is sent on conn, or buffered for
// the next session when conn is nil or the send fails.
func (w *Worker) finishJob(conn hub.Conn, comp Completion) bool {
	w.mu.Lock()
	rec, ok := w.active[comp.JobID]
	if !ok {
		w.mu.Unlock()
		return true
	}

	outcome := comp.Outcome
	result := comp.Result
	errMsg := comp.Err
	if rec.Cancelled {
		outcome = domain.OutcomeCancelled
		result = nil
		errMsg = "cancelled by hub"
	}
	rec.Status = jobStatusFor(outcome)
	delete(w.active, comp.JobID)
	w.mu.Unlock()

	w.logger.Info("Job finished",
		slog.String("job_id", comp.JobID),
		slog.String("outcome", string(outcome)),
	)

	msg, err := protocol.NewJobResult(comp.JobID, string(outcome), result, errMsg)
	if err != nil {
		w.logger.Error("Job result not encodable, reporting failure",
			slog.String("job_id", comp.JobID),
			slog.String("error", err.Error()),
		)
		msg, err = protocol.NewJobResult(comp.JobID, string(domain.OutcomeFailed), nil, err.Error())
		if err != nil {
			return true
		}
	}

	if conn == nil {
		w.bufferResult(msg)
		return true
	}
	if sendErr := conn.Send(msg.Encode()); sendErr != nil {
		w.bufferResult(msg)
		return false
	}
	return true
}

// collectFinished drains completions that accumulated while disconnected
// into the unreported buffer, preserving completion order.
func (w *Worker) collectFinished() {
	for {
		select {
		case comp := <-w.pool.Completions():
			w.finishJob(nil, comp)
		default:
			return
		}
	}
}

func (w *Worker) bufferResult(msg *protocol.JobResult) {
	w.mu.Lock()
	w.unreported = append(w.unreported, msg)
	w.mu.Unlock()
}

// flushUnreported sends buffered results in completion order. On a send
// failure the unsent tail is kept for the next session.
func (w *Worker) flushUnreported(conn hub.Conn) bool {
	w.mu.Lock()
	pending := w.unreported
	w.unreported = nil
	w.mu.Unlock()

	for i, msg := range pending {
		if err := conn.Send(msg.Encode()); err != nil {
			w.mu.Lock()
			w.unreported = append(pending[i:], w.unreported...)
			w.mu.Unlock()
			return false
		}
		w.logger.Info("Flushed buffered job result",
			slog.String("job_id", msg.JobID),
			slog.String("outcome", msg.Outcome),
		)
	}
	return true
}

func (w *Worker) beginDrain(conn hub.Conn) {
	w.mu.Lock()
	already := w.draining
	if !already {
		w.draining = true
		w.graceDeadline = time.Now().Add(w.drainGrace)
		w.state = domain.StateDraining
	}
	w.mu.Unlock()

	if already {
		return
	}
	w.logger.Info("Draining: no new jobs accepted",
		slog.Int("active_jobs", w.activeCount()),
		slog.Duration("grace", w.drainGrace),
	)
	if conn != nil {
		w.sendStatus(conn)
	}
}

// drainOffline waits out remaining executions without a link, buffering
// their results, until all jobs finish or the grace deadline elapses.
func (w *Worker) drainOffline() {
	for w.activeCount() > 0 {
		remaining := time.Until(w.deadline())
		if remaining <= 0 {
			w.logger.Warn("Drain grace deadline elapsed, abandoning jobs",
				slog.Int("abandoned", w.activeCount()),
			)
			w.pool.Stop()
			return
		}
		select {
		case comp := <-w.pool.Completions():
			w.finishJob(nil, comp)
		case <-time.After(remaining):
		}
	}
}

func (w *Worker) sendStatus(conn hub.Conn) bool {
	msg, err := protocol.NewWorkerStatus(
		w.workerID,
		string(w.wireStatus()),
		w.activeJobIDs(),
		w.registry.Advertise(),
	)
	if err != nil {
		w.logger.Error("Failed to build worker_status",
			slog.String("error", err.Error()),
		)
		return true
	}
	return conn.Send(msg.Encode()) == nil
}

// wireStatus derives the advertised status. busy and idle follow directly
// from the active-job count so the two can never drift apart.
func (w *Worker) wireStatus() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draining {
		return domain.WorkerStatusDraining
	}
	if len(w.active) > 0 {
		return domain.WorkerStatusBusy
	}
	return domain.WorkerStatusIdle
}

// Status returns the worker-level status, including disconnected when no
// session is open.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draining {
		return domain.WorkerStatusDraining
	}
	if w.state == domain.StateDisconnected || w.state == domain.StateConnecting {
		return domain.WorkerStatusDisconnected
	}
	if len(w.active) > 0 {
		return domain.WorkerStatusBusy
	}
	return domain.WorkerStatusIdle
}

// ActiveCount returns the number of jobs in the active set.
func (w *Worker) ActiveCount() int {
	return w.activeCount()
}

func (w *Worker) activeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *Worker) activeJobIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *Worker) isDraining() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draining
}

func (w *Worker) deadline() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.graceDeadline
}

func (w *Worker) setState(s domain.WorkerState) {
	w.mu.Lock()
	if !(w.draining && s == domain.StateConnecting) {
		w.state = s
	}
	w.mu.Unlock()
}

func jobStatusFor(o domain.Outcome) domain.JobStatus {
	switch o {
	case domain.OutcomeSucceeded:
		return domain.JobStatusSucceeded
	case domain.OutcomeCancelled:
		return domain.JobStatusCancelled
	default:
		return domain.JobStatusFailed
	}
}
