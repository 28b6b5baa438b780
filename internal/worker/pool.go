package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobwire/worker-node/internal/worker/domain"
)

// Completion is the terminal report of one executed job, delivered exactly
// once per submitted JobRecord.
type Completion struct {
	JobID      string
	Outcome    domain.Outcome
	Result     map[string]interface{}
	Err        string
	FinishedAt time.Time
}

// Progress is an intermediate progress report from a running handler.
type Progress struct {
	JobID    string
	Fraction float64
	Note     string
}

const progressBuffer = 64

// Pool is the bounded job executor: a fixed number of execution slots per
// capability. Submission is non-blocking; completions are delivered
// asynchronously on a buffered channel so executions outlive the session
// that admitted them.
type Pool struct {
	logger   *slog.Logger
	registry *Registry

	slots       map[string]chan struct{}
	completions chan Completion
	progress    chan Progress

	baseCtx    context.Context
	baseCancel context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewPool creates an executor pool with slot counts from the registry.
func NewPool(registry *Registry, logger *slog.Logger) *Pool {
	slots := make(map[string]chan struct{}, registry.Len())
	for _, name := range registry.Names() {
		c, _ := registry.Lookup(name)
		slots[name] = make(chan struct{}, c.Slots)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Pool{
		logger:      logger,
		registry:    registry,
		slots:       slots,
		completions: make(chan Completion, registry.TotalSlots()),
		progress:    make(chan Progress, progressBuffer),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		done:        make(chan struct{}),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Completions returns the channel of terminal job reports.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// ProgressReports returns the channel of intermediate progress reports.
func (p *Pool) ProgressReports() <-chan Progress {
	return p.progress
}

// FreeSlots returns the current free slot count for a capability.
func (p *Pool) FreeSlots(jobType string) int {
	sem, ok := p.slots[jobType]
	if !ok {
		return 0
	}
	return cap(sem) - len(sem)
}

// Submit attempts to start executing a job. It never blocks: if no slot is
// free for the job's capability (or the capability is unknown) it returns
// false immediately and the caller rejects the assignment.
func (p *Pool) Submit(rec *domain.JobRecord) bool {
	c, ok := p.registry.Lookup(rec.JobType)
	if !ok {
		return false
	}

	sem := p.slots[rec.JobType]
	select {
	case sem <- struct{}{}:
	default:
		return false
	}

	jobCtx, cancel := p.jobContext(rec)
	p.mu.Lock()
	p.cancels[rec.JobID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(jobCtx, cancel, c, rec, sem)
	return true
}

// Cancel requests cooperative cancellation of a running job. Returns false
// if the job is not executing.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Stop cancels all executions and releases blocked completion sends. Used
// when the drain grace deadline elapses; remaining jobs are abandoned.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.baseCancel()
		close(p.done)
	})
}

// Wait blocks until all execution goroutines have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// jobContext derives the execution context, applying a timeout when the
// assignment constraints carry a positive timeout_seconds.
func (p *Pool) jobContext(rec *domain.JobRecord) (context.Context, context.CancelFunc) {
	if secs, ok := rec.Constraints["timeout_seconds"].(float64); ok && secs > 0 {
		return context.WithTimeout(p.baseCtx, time.Duration(secs*float64(time.Second)))
	}
	return context.WithCancel(p.baseCtx)
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc, c Capability, rec *domain.JobRecord, sem chan struct{}) {
	defer p.wg.Done()
	defer func() { <-sem }()
	defer cancel()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, rec.JobID)
		p.mu.Unlock()
	}()

	p.logger.Info("Executing job",
		slog.String("job_id", rec.JobID),
		slog.String("job_type", rec.JobType),
	)

	comp := p.execute(ctx, c, rec)
	comp.FinishedAt = time.Now()

	select {
	case p.completions <- comp:
	case <-p.done:
	}
}

// execute runs the capability handler with panic isolation. A panicking
// handler fails its own job and nothing else.
func (p *Pool) execute(ctx context.Context, c Capability, rec *domain.JobRecord) (comp Completion) {
	comp = Completion{JobID: rec.JobID}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job handler panicked",
				slog.String("job_id", rec.JobID),
				slog.String("job_type", rec.JobType),
				slog.Any("panic", r),
			)
			comp.Outcome = domain.OutcomeFailed
			comp.Result = nil
			comp.Err = fmt.Sprintf("handler panic: %v", r)
		}
	}()

	result, err := c.Handler.Execute(ctx, rec.Payload, p.progressFor(rec.JobID))
	if err != nil {
		comp.Outcome = domain.OutcomeFailed
		comp.Err = err.Error()
		return comp
	}
	comp.Outcome = domain.OutcomeSucceeded
	comp.Result = result
	return comp
}

func (p *Pool) progressFor(jobID string) ProgressFunc {
	return func(fraction float64, note string) {
		select {
		case p.progress <- Progress{JobID: jobID, Fraction: fraction, Note: note}:
		default:
			// progress is advisory; drop rather than block the handler
		}
	}
}
