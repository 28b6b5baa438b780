package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobwire/worker-node/internal/worker/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T, name string, slots int, h Handler) *Registry {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register(Capability{
		Name:    name,
		Slots:   slots,
		Handler: h,
	}))
	return registry
}

func record(jobID, jobType string) *domain.JobRecord {
	return &domain.JobRecord{
		JobID:     jobID,
		JobType:   jobType,
		Payload:   map[string]interface{}{},
		Status:    domain.JobStatusQueued,
		StartedAt: time.Now(),
	}
}

func waitCompletion(t *testing.T, p *Pool) Completion {
	t.Helper()
	select {
	case comp := <-p.Completions():
		return comp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func TestPool_SubmitRespectsSlotLimit(t *testing.T) {
	release := make(chan struct{})
	blocking := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		select {
		case <-release:
			return map[string]interface{}{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	registry := testRegistry(t, "render", 1, blocking)
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	assert.True(t, pool.Submit(record("job-a", "render")))
	assert.False(t, pool.Submit(record("job-b", "render")), "second submit must be rejected while the only slot is held")
	assert.Equal(t, 0, pool.FreeSlots("render"))

	close(release)
	comp := waitCompletion(t, pool)
	assert.Equal(t, "job-a", comp.JobID)
	assert.Equal(t, domain.OutcomeSucceeded, comp.Outcome)

	// The slot must come back once the execution goroutine unwinds.
	assert.Eventually(t, func() bool {
		return pool.FreeSlots("render") == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, pool.Submit(record("job-c", "render")))
}

func TestPool_SubmitUnknownCapability(t *testing.T) {
	registry := testRegistry(t, "render", 1, HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		return nil, nil
	}))
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	assert.False(t, pool.Submit(record("job-a", "transcode")))
	assert.Equal(t, 0, pool.FreeSlots("transcode"))
}

func TestPool_CompletionOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		handler     Handler
		wantOutcome domain.Outcome
		wantErrPart string
		wantResult  map[string]interface{}
	}{
		{
			name: "handler success",
			handler: HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
				return map[string]interface{}{"ok": true}, nil
			}),
			wantOutcome: domain.OutcomeSucceeded,
			wantResult:  map[string]interface{}{"ok": true},
		},
		{
			name: "handler error",
			handler: HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
				return nil, errors.New("render device lost")
			}),
			wantOutcome: domain.OutcomeFailed,
			wantErrPart: "render device lost",
		},
		{
			name: "handler panic",
			handler: HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
				panic("corrupt frame buffer")
			}),
			wantOutcome: domain.OutcomeFailed,
			wantErrPart: "handler panic: corrupt frame buffer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := testRegistry(t, "render", 1, tt.handler)
			pool := NewPool(registry, discardLogger())
			defer func() {
				pool.Stop()
				pool.Wait()
			}()

			require.True(t, pool.Submit(record("job-1", "render")))

			comp := waitCompletion(t, pool)
			assert.Equal(t, "job-1", comp.JobID)
			assert.Equal(t, tt.wantOutcome, comp.Outcome)
			assert.False(t, comp.FinishedAt.IsZero())
			if tt.wantErrPart != "" {
				assert.Contains(t, comp.Err, tt.wantErrPart)
			}
			if tt.wantResult != nil {
				assert.Equal(t, tt.wantResult, comp.Result)
			}
		})
	}
}

func TestPool_PanicDoesNotPoisonOtherSlots(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Capability{
		Name:  "render",
		Slots: 2,
		Handler: HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
			if payload["explode"] == true {
				panic("boom")
			}
			return map[string]interface{}{}, nil
		}),
	}))
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	bad := record("job-bad", "render")
	bad.Payload = map[string]interface{}{"explode": true}
	require.True(t, pool.Submit(bad))
	require.True(t, pool.Submit(record("job-good", "render")))

	outcomes := map[string]domain.Outcome{}
	for i := 0; i < 2; i++ {
		comp := waitCompletion(t, pool)
		outcomes[comp.JobID] = comp.Outcome
	}
	assert.Equal(t, domain.OutcomeFailed, outcomes["job-bad"])
	assert.Equal(t, domain.OutcomeSucceeded, outcomes["job-good"])
}

func TestPool_Cancel(t *testing.T) {
	started := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	registry := testRegistry(t, "render", 1, handler)
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	require.True(t, pool.Submit(record("job-1", "render")))
	<-started

	assert.True(t, pool.Cancel("job-1"))

	comp := waitCompletion(t, pool)
	assert.Equal(t, "job-1", comp.JobID)
	assert.Equal(t, domain.OutcomeFailed, comp.Outcome)
	assert.Contains(t, comp.Err, context.Canceled.Error())

	assert.False(t, pool.Cancel("job-1"), "cancel after completion must report not executing")
	assert.False(t, pool.Cancel("job-never-seen"))
}

func TestPool_TimeoutConstraint(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]interface{}{}, nil
		}
	})

	registry := testRegistry(t, "render", 1, handler)
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	rec := record("job-1", "render")
	rec.Constraints = map[string]interface{}{"timeout_seconds": float64(0.05)}
	require.True(t, pool.Submit(rec))

	comp := waitCompletion(t, pool)
	assert.Equal(t, domain.OutcomeFailed, comp.Outcome)
	assert.Contains(t, comp.Err, context.DeadlineExceeded.Error())
}

func TestPool_ProgressReports(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		progress(0.25, "warming up")
		progress(0.75, "almost there")
		return map[string]interface{}{}, nil
	})

	registry := testRegistry(t, "render", 1, handler)
	pool := NewPool(registry, discardLogger())
	defer func() {
		pool.Stop()
		pool.Wait()
	}()

	require.True(t, pool.Submit(record("job-1", "render")))
	waitCompletion(t, pool)

	var got []Progress
	for len(got) < 2 {
		select {
		case p := <-pool.ProgressReports():
			got = append(got, p)
		case <-time.After(time.Second):
			t.Fatalf("only received %d progress reports", len(got))
		}
	}
	assert.Equal(t, Progress{JobID: "job-1", Fraction: 0.25, Note: "warming up"}, got[0])
	assert.Equal(t, Progress{JobID: "job-1", Fraction: 0.75, Note: "almost there"}, got[1])
}

func TestPool_StopAbandonsRunningJobs(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	registry := testRegistry(t, "render", 2, handler)
	pool := NewPool(registry, discardLogger())

	require.True(t, pool.Submit(record("job-1", "render")))
	require.True(t, pool.Submit(record("job-2", "render")))

	pool.Stop()
	pool.Wait()
	// Stop is idempotent.
	pool.Stop()
}

func TestRegistry(t *testing.T) {
	noop := HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
		return nil, nil
	})

	t.Run("register and lookup", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(Capability{Name: "render", Slots: 2, Handler: noop}))
		require.NoError(t, registry.Register(Capability{Name: "audio", Slots: 1, Handler: noop}))

		c, ok := registry.Lookup("render")
		require.True(t, ok)
		assert.Equal(t, 2, c.Slots)

		_, ok = registry.Lookup("transcode")
		assert.False(t, ok)

		assert.Equal(t, []string{"audio", "render"}, registry.Names())
		assert.Equal(t, 2, registry.Len())
		assert.Equal(t, 3, registry.TotalSlots())
	})

	t.Run("advertise", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(Capability{
			Name:     "render",
			Slots:    2,
			Metadata: map[string]interface{}{"gpu": true},
			Handler:  noop,
		}))

		adv := registry.Advertise()
		require.Contains(t, adv, "render")
		assert.Equal(t, 2, adv["render"].Slots)
		assert.Equal(t, map[string]interface{}{"gpu": true}, adv["render"].Metadata)
	})

	t.Run("invalid registrations", func(t *testing.T) {
		tests := []struct {
			name    string
			cap     Capability
			errPart string
		}{
			{"missing name", Capability{Slots: 1, Handler: noop}, "name is required"},
			{"zero slots", Capability{Name: "render", Slots: 0, Handler: noop}, "slots must be greater than 0"},
			{"negative slots", Capability{Name: "render", Slots: -1, Handler: noop}, "slots must be greater than 0"},
			{"missing handler", Capability{Name: "render", Slots: 1}, "handler is required"},
		}
		for _, tt := range tests {
			registry := NewRegistry()
			err := registry.Register(tt.cap)
			require.Error(t, err, tt.name)
			assert.True(t, strings.Contains(err.Error(), tt.errPart), "%s: %v", tt.name, err)
		}
	})

	t.Run("duplicate name", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(Capability{Name: "render", Slots: 1, Handler: noop}))
		err := registry.Register(Capability{Name: "render", Slots: 3, Handler: noop})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})
}
