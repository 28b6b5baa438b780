package worker

import "context"

// ProgressFunc reports intermediate progress for the running job.
// Reporting is advisory and best-effort; implementations never block.
type ProgressFunc func(fraction float64, note string)

// Handler executes jobs of one capability. Implementations must honor
// context cancellation where possible; handlers that cannot are still
// valid, their results are simply discarded after a cancel request.
type Handler interface {
	Execute(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, payload map[string]interface{}, progress ProgressFunc) (map[string]interface{}, error) {
	return f(ctx, payload, progress)
}
