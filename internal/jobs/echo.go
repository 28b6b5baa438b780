// Package jobs ships the builtin capability handlers. Deployments register
// their own handlers for real workloads; these cover wiring tests and
// smoke deployments.
package jobs

import (
	"context"

	"github.com/jobwire/worker-node/internal/worker"
)

// Echo returns the assignment payload unchanged.
func Echo() worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress worker.ProgressFunc) (map[string]interface{}, error) {
		if payload == nil {
			payload = map[string]interface{}{}
		}
		return map[string]interface{}{"echo": payload}, nil
	})
}
