package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jobwire/worker-node/internal/worker"
)

const defaultSleep = 5 * time.Second

// Sleep simulates work for payload["seconds"] seconds, reporting progress
// at quarter intervals. It cancels cooperatively.
func Sleep() worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, payload map[string]interface{}, progress worker.ProgressFunc) (map[string]interface{}, error) {
		d := defaultSleep
		if secs, ok := payload["seconds"].(float64); ok && secs > 0 {
			d = time.Duration(secs * float64(time.Second))
		}

		step := d / 4
		for i := 1; i <= 4; i++ {
			select {
			case <-time.After(step):
				progress(float64(i)/4, "")
			case <-ctx.Done():
				return nil, fmt.Errorf("sleep interrupted: %w", ctx.Err())
			}
		}

		return map[string]interface{}{
			"slept_seconds": d.Seconds(),
		}, nil
	})
}
