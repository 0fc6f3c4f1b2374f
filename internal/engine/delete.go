package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// runDeleteJob iterates sources, checking cancellation between each one,
// per spec.md section 4.5's "Delete job" algorithm.
func (e *Engine) runDeleteJob(ctx context.Context, id uuid.UUID) {
	j, err := e.GetJob(id)
	if err != nil {
		return
	}

	anyFailures := false
	cancelledMidLoop := false

	for _, source := range j.Sources {
		if e.isCancelled(id) {
			cancelledMidLoop = true
			break
		}

		result := JobItemResult{Source: source}
		if err := e.drv.DeletePath(ctx, source); err != nil {
			result.Status = ItemFailed
			result.Error = err.Error()
			anyFailures = true
		} else {
			result.Status = ItemSuccess
		}

		_ = e.updateJob(ctx, id, func(j *Job) {
			j.Results = append(j.Results, result)
		})
	}

	_ = e.updateJob(ctx, id, func(j *Job) {
		now := time.Now()
		j.CompletedAt = &now
		switch {
		case cancelledMidLoop || e.isCancelled(id):
			j.Status = StatusCancelled
		case anyFailures:
			j.Status = StatusFailed
		default:
			j.Status = StatusSuccess
		}
	})
}
