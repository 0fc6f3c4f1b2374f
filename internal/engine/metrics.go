package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// recordMetric persists one {job_id, ts, bytes_done, speed} sample to
// the job_metrics timeseries, independent of the append-only Logs
// sequence, so a restarted process can show recent throughput even
// though the live log tail is ambient text. Supplemented from the
// teacher's job_metrics table / InsertJobMetric.
func (e *Engine) recordMetric(ctx context.Context, id uuid.UUID, bytesDone int64, speed float64) {
	_ = e.st.InsertJobMetric(ctx, id.String(), time.Now().Unix(), bytesDone, speed)
}

// BytesTransferredSince sums bytes_done across jobs whose latest metric
// sample falls at or after since, for dashboard callers outside the
// core (the out-of-scope HTTP layer). Not a scheduling gate — spec.md's
// own non-goal disclaims distributed coordination.
func (e *Engine) BytesTransferredSince(ctx context.Context, since time.Time) (int64, error) {
	return e.st.TotalBytesDoneSince(ctx, since.Unix())
}

// JobMetrics returns a job's recorded throughput samples, oldest first.
func (e *Engine) JobMetrics(ctx context.Context, id uuid.UUID) ([]JobMetricPoint, error) {
	rows, err := e.st.JobMetrics(ctx, id.String())
	if err != nil {
		return nil, err
	}
	out := make([]JobMetricPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, JobMetricPoint{Ts: time.Unix(r.Ts, 0), BytesDone: r.BytesDone, Speed: r.Speed})
	}
	return out, nil
}

// JobMetricPoint is one sampled point on a job's progress timeseries.
type JobMetricPoint struct {
	Ts        time.Time
	BytesDone int64
	Speed     float64
}
