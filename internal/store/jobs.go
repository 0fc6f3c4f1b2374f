package store

import (
	"context"
	"database/sql"
	"errors"
)

// JobRecord is the durable row for a job: the engine owns the shape of
// Payload (a serialized Job), the store only indexes by id and status
// for cheap filtering and recovery, per spec.md 4.4/6.
type JobRecord struct {
	ID      string
	Status  string
	Payload []byte
}

// UpsertJob replaces a job row by id.
func (s *Store) UpsertJob(ctx context.Context, rec JobRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs(id, status, payload, inserted_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  payload=excluded.payload
`, rec.ID, rec.Status, string(rec.Payload), nowUnix())
	return err
}

// ListJobs returns every job, newest insertion first.
func (s *Store) ListJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, payload FROM jobs ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		var rec JobRecord
		var payload string
		if err := rows.Scan(&rec.ID, &rec.Status, &payload); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetJob loads a single job by id.
func (s *Store) GetJob(ctx context.Context, id string) (JobRecord, bool, error) {
	var rec JobRecord
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT id, status, payload FROM jobs WHERE id=?`, id).
		Scan(&rec.ID, &rec.Status, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, err
	}
	rec.Payload = []byte(payload)
	rec.ID = id
	return rec, true, nil
}

// CountRunningJobs reports how many jobs are currently marked running.
func (s *Store) CountRunningJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status='running'`).Scan(&n)
	return n, err
}

// MarkRunningJobsInterrupted rewrites every job with status=running to
// status=interrupted, per spec.md 4.4. Called exactly once at engine
// start, before the worker begins dequeuing. transform lets the engine
// rewrite the job's own serialized status field inside the payload so
// the two stay consistent; it receives the stored payload and returns
// the rewritten one.
func (s *Store) MarkRunningJobsInterrupted(ctx context.Context, transform func(payload []byte) ([]byte, error)) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM jobs WHERE status='running'`)
	if err != nil {
		return nil, err
	}
	type pending struct {
		id      string
		payload []byte
	}
	var work []pending
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		work = append(work, pending{id: id, payload: []byte(payload)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ids := make([]string, 0, len(work))
	stmt, err := tx.PrepareContext(ctx, `UPDATE jobs SET status='interrupted', payload=? WHERE id=?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for _, p := range work {
		rewritten, err := transform(p.payload)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, string(rewritten), p.id); err != nil {
			return nil, err
		}
		ids = append(ids, p.id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertJobMetric records one bytes-done/speed sample for a job's
// progress timeseries, a supplemented feature beyond spec.md's core
// Job/JobItemResult shape.
func (s *Store) InsertJobMetric(ctx context.Context, jobID string, ts int64, bytesDone int64, speed float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO job_metrics(job_id, ts, bytes_done, speed)
VALUES(?, ?, ?, ?)
`, jobID, ts, bytesDone, speed)
	return err
}

// JobMetric is one sampled point on a job's progress timeseries.
type JobMetric struct {
	Ts        int64
	BytesDone int64
	Speed     float64
}

// JobMetrics returns every recorded sample for a job, oldest first.
func (s *Store) JobMetrics(ctx context.Context, jobID string) ([]JobMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, bytes_done, speed FROM job_metrics WHERE job_id=? ORDER BY ts ASC
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobMetric
	for rows.Next() {
		var m JobMetric
		if err := rows.Scan(&m.Ts, &m.BytesDone, &m.Speed); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TotalBytesDoneSince sums bytes_done across the latest metric sample per
// job for jobs whose latest sample falls at or after since, supporting
// a usage-since query for dashboards.
func (s *Store) TotalBytesDoneSince(ctx context.Context, since int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(m.bytes_done), 0)
FROM job_metrics m
JOIN (
  SELECT job_id, MAX(ts) AS max_ts
  FROM job_metrics
  GROUP BY job_id
) latest ON latest.job_id = m.job_id AND latest.max_ts = m.ts
WHERE latest.max_ts >= ?
`, since).Scan(&n)
	return n, err
}
