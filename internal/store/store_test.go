package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureDefaultSettingsSeedsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureDefaultSettings(ctx))
	rs, err := s.RuntimeSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultRuntimeSettings(), rs)

	require.NoError(t, s.SetSetting(ctx, "concurrency", "9"))
	require.NoError(t, s.EnsureDefaultSettings(ctx))
	rs, err = s.RuntimeSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, rs.Concurrency)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := RuntimeSettings{
		StagingCapBytes: 1024,
		Concurrency:     7,
		VerifyMode:      "off",
		StagingDir:      "/tmp/staging",
		DriverFlags:     "--fast-list",
	}
	require.NoError(t, s.SetRuntimeSettings(ctx, want))
	got, err := s.RuntimeSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUpsertAndListJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "a", Status: "queued", Payload: []byte(`{"id":"a"}`)}))
	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "b", Status: "queued", Payload: []byte(`{"id":"b"}`)}))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "b", jobs[0].ID) // newest insertion first

	got, ok, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "queued", got.Status)

	_, ok, err = s.GetJob(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpsertJobReplacesByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "a", Status: "queued", Payload: []byte(`{"status":"queued"}`)}))
	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "a", Status: "running", Payload: []byte(`{"status":"running"}`)}))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "running", jobs[0].Status)
}

func TestMarkRunningJobsInterrupted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "running-1", Status: "running", Payload: []byte(`{"status":"running"}`)}))
	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "queued-1", Status: "queued", Payload: []byte(`{"status":"queued"}`)}))

	rewritten, err := s.MarkRunningJobsInterrupted(ctx, func(payload []byte) ([]byte, error) {
		return []byte(`{"status":"interrupted"}`), nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"running-1"}, rewritten)

	n, err := s.CountRunningJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, ok, err := s.GetJob(ctx, "running-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "interrupted", got.Status)

	untouched, ok, err := s.GetJob(ctx, "queued-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "queued", untouched.Status)
}

func TestJobMetricsTimeseries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertJob(ctx, JobRecord{ID: "a", Status: "running", Payload: []byte(`{}`)}))
	require.NoError(t, s.InsertJobMetric(ctx, "a", 100, 10, 1.5))
	require.NoError(t, s.InsertJobMetric(ctx, "a", 200, 30, 2.0))

	metrics, err := s.JobMetrics(ctx, "a")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	require.Equal(t, int64(100), metrics[0].Ts)
	require.Equal(t, int64(200), metrics[1].Ts)

	total, err := s.TotalBytesDoneSince(ctx, 150)
	require.NoError(t, err)
	require.Equal(t, int64(30), total)

	total, err = s.TotalBytesDoneSince(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, int64(30), total)
}
