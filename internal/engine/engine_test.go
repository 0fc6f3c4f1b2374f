package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/store"
)

type fakeDriver struct {
	statEntries map[string]driver.Entry
	statErr     map[string]error

	directFails map[string]bool
	copyLog     []string

	listResults map[string][]driver.Entry

	deleted   map[string]bool
	deleteErr map[string]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		statEntries: map[string]driver.Entry{},
		statErr:     map[string]error{},
		directFails: map[string]bool{},
		listResults: map[string][]driver.Entry{},
		deleted:     map[string]bool{},
		deleteErr:   map[string]error{},
	}
}

func (f *fakeDriver) Stat(_ context.Context, target string) (driver.Entry, error) {
	if err, ok := f.statErr[target]; ok {
		return driver.Entry{}, err
	}
	return f.statEntries[target], nil
}

func (f *fakeDriver) List(_ context.Context, root string, _ bool) ([]driver.Entry, error) {
	return f.listResults[root], nil
}

func (f *fakeDriver) CopyDirectory(_ context.Context, src, dst string, _ bool, _ driver.ProgressFunc) (driver.Result, error) {
	f.copyLog = append(f.copyLog, "dir:"+src+"->"+dst)
	if f.directFails[src] && !strings.HasPrefix(dst, "local:") {
		return driver.Result{ReturnCode: 1, Stderr: "direct failed"}, nil
	}
	return driver.Result{ReturnCode: 0}, nil
}

func (f *fakeDriver) CopyFile(_ context.Context, src, dst string, _ bool, _ driver.ProgressFunc) (driver.Result, error) {
	f.copyLog = append(f.copyLog, "file:"+src+"->"+dst)
	if f.directFails[src] && !strings.HasPrefix(dst, "local:") {
		return driver.Result{ReturnCode: 1, Stderr: "direct failed"}, nil
	}
	return driver.Result{ReturnCode: 0}, nil
}

func (f *fakeDriver) DeletePath(_ context.Context, target string) error {
	if err, ok := f.deleteErr[target]; ok {
		return err
	}
	f.deleted[target] = true
	return nil
}

type fakeVerifier struct {
	result VerifyResult
}

func (v fakeVerifier) Verify(_ context.Context, _, _ string) VerifyResult {
	return v.result
}

func openTestEngine(t *testing.T, drv Driver, verifier Verifier) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.EnsureDefaultSettings(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	stagingDir := t.TempDir()
	settingsFn := func(ctx context.Context) (store.RuntimeSettings, error) {
		rs, err := st.RuntimeSettings(ctx)
		if err != nil {
			return store.RuntimeSettings{}, err
		}
		rs.StagingDir = stagingDir
		return rs, nil
	}

	return New(st, drv, verifier, zerolog.Nop(), settingsFn)
}

func waitForTerminal(t *testing.T, e *Engine, id uuid.UUID, timeout time.Duration) Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := e.GetJob(id)
		require.NoError(t, err)
		switch j.Status {
		case StatusSuccess, StatusFailed, StatusCancelled, StatusInterrupted:
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach terminal status within %s", id, timeout)
	return Job{}
}

func TestFallbackCopySucceeds(t *testing.T) {
	drv := newFakeDriver()
	drv.statEntries["a:src/f.txt"] = driver.Entry{Path: "a:src/f.txt", IsDir: false, Size: 1}
	drv.directFails["a:src/f.txt"] = true

	e := openTestEngine(t, drv, fakeVerifier{result: VerifyResult{Passed: true}})
	ctx := context.Background()
	e.Start(ctx)
	defer e.Stop()

	j, err := e.SubmitTransfer(ctx, OpCopy, []string{"a:src/f.txt"}, "b:dst", "")
	require.NoError(t, err)

	final := waitForTerminal(t, e, j.ID, 2*time.Second)
	require.Equal(t, StatusSuccess, final.Status)
	require.Len(t, final.Results, 1)
	require.True(t, final.Results[0].DirectAttempted)
	require.True(t, final.Results[0].FallbackUsed)
	require.True(t, final.Results[0].VerifyPassed)
	require.Equal(t, ItemSuccess, final.Results[0].Status)
}

func TestDeleteJobAllSucceed(t *testing.T) {
	drv := newFakeDriver()
	e := openTestEngine(t, drv, fakeVerifier{})
	ctx := context.Background()
	e.Start(ctx)
	defer e.Stop()

	j, err := e.SubmitDelete(ctx, []string{"a:tmp"}, "")
	require.NoError(t, err)

	final := waitForTerminal(t, e, j.ID, 2*time.Second)
	require.Equal(t, StatusSuccess, final.Status)
	require.Len(t, final.Results, 1)
	require.Equal(t, ItemSuccess, final.Results[0].Status)
	require.True(t, drv.deleted["a:tmp"])
}

func TestCancelQueuedJobTransitionsImmediately(t *testing.T) {
	drv := newFakeDriver()
	e := openTestEngine(t, drv, fakeVerifier{})
	ctx := context.Background()
	// Worker never started: job stays queued until cancelled.

	j, err := e.SubmitDelete(ctx, []string{"a:tmp"}, "")
	require.NoError(t, err)

	ok, err := e.Cancel(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := e.GetJob(j.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestCancelUnknownJobReturnsFalse(t *testing.T) {
	drv := newFakeDriver()
	e := openTestEngine(t, drv, fakeVerifier{})
	ok, err := e.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecoverMarksRunningJobsInterrupted(t *testing.T) {
	drv := newFakeDriver()
	e := openTestEngine(t, drv, fakeVerifier{})
	ctx := context.Background()

	j, err := e.SubmitTransfer(ctx, OpCopy, []string{"a:src/f.txt"}, "b:dst", "")
	require.NoError(t, err)
	require.NoError(t, e.updateJob(ctx, j.ID, func(jb *Job) {
		now := time.Now()
		jb.Status = StatusRunning
		jb.StartedAt = &now
	}))

	// Simulate a fresh process: new Engine over the same store.
	e2 := New(e.st, drv, fakeVerifier{}, zerolog.Nop(), e.settings)
	require.NoError(t, e2.Recover(ctx))

	got, err := e2.GetJob(j.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, got.Status)
	require.NotNil(t, got.CompletedAt)

	n, err := e.st.CountRunningJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDeleteJobFailurePropagates(t *testing.T) {
	drv := newFakeDriver()
	drv.deleteErr["a:bad"] = context.DeadlineExceeded
	e := openTestEngine(t, drv, fakeVerifier{})
	ctx := context.Background()
	e.Start(ctx)
	defer e.Stop()

	j, err := e.SubmitDelete(ctx, []string{"a:bad"}, "")
	require.NoError(t, err)

	final := waitForTerminal(t, e, j.ID, 2*time.Second)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, ItemFailed, final.Results[0].Status)
}
