package scan

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rclonehub/rclonehub/internal/driver"
)

type fakeLister struct {
	byRoot map[string][]driver.Entry
	err    error
	delay  time.Duration
}

func (f *fakeLister) ListCancellable(_ context.Context, root string, _ bool, _ time.Duration) ([]driver.Entry, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byRoot[root], nil
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchHeartbeat = 10 * time.Millisecond
	cfg.SizeHeartbeat = 10 * time.Millisecond
	cfg.SearchDirTimeout = time.Second
	cfg.SizeDirTimeout = time.Second
	return cfg
}

func waitDone(t *testing.T, m *Manager, id uuid.UUID, timeout time.Duration) PollResult {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := m.Poll(id, 0)
		require.NoError(t, err)
		if res.Done {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not finish within timeout")
	return PollResult{}
}

func TestSearchStreamingFindsMatches(t *testing.T) {
	lister := &fakeLister{byRoot: map[string][]driver.Entry{
		"r:root": {
			{Name: "small.txt", Path: "r:root/small.txt", IsDir: false, Size: 10},
			{Name: "sub", Path: "r:root/sub", IsDir: true},
		},
		"r:root/sub": {
			{Name: "big.bin", Path: "r:root/sub/big.bin", IsDir: false, Size: 2000000},
			{Name: "nested.txt", Path: "r:root/sub/nested.txt", IsDir: false, Size: 5},
		},
	}}
	m := New(lister, fastTestConfig(), zerolog.Nop())
	defer m.Stop()

	s := m.Create(context.Background(), KindSearch, Params{Root: "r:root", Query: "*.txt"})
	res := waitDone(t, m, s.ID, 2*time.Second)

	var results []Event
	var done *Event
	for i := range res.Events {
		if res.Events[i].Type == EventResult {
			results = append(results, res.Events[i])
		}
		if res.Events[i].Type == EventDone {
			done = &res.Events[i]
		}
	}
	require.Len(t, results, 2)
	require.NotNil(t, done)
	require.Equal(t, DoneSuccess, done.Status)
	require.EqualValues(t, 2, done.MatchedCount)
	require.EqualValues(t, 2, done.ScannedDirs)
}

func TestSizeWalkCountsFilesAndBytes(t *testing.T) {
	lister := &fakeLister{byRoot: map[string][]driver.Entry{
		"r:root": {
			{Name: "a.bin", Path: "r:root/a.bin", IsDir: false, Size: 100},
			{Name: "sub", Path: "r:root/sub", IsDir: true},
		},
		"r:root/sub": {
			{Name: "b.bin", Path: "r:root/sub/b.bin", IsDir: false, Size: 50},
		},
	}}
	m := New(lister, fastTestConfig(), zerolog.Nop())
	defer m.Stop()

	s := m.Create(context.Background(), KindSize, Params{Root: "r:root"})
	res := waitDone(t, m, s.ID, 2*time.Second)

	last := res.Events[len(res.Events)-1]
	require.Equal(t, EventDone, last.Type)
	require.Equal(t, DoneSuccess, last.Status)
	require.EqualValues(t, 2, last.FilesCount)
	require.EqualValues(t, 150, last.BytesTotal)
}

func TestMinSizeFilterSkipsSmallFilesButNotDirs(t *testing.T) {
	lister := &fakeLister{byRoot: map[string][]driver.Entry{
		"r:root": {
			{Name: "small.txt", Path: "r:root/small.txt", IsDir: false, Size: 10},
			{Name: "sub", Path: "r:root/sub", IsDir: true},
		},
		"r:root/sub": {
			{Name: "nested.txt", Path: "r:root/sub/nested.txt", IsDir: false, Size: 5},
		},
	}}
	m := New(lister, fastTestConfig(), zerolog.Nop())
	defer m.Stop()

	s := m.Create(context.Background(), KindSearch, Params{Root: "r:root", Query: "*sub*", MinSize: 1024 * 1024})
	res := waitDone(t, m, s.ID, 2*time.Second)

	var results []Event
	for i := range res.Events {
		if res.Events[i].Type == EventResult {
			results = append(results, res.Events[i])
		}
	}
	require.Len(t, results, 1)
	require.Equal(t, "sub", results[0].Entry.Name)
}

func TestCancellationStopsFurtherEvents(t *testing.T) {
	lister := &fakeLister{byRoot: map[string][]driver.Entry{
		"r:root": {{Name: "a.txt", Path: "r:root/a.txt", IsDir: false, Size: 1}},
	}, delay: 100 * time.Millisecond}
	m := New(lister, fastTestConfig(), zerolog.Nop())
	defer m.Stop()

	s := m.Create(context.Background(), KindSearch, Params{Root: "r:root", Query: "*"})
	time.Sleep(20 * time.Millisecond)
	ok := m.Cancel(s.ID)
	require.True(t, ok)

	res := waitDone(t, m, s.ID, 2*time.Second)
	last := res.Events[len(res.Events)-1]
	require.Equal(t, EventDone, last.Type)
	require.Equal(t, DoneCancelled, last.Status)
}

func TestPollReturnsOnlyEventsAfterCursor(t *testing.T) {
	lister := &fakeLister{byRoot: map[string][]driver.Entry{
		"r:root": {{Name: "a.txt", Path: "r:root/a.txt", IsDir: false, Size: 1}},
	}}
	m := New(lister, fastTestConfig(), zerolog.Nop())
	defer m.Stop()

	s := m.Create(context.Background(), KindSearch, Params{Root: "r:root", Query: "*"})
	first := waitDone(t, m, s.ID, 2*time.Second)
	require.NotEmpty(t, first.Events)

	cursor := first.Events[0].Seq
	res, err := m.Poll(s.ID, cursor)
	require.NoError(t, err)
	for _, e := range res.Events {
		require.Greater(t, e.Seq, cursor)
	}
	require.Equal(t, first.NextSeq, res.NextSeq)
}

func TestPollUnknownSessionReturnsNotFound(t *testing.T) {
	m := New(&fakeLister{}, fastTestConfig(), zerolog.Nop())
	defer m.Stop()
	_, err := m.Poll(uuid.New(), 0)
	require.Error(t, err)
}
