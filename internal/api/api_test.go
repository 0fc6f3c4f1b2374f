package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rclonehub/rclonehub/internal/driver"
	"github.com/rclonehub/rclonehub/internal/engine"
	"github.com/rclonehub/rclonehub/internal/scan"
	"github.com/rclonehub/rclonehub/internal/store"
)

// fakeDriver is a minimal stand-in satisfying engine.Driver for API-level
// tests; every transfer succeeds directly, no fallback staging involved.
type fakeDriver struct{}

func (fakeDriver) Stat(context.Context, string) (driver.Entry, error) { return driver.Entry{}, nil }
func (fakeDriver) List(context.Context, string, bool) ([]driver.Entry, error) {
	return nil, nil
}
func (fakeDriver) CopyDirectory(context.Context, string, string, bool, driver.ProgressFunc) (driver.Result, error) {
	return driver.Result{ReturnCode: 0}, nil
}
func (fakeDriver) CopyFile(context.Context, string, string, bool, driver.ProgressFunc) (driver.Result, error) {
	return driver.Result{ReturnCode: 0}, nil
}
func (fakeDriver) DeletePath(context.Context, string) error { return nil }

type fakeVerifier struct{}

func (fakeVerifier) Verify(context.Context, string, string) engine.VerifyResult {
	return engine.VerifyResult{Passed: true}
}

type fakeLister struct{}

func (fakeLister) ListCancellable(context.Context, string, bool, time.Duration) ([]driver.Entry, error) {
	return nil, nil
}

type fakeOpener struct{ body string }

func (f fakeOpener) OpenStream(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type testHarness struct {
	router http.Handler
	st     *store.Store
	eng    *engine.Engine
}

func newTestHarness(t *testing.T, token string) testHarness {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "hub.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.EnsureDefaultSettings(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	settingsFn := func(ctx context.Context) (store.RuntimeSettings, error) { return st.RuntimeSettings(ctx) }
	eng := engine.New(st, fakeDriver{}, fakeVerifier{}, zerolog.Nop(), settingsFn)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	scans := scan.New(fakeLister{}, scan.DefaultConfig(), zerolog.Nop())
	t.Cleanup(scans.Stop)

	guard, err := NewAuthGuard(context.Background(), st, token)
	require.NoError(t, err)

	h := New(st, eng, scans, fakeOpener{body: "hello world"}, guard, zerolog.Nop())
	return testHarness{router: h, st: st, eng: eng}
}

func doJSON(h testHarness, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTransferAndGetJob(t *testing.T) {
	h := newTestHarness(t, "")
	rec := doJSON(h, http.MethodPost, "/api/jobs/transfer", transferRequest{
		Operation:      "copy",
		Sources:        []string{"a:src/f.txt"},
		DestinationDir: "b:dst",
	}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created engine.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(h, http.MethodGet, "/api/jobs/"+created.ID.String(), nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got engine.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		if got.Status == engine.StatusSuccess {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached success")
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	h := newTestHarness(t, "")
	rec := doJSON(h, http.MethodGet, "/api/jobs/"+uuidLike(), nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthGuardRejectsMissingToken(t *testing.T) {
	h := newTestHarness(t, "s3cret")
	rec := doJSON(h, http.MethodGet, "/api/jobs", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(h, http.MethodGet, "/api/jobs", nil, "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(h, http.MethodGet, "/api/jobs", nil, "wrong")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndPollScan(t *testing.T) {
	h := newTestHarness(t, "")
	rec := doJSON(h, http.MethodPost, "/api/scans", createScanRequest{Kind: "search", Root: "r:root"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, ok := created["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(h, http.MethodGet, "/api/scans/"+id+"?after_seq=0", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var res map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		if done, _ := res["done"].(bool); done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("scan session never finished")
}

func TestGetAndPutSettings(t *testing.T) {
	h := newTestHarness(t, "")
	rec := doJSON(h, http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rs store.RuntimeSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	require.Equal(t, 2, rs.Concurrency)

	rs.Concurrency = 5
	rec = doJSON(h, http.MethodPut, "/api/settings", rs, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(h, http.MethodGet, "/api/settings", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	require.Equal(t, 5, rs.Concurrency)
}

func TestStreamFileSniffsContentType(t *testing.T) {
	h := newTestHarness(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/stream?path=r:root/f.txt", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func uuidLike() string { return "00000000-0000-0000-0000-000000000000" }
