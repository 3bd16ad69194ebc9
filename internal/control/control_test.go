package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera2url/internal/api"
	"camera2url/internal/capture"
	"camera2url/internal/history"
	"camera2url/internal/store"
)

type fakeOrchestrator struct {
	mu          sync.Mutex
	target      *api.TargetConfig
	policy      capture.TimerPolicy
	timerActive bool
	captures    int
	captureErr  error
	photo       []byte
	origin      history.Origin
	hist        *history.Store
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{policy: capture.DefaultTimerPolicy(), hist: history.NewStore(0)}
}

func (f *fakeOrchestrator) Snapshot() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, fl := f.hist.Counts()
	return capture.Status{
		Target:       f.target,
		Manual:       capture.ManualStatus{State: capture.StateIdle},
		TimerActive:  f.timerActive,
		TimerPolicy:  f.policy,
		CaptureCount: f.captures,
		HistorySize:  f.hist.Len(),
		SuccessCount: s,
		FailureCount: fl,
	}
}

func (f *fakeOrchestrator) TakeAndSendPhoto() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return f.captureErr
	}
	f.captures++
	return nil
}

func (f *fakeOrchestrator) StartTimer(p capture.TimerPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return f.captureErr
	}
	f.policy = p
	f.timerActive = true
	return nil
}

func (f *fakeOrchestrator) StopTimer() {
	f.mu.Lock()
	f.timerActive = false
	f.mu.Unlock()
}

func (f *fakeOrchestrator) TimerPolicy() capture.TimerPolicy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policy
}

func (f *fakeOrchestrator) SetTarget(t *api.TargetConfig) {
	f.mu.Lock()
	f.target = t
	f.mu.Unlock()
}

func (f *fakeOrchestrator) History() *history.Store { return f.hist }
func (f *fakeOrchestrator) ClearHistory()           { f.hist.Clear() }

func (f *fakeOrchestrator) LastPhoto() ([]byte, history.Origin, bool) {
	return f.photo, f.origin, f.photo != nil
}

type fixture struct {
	orch   *fakeOrchestrator
	store  *store.Store
	server *httptest.Server
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orch := newFakeOrchestrator()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "camera2url_up 1\n")
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(orch, st, "device-1", metrics, logger))
	t.Cleanup(srv.Close)

	return &fixture{orch: orch, store: st, server: srv, client: NewClient(srv.URL, 5*time.Second)}
}

func TestStatusReportsDeviceAndCapture(t *testing.T) {
	f := newFixture(t)

	status, err := f.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-1", status.DeviceID)
	assert.Equal(t, capture.StateIdle, status.Capture.Manual.State)
	assert.Equal(t, capture.DefaultTimerPolicy(), status.Capture.TimerPolicy)
}

func TestCaptureMapsPreconditionErrors(t *testing.T) {
	f := newFixture(t)

	f.orch.captureErr = capture.ErrNoTarget
	resp, err := http.Post(f.server.URL+"/capture", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.orch.captureErr = capture.ErrCameraNotReady
	_, err = f.client.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	f.orch.captureErr = nil
	status, err := f.client.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.CaptureCount)
}

func TestTimerStartWithAndWithoutBody(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/timer/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, capture.DefaultTimerPolicy(), f.orch.TimerPolicy())

	status, err := f.client.StartTimer(context.Background(), TimerRequest{Value: intPtr(5), Unit: "minute"})
	require.NoError(t, err)
	assert.True(t, status.TimerActive)
	assert.Equal(t, capture.TimerPolicy{Value: 5, Unit: capture.Minutes}, status.TimerPolicy)

	status, err = f.client.StopTimer(context.Background())
	require.NoError(t, err)
	assert.False(t, status.TimerActive)
}

func TestTimerStartRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"unit":"fortnights"}`, `{not json`} {
		resp, err := http.Post(f.server.URL+"/timer/start", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.False(t, f.orch.Snapshot().TimerActive)
}

func TestTimerStartClampsValue(t *testing.T) {
	f := newFixture(t)

	status, err := f.client.StartTimer(context.Background(), TimerRequest{Value: intPtr(-4), Unit: "hours"})
	require.NoError(t, err)
	assert.Equal(t, capture.TimerPolicy{Value: 1, Unit: capture.Hours}, status.TimerPolicy)
}

func TestTimerStartZeroValueClampsToOne(t *testing.T) {
	f := newFixture(t)
	f.orch.mu.Lock()
	f.orch.policy = capture.NewTimerPolicy(10, capture.Minutes)
	f.orch.mu.Unlock()

	resp, err := http.Post(f.server.URL+"/timer/start", "application/json", strings.NewReader(`{"value":0}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, capture.TimerPolicy{Value: 1, Unit: capture.Minutes}, f.orch.TimerPolicy())
}

func intPtr(v int) *int { return &v }

func TestHistoryLimitAndClear(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 3; i++ {
		f.orch.hist.AddSuccess(i, api.UploadExchange{StatusCode: 200}, history.OriginTimer)
	}
	f.orch.hist.AddFailure(4, api.NewErrorReport("boom", "No request sent.", nil), history.OriginManual)

	all, err := f.client.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all.Records, 4)
	assert.Equal(t, 3, all.Success)
	assert.Equal(t, 1, all.Failure)
	assert.Equal(t, 4, all.Records[0].CaptureNumber)

	limited, err := f.client.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, limited.Records, 2)
	assert.Equal(t, 3, limited.Records[1].CaptureNumber)

	require.NoError(t, f.client.ClearHistory(context.Background()))
	assert.Zero(t, f.orch.hist.Len())
}

func TestLastPhoto(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/photo/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.orch.photo = []byte("\x89PNG\r\n\x1a\nrest")
	f.orch.origin = history.OriginTimer
	resp, err = http.Get(f.server.URL + "/photo/last")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "timer", resp.Header.Get("X-Capture-Origin"))
	assert.Equal(t, f.orch.photo, body)
}

func TestSaveAndSelectTargets(t *testing.T) {
	f := newFixture(t)

	post := func(body string) *http.Response {
		resp, err := http.Post(f.server.URL+"/targets", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post(`{"verb":"PUT","url":"https://example.com/a","note":"first"}`)
	var first api.TargetConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, api.Verb("PUT"), first.Verb)

	resp = post(`{"verb":"POST","url":"https://example.com/b"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com/b", f.orch.Snapshot().Target.URL)

	resp = post(`{"verb":"POST","url":"ftp://example.com"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(`{"verb":"TRACE","url":"https://example.com"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(f.server.URL+"/targets/"+first.ID+"/select", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, f.orch.Snapshot().Target.ID)

	targets, err := f.client.Targets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, first.ID, targets[0].ID)

	resp, err = http.Post(f.server.URL+"/targets/missing/select", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReloadAndClearTargets(t *testing.T) {
	f := newFixture(t)

	saved, err := f.store.UpsertTarget("PATCH", "https://example.com/cli", "from cli")
	require.NoError(t, err)
	require.NoError(t, f.client.ReloadTarget(context.Background()))
	require.NotNil(t, f.orch.Snapshot().Target)
	assert.Equal(t, saved.ID, f.orch.Snapshot().Target.ID)

	req, _ := http.NewRequest(http.MethodDelete, f.server.URL+"/targets", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, f.orch.Snapshot().Target)

	require.NoError(t, f.client.ReloadTarget(context.Background()))
	assert.Nil(t, f.orch.Snapshot().Target)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "camera2url_up 1")
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	c := NewClient("127.0.0.1:1", 500*time.Millisecond)
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, ErrDaemonUnreachable)
}

func TestServerStartAndShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("127.0.0.1:0", NewRouter(newFakeOrchestrator(), nil, "d", nil, logger), logger)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
