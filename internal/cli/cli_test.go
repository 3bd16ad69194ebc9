package cli

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"camera2url/internal/api"
	"camera2url/internal/config"
	"camera2url/internal/history"
	"camera2url/internal/store"
)

type env struct {
	dir     string
	cfgPath string
	cfg     *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DeviceID = "cli-test"
	cfg.DBPath = filepath.Join(dir, "camera2url.db")
	cfg.LogPath = filepath.Join(dir, "camera2url.log")
	cfg.CameraFolder = filepath.Join(dir, "frames")
	cfg.CameraDebounceMS = 20
	// nothing listens on port 1, so daemon notifications fail fast
	cfg.ControlAddr = "127.0.0.1:1"
	require.NoError(t, os.MkdirAll(cfg.CameraFolder, 0755))

	e := &env{dir: dir, cfgPath: filepath.Join(dir, config.FileName), cfg: cfg}
	e.save(t)
	return e
}

func (e *env) save(t *testing.T) {
	t.Helper()
	require.NoError(t, config.Save(e.cfgPath, e.cfg))
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := NewRootCmd(nil, logger, e.cfg.LogPath, e.cfgPath)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (e *env) store(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(e.cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func uploadServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Test", "ok")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "stored")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pngFile(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestTargetCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "target", "set", "https://example.com/a", "-X", "put", "-n", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "PUT · https://example.com/a · first")

	_, err = e.run(t, "target", "set", "https://example.com/b")
	require.NoError(t, err)

	st := e.store(t)
	targets, err := st.ListTargets()
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "https://example.com/b", targets[0].URL)
	first := targets[1]

	_, err = e.run(t, "target", "use", first.ID)
	require.NoError(t, err)
	current, ok, err := st.CurrentTarget()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)

	out, err = e.run(t, "target", "list")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "example.com/a"), strings.Index(out, "example.com/b"))

	_, err = e.run(t, "target", "clear")
	require.NoError(t, err)
	out, err = e.run(t, "target", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No targets saved")
}

func TestTargetSetRejectsBadInput(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "target", "set", "ftp://example.com")
	assert.ErrorIs(t, err, api.ErrInvalidURL)

	_, err = e.run(t, "target", "set", "https://example.com", "-X", "TRACE")
	assert.Error(t, err)

	_, err = e.run(t, "target", "use", "missing")
	assert.ErrorIs(t, err, store.ErrTargetNotFound)
}

func TestSnapUploadsNewestFrame(t *testing.T) {
	e := newEnv(t)
	srv := uploadServer(t)
	e.cfg.TargetURL = srv.URL + "/upload"
	e.save(t)
	pngFile(t, filepath.Join(e.cfg.CameraFolder, "frame.png"))

	out, err := e.run(t, "snap", "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded (HTTP 201)")
	assert.Contains(t, out, "POST "+srv.URL+"/upload")
	assert.Contains(t, out, "X-Test: ok")

	rows, err := e.store(t).ListUploads(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, history.OriginManual, rows[0].Origin)
	assert.True(t, rows[0].Success)
}

func TestSnapTimeoutAbandonsStuckUpload(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(30 * time.Second):
		}
	}))
	defer srv.Close()
	e.cfg.TargetURL = srv.URL + "/stuck"
	e.save(t)
	pngFile(t, filepath.Join(e.cfg.CameraFolder, "frame.png"))

	start := time.Now()
	_, err := e.run(t, "snap", "--timeout", "500ms")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSnapWithoutTarget(t *testing.T) {
	e := newEnv(t)
	pngFile(t, filepath.Join(e.cfg.CameraFolder, "frame.png"))

	_, err := e.run(t, "snap")
	assert.ErrorContains(t, err, "no upload target")
}

func TestSendReportsFailure(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	}))
	defer srv.Close()
	e.cfg.TargetURL = srv.URL + "/fail"
	e.save(t)

	photo := filepath.Join(e.dir, "photo.png")
	pngFile(t, photo)

	out, err := e.run(t, "send", photo)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, out, "500")
	assert.Contains(t, out, "boom")
}

func TestSendMissingFile(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "send", filepath.Join(e.dir, "nope.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func seedUploads(t *testing.T, st *store.Store) {
	t.Helper()
	now := time.Now()
	ok := history.SuccessRecord(1, now.Add(-time.Minute), api.UploadExchange{
		StatusCode:      200,
		RequestSummary:  "POST https://example.com/upload\nContent-Type: multipart/form-data",
		ResponseSummary: "HTTP 200",
	}, history.OriginTimer)
	bad := history.FailureRecord(2, now, api.NewErrorReport("Upload failed with status 500.", "POST https://example.com/upload", nil), history.OriginManual)
	require.NoError(t, st.RecordUpload(ok, "t1"))
	require.NoError(t, st.RecordUpload(bad, "t1"))
}

func TestHistoryOutputs(t *testing.T) {
	e := newEnv(t)
	seedUploads(t, e.store(t))

	out, err := e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Success (200)")
	assert.Contains(t, out, "✗ Failed")
	assert.Contains(t, out, "Upload failed with status 500.")
	assert.Contains(t, out, "2 uploads")

	out, err = e.run(t, "history", "-o", "json", "--limit", "1")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, float64(2), entries[0]["capture_number"])
	assert.Equal(t, "manual", entries[0]["origin"])
	assert.Equal(t, "t1", entries[0]["target_id"])

	out, err = e.run(t, "history", "-o", "yaml")
	require.NoError(t, err)
	var parsed []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, "timer", parsed[1]["origin"])

	_, err = e.run(t, "history", "-o", "xml")
	assert.Error(t, err)

	out, err = e.run(t, "history", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")
	out, err = e.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No uploads recorded.")
}

func TestStatusWithoutDaemon(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Daemon is not answering on 127.0.0.1:1")
}

func TestLogsTail(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "No logs found.")

	require.NoError(t, os.WriteFile(e.cfg.LogPath, []byte("one\ntwo\nthree\n"), 0644))
	out, err = e.run(t, "logs", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", out)
}

func TestControlURL(t *testing.T) {
	assert.Equal(t, "http://192.168.1.5:8089", controlURL("127.0.0.1:8089", "192.168.1.5"))
	assert.Equal(t, "http://192.168.1.5:8089", controlURL("0.0.0.0:8089", "192.168.1.5"))
	assert.Equal(t, "http://192.168.1.5:8089", controlURL(":8089", "192.168.1.5"))
	assert.Equal(t, "http://10.0.0.2:8089", controlURL("10.0.0.2:8089", "192.168.1.5"))
	assert.Equal(t, "http://127.0.0.1:8089", controlURL("127.0.0.1:8089", ""))
}

func TestInstallPrompts(t *testing.T) {
	input := strings.Join([]string{
		"",                          // device id
		"snapshot",                  // camera source
		"http://cam.local/snap.jpg", // snapshot url
		"not a url",                 // rejected
		"https://example.com/in",    // upload url
		"put",                       // method
		"from installer",            // note
		"y",                         // timer autostart
		"minutes",                   // unit
		"5",                         // value
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg := newInstallConfig(newPrompter(strings.NewReader(input), &out), "/opt/camera2url")

	assert.NotEmpty(t, cfg.DeviceID)
	assert.Equal(t, config.SourceSnapshot, cfg.CameraSource)
	require.Len(t, cfg.SnapshotDevices, 1)
	assert.Equal(t, "http://cam.local/snap.jpg", cfg.SnapshotDevices[0].URL)
	assert.Equal(t, "https://example.com/in", cfg.TargetURL)
	assert.Equal(t, "PUT", cfg.TargetVerb)
	assert.Equal(t, "from installer", cfg.TargetNote)
	assert.True(t, cfg.TimerAutoStart)
	assert.Equal(t, "minutes", cfg.TimerUnit)
	assert.Equal(t, 5, cfg.TimerValue)
	assert.Equal(t, filepath.Join("/opt/camera2url", "camera2url.db"), cfg.DBPath)
	assert.NoError(t, cfg.Validate())
	assert.Contains(t, out.String(), "invalid")
}
