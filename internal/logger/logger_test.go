package logger

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServiceLogger collects lines per level.
type fakeServiceLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (f *fakeServiceLogger) add(level, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lines == nil {
		f.lines = map[string][]string{}
	}
	f.lines[level] = append(f.lines[level], msg)
	return nil
}

func (f *fakeServiceLogger) Error(v ...interface{}) error   { return f.add("error", fmt.Sprint(v...)) }
func (f *fakeServiceLogger) Warning(v ...interface{}) error { return f.add("warning", fmt.Sprint(v...)) }
func (f *fakeServiceLogger) Info(v ...interface{}) error    { return f.add("info", fmt.Sprint(v...)) }
func (f *fakeServiceLogger) Errorf(format string, a ...interface{}) error {
	return f.add("error", fmt.Sprintf(format, a...))
}
func (f *fakeServiceLogger) Warningf(format string, a ...interface{}) error {
	return f.add("warning", fmt.Sprintf(format, a...))
}
func (f *fakeServiceLogger) Infof(format string, a ...interface{}) error {
	return f.add("info", fmt.Sprintf(format, a...))
}

func TestSetupFansOut(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var file, console bytes.Buffer
	svc := &fakeServiceLogger{}
	log := Setup(svc, &file, Options{Level: slog.LevelInfo, Console: &console})

	log.With("capture", 3).WithGroup("upload").Warn("Upload failed", "status", 500)
	log.Debug("hidden")

	assert.Contains(t, file.String(), "Upload failed")
	assert.Contains(t, console.String(), "upload.status=500")
	assert.NotContains(t, file.String(), "hidden")

	require.Len(t, svc.lines["warning"], 1)
	line := svc.lines["warning"][0]
	assert.Contains(t, line, `msg="Upload failed"`)
	assert.Contains(t, line, "capture=3")
	assert.NotContains(t, line, "upload.capture")
	assert.Contains(t, line, "upload.status=500")
	assert.NotContains(t, line, "level=")
}

func TestServiceHandlerWithoutService(t *testing.T) {
	h := &ServiceHandler{}
	assert.False(t, h.Enabled(context.Background(), slog.LevelError))
}

func newTestRotating(t *testing.T, name string, maxBytes int64) (*RotatingFile, *time.Time) {
	t.Helper()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	r := &RotatingFile{
		Filename: filepath.Join(t.TempDir(), name),
		MaxBytes: maxBytes,
	}
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(func() { r.Close() })
	return r, &clock
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRotatingFileRotatesOnSize(t *testing.T) {
	r, _ := newTestRotating(t, "camera2url.log", 100)

	_, err := r.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	_, err = r.Write(bytes.Repeat([]byte("b"), 60))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	dir := filepath.Dir(r.Filename)
	names := listDir(t, dir)
	require.Len(t, names, 2)

	current, err := os.ReadFile(r.Filename)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("b", 60), string(current))
}

func TestRotatingFileRejectsOversizedWrite(t *testing.T) {
	r, _ := newTestRotating(t, "big.log", 10)
	_, err := r.Write(make([]byte, 11))
	assert.Error(t, err)
}

func TestRotatingFileAppendsToExisting(t *testing.T) {
	r, _ := newTestRotating(t, "append.log", 1024)
	require.NoError(t, os.WriteFile(r.Filename, []byte("old\n"), 0o644))

	_, err := r.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(r.Filename)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
}

func TestRotatingFileKeepsMaxBackups(t *testing.T) {
	r, _ := newTestRotating(t, "cleanup.log", 1024)
	r.MaxBackups = 2

	for i := 0; i < 4; i++ {
		_, err := r.Write([]byte("data"))
		require.NoError(t, err)
		require.NoError(t, r.Rotate())
		r.pending.Wait()
	}
	require.NoError(t, r.Close())

	backups, err := r.backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	assert.Len(t, listDir(t, filepath.Dir(r.Filename)), 3, "current file plus two backups")
}

func TestRotatingFileDropsOldBackups(t *testing.T) {
	r, clock := newTestRotating(t, "aged.log", 1024)
	r.MaxAge = 24 * time.Hour

	dir := filepath.Dir(r.Filename)
	stale := filepath.Join(dir, "aged-"+clock.Add(-72*time.Hour).Format(backupTimeFormat)+".log")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	_, err := r.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, r.Rotate())
	require.NoError(t, r.Close())

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	backups, err := r.backups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestRotatingFileCompresses(t *testing.T) {
	r, _ := newTestRotating(t, "compress.log", 1024)
	r.Compress = true

	_, err := r.Write([]byte("some data"))
	require.NoError(t, err)
	require.NoError(t, r.Rotate())
	require.NoError(t, r.Close())

	var gz string
	for _, name := range listDir(t, filepath.Dir(r.Filename)) {
		if strings.HasSuffix(name, ".gz") {
			gz = filepath.Join(filepath.Dir(r.Filename), name)
		}
	}
	require.NotEmpty(t, gz, "compressed backup missing")

	f, err := os.Open(gz)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "some data", string(data))
}
