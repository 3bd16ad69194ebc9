package config

import (
	"os"
	"path/filepath"
	"testing"

	"camera2url/internal/camera"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)

	assert.Equal(t, SourceFolder, cfg.CameraSource)
	assert.Equal(t, 30, cfg.TimerValue)
	assert.Equal(t, "seconds", cfg.TimerUnit)
	assert.True(t, cfg.HistoryRecordManual)
	assert.Equal(t, filepath.Join(dir, "frames"), cfg.CameraFolder)
	assert.Equal(t, filepath.Join(dir, "camera2url.db"), cfg.DBPath)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg := Default()
	cfg.TargetURL = "https://example.com/upload"
	cfg.TimerValue = 5
	cfg.CameraSource = SourceSnapshot
	cfg.SnapshotDevices = []camera.SnapshotDevice{{ID: "gate", Name: "Gate", URL: "http://10.0.0.5/snap.jpg"}}
	cfg.DBPath = "/var/lib/camera2url/db.sqlite"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/upload", loaded.TargetURL)
	assert.Equal(t, 5, loaded.TimerValue)
	assert.Equal(t, SourceSnapshot, loaded.CameraSource)
	require.Len(t, loaded.SnapshotDevices, 1)
	assert.Equal(t, "gate", loaded.SnapshotDevices[0].ID)
	assert.Equal(t, "/var/lib/camera2url/db.sqlite", loaded.DBPath)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAMERA2URL_TARGET_URL", "https://env.example/upload")
	t.Setenv("CAMERA2URL_TIMER_VALUE", "12")

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example/upload", cfg.TargetURL)
	assert.Equal(t, 12, cfg.TimerValue)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.CameraSource = "webcam"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.CameraSource = SourceSnapshot
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PruneLowWatermarkPercent = 95
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
