package pruner

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/config"
	"camera2url/internal/history"
	"camera2url/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := history.SuccessRecord(i+1, base.Add(time.Duration(i)*time.Minute), api.UploadExchange{StatusCode: 200}, history.OriginTimer)
		require.NoError(t, s.RecordUpload(r, ""))
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrunerRetention(t *testing.T) {
	s := newStore(t)
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	// Three rows from 40 days ago, two from yesterday.
	seed(t, s, now.AddDate(0, 0, -40), 3)
	seed(t, s, now.AddDate(0, 0, -1), 2)

	cfg := &config.Config{UploadRetentionDays: 30}
	p := NewPruner(cfg, s, quiet())
	p.now = func() time.Time { return now }
	p.Prune()

	count, err := s.CountUploads()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrunerHysteresis(t *testing.T) {
	s := newStore(t)
	seed(t, s, time.Now().Add(-time.Hour), 12)

	// Max 10 rows, high 80% = 8, low 40% = 4.
	cfg := &config.Config{
		UploadMaxRows:             10,
		PruneHighWatermarkPercent: 80,
		PruneLowWatermarkPercent:  40,
	}
	p := NewPruner(cfg, s, quiet())
	p.Prune()

	rows, err := s.ListUploads(100)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, 12, rows[0].CaptureNumber, "newest rows survive")
	assert.Equal(t, 9, rows[3].CaptureNumber)
}

func TestPrunerBelowHighWatermarkKeepsRows(t *testing.T) {
	s := newStore(t)
	seed(t, s, time.Now().Add(-time.Hour), 8)

	cfg := &config.Config{
		UploadMaxRows:             10,
		PruneHighWatermarkPercent: 80,
		PruneLowWatermarkPercent:  40,
	}
	NewPruner(cfg, s, quiet()).Prune()

	count, err := s.CountUploads()
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestPrunerStartStop(t *testing.T) {
	s := newStore(t)
	seed(t, s, time.Now().AddDate(0, 0, -10), 1)

	cfg := &config.Config{UploadRetentionDays: 1, PruneIntervalMinutes: 60}
	p := NewPruner(cfg, s, quiet())
	p.Start()

	require.Eventually(t, func() bool {
		n, err := s.CountUploads()
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
	p.Stop()
}
