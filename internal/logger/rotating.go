package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ io.WriteCloser = (*RotatingFile)(nil)

const backupTimeFormat = "2006-01-02T15-04-05.000"

// RotatingFile is an io.WriteCloser that starts a new file once the current
// one would exceed MaxBytes. Backups are named <name>-<timestamp><ext>,
// optionally gzipped, and pruned by count and age.
type RotatingFile struct {
	Filename   string
	MaxBytes   int64 // 0 selects 10 MiB
	MaxBackups int   // 0 keeps every backup
	MaxAge     time.Duration
	Compress   bool

	mu      sync.Mutex
	file    *os.File
	size    int64
	pending sync.WaitGroup
	now     func() time.Time
}

// NewRotatingFile builds a rotating file from megabyte and day limits.
func NewRotatingFile(filename string, maxSizeMB, maxBackups, maxAgeDays int) *RotatingFile {
	return &RotatingFile{
		Filename:   filename,
		MaxBytes:   int64(maxSizeMB) * 1024 * 1024,
		MaxBackups: maxBackups,
		MaxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
		Compress:   true,
	}
}

func (r *RotatingFile) limit() int64 {
	if r.MaxBytes <= 0 {
		return 10 * 1024 * 1024
	}
	return r.MaxBytes
}

func (r *RotatingFile) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Write appends p, rotating first if p does not fit.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(p))
	if n > r.limit() {
		return 0, fmt.Errorf("write of %d bytes exceeds log size limit %d", n, r.limit())
	}

	if r.file == nil {
		if err := r.open(n); err != nil {
			return 0, err
		}
	}
	if r.size+n > r.limit() {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	written, err := r.file.Write(p)
	r.size += int64(written)
	return written, err
}

// Rotate forces a rotation.
func (r *RotatingFile) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}

// Close closes the current file and waits for background compression.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	err := r.closeFile()
	r.mu.Unlock()
	r.pending.Wait()
	return err
}

func (r *RotatingFile) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// open appends to the existing file unless the next write would overflow it.
func (r *RotatingFile) open(next int64) error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.create()
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size()+next > r.limit() {
		return r.rotate()
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return r.create()
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *RotatingFile) create() error {
	if err := os.MkdirAll(filepath.Dir(r.Filename), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *RotatingFile) rotate() error {
	if err := r.closeFile(); err != nil {
		return err
	}

	if _, err := os.Stat(r.Filename); err == nil {
		backup := r.backupName(r.clock())
		if err := os.Rename(r.Filename, backup); err != nil {
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			r.afterRotate(backup)
		}()
	}

	return r.create()
}

func (r *RotatingFile) split() (dir, prefix, ext string) {
	dir = filepath.Dir(r.Filename)
	base := filepath.Base(r.Filename)
	ext = filepath.Ext(base)
	return dir, strings.TrimSuffix(base, ext), ext
}

func (r *RotatingFile) backupName(t time.Time) string {
	dir, prefix, ext := r.split()
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, t.Format(backupTimeFormat), ext))
}

func (r *RotatingFile) afterRotate(backup string) {
	if r.Compress {
		if err := gzipFile(backup); err == nil {
			os.Remove(backup)
		}
	}
	r.prune()
}

type backup struct {
	path string
	at   time.Time
}

// backups lists rotated files, oldest first.
func (r *RotatingFile) backups() ([]backup, error) {
	dir, prefix, ext := r.split()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		stamp := strings.TrimPrefix(name, prefix+"-")
		stamp = strings.TrimSuffix(stamp, ".gz")
		if !strings.HasSuffix(stamp, ext) {
			continue
		}
		stamp = strings.TrimSuffix(stamp, ext)
		t, err := time.ParseInLocation(backupTimeFormat, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, backup{path: filepath.Join(dir, name), at: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out, nil
}

func (r *RotatingFile) prune() {
	if r.MaxBackups <= 0 && r.MaxAge <= 0 {
		return
	}
	files, err := r.backups()
	if err != nil {
		return
	}

	if r.MaxAge > 0 {
		cutoff := r.clock().Add(-r.MaxAge)
		kept := files[:0]
		for _, f := range files {
			if f.at.Before(cutoff) {
				os.Remove(f.path)
				continue
			}
			kept = append(kept, f)
		}
		files = kept
	}

	if r.MaxBackups > 0 && len(files) > r.MaxBackups {
		for _, f := range files[:len(files)-r.MaxBackups] {
			os.Remove(f.path)
		}
	}
}

func gzipFile(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(src + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
