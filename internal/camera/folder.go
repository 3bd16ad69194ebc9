package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"camera2url/internal/watcher"
)

// RootDevice is the device ID used when the folder has no subdirectories.
const RootDevice = "."

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// Folder treats a directory as a camera. Every subdirectory is a device whose
// newest image file is the current frame; with no subdirectories the folder
// itself is the only device. Any program that drops frames on disk
// (motion, ffmpeg, gphoto2 hooks) can feed it.
type Folder struct {
	delegateHolder

	root      string
	preferred string
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	devices []Device
	current string
	latest  map[string]string // device id -> newest settled frame
	watch   *watcher.Watcher
}

// NewFolder creates a folder camera rooted at root. preferred selects the
// initial device when present.
func NewFolder(root, preferred string, debounce time.Duration, logger *slog.Logger) *Folder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Folder{
		root:      root,
		preferred: preferred,
		debounce:  debounce,
		logger:    logger,
		latest:    make(map[string]string),
	}
}

// Prepare checks the folder is readable and picks a device.
func (f *Folder) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	devices, err := f.scanDevices()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	if f.current == "" || !hasDevice(devices, f.current) {
		f.current = devices[0].ID
		if f.preferred != "" && hasDevice(devices, f.preferred) {
			f.current = f.preferred
		}
	}
	return nil
}

func (f *Folder) scanDevices() ([]Device, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, f.root)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: folder %s does not exist", ErrUnavailable, f.root)
		default:
			return nil, fmt.Errorf("%w: %v", ErrDevice, err)
		}
	}

	var devices []Device
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			devices = append(devices, Device{ID: e.Name(), Name: e.Name()})
		}
	}
	if len(devices) == 0 {
		devices = []Device{{ID: RootDevice, Name: filepath.Base(f.root)}}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// Start begins watching the folder for new frames and device changes.
func (f *Folder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watch != nil {
		return nil
	}
	w, err := watcher.NewWatcher(f.root, f.debounce, f.frameSettled, f.logger)
	if err != nil {
		return fmt.Errorf("%w: failed to watch %s: %v", ErrDevice, f.root, err)
	}
	w.OnDirectoryChange(f.directoryChanged)
	f.watch = w
	return nil
}

// Stop releases the watcher. The camera can be started again.
func (f *Folder) Stop() error {
	f.mu.Lock()
	w := f.watch
	f.watch = nil
	f.mu.Unlock()
	if w != nil {
		w.Close()
	}
	return nil
}

func (f *Folder) frameSettled(path string) {
	if !isImage(path) {
		return
	}
	rel, err := filepath.Rel(f.root, filepath.Dir(path))
	if err != nil {
		return
	}
	id := RootDevice
	if rel != "." {
		id = strings.Split(rel, string(filepath.Separator))[0]
	}
	f.mu.Lock()
	f.latest[id] = path
	f.mu.Unlock()
}

func (f *Folder) directoryChanged(path string) {
	if filepath.Dir(path) != filepath.Clean(f.root) {
		return
	}
	devices, err := f.scanDevices()
	if err != nil {
		f.logger.Warn("Failed to rescan camera folder", "root", f.root, "error", err)
		return
	}
	f.mu.Lock()
	f.devices = devices
	if !hasDevice(devices, f.current) {
		f.current = devices[0].ID
	}
	f.mu.Unlock()
	f.devicesChanged()
}

// Capture reads the newest frame of the current device in the background.
func (f *Folder) Capture(id RequestID) {
	f.mu.Lock()
	device := f.current
	cached := f.latest[device]
	f.mu.Unlock()

	go func() {
		data, err := f.readFrame(device, cached)
		f.deliver(id, data, err)
	}()
}

func (f *Folder) readFrame(id, cached string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: no device selected", ErrUnavailable)
	}
	path := cached
	if path == "" {
		var err error
		if path, err = f.newestFrame(id); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil && cached != "" {
		// Cached frame vanished; fall back to a scan.
		if path, err = f.newestFrame(id); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	return data, nil
}

func (f *Folder) newestFrame(id string) (string, error) {
	dir := f.root
	if id != RootDevice {
		dir = filepath.Join(f.root, id)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDevice, err)
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, e.Name())
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: no frames in %s", ErrDevice, dir)
	}
	return newest, nil
}

// Devices returns the devices found by the last scan.
func (f *Folder) Devices() []Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Device, len(f.devices))
	copy(out, f.devices)
	return out
}

// Current returns the selected device.
func (f *Folder) Current() (Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == f.current {
			return d, true
		}
	}
	return Device{}, false
}

// Switch selects another device by ID.
func (f *Folder) Switch(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !hasDevice(f.devices, id) {
		return fmt.Errorf("%w: unknown device %q", ErrUnavailable, id)
	}
	f.current = id
	return nil
}

func hasDevice(devices []Device, id string) bool {
	for _, d := range devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
