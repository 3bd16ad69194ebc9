package camera

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// SnapshotDevice is an IP camera exposing a still image URL.
type SnapshotDevice struct {
	ID   string `mapstructure:"id" json:"id"`
	Name string `mapstructure:"name" json:"name"`
	URL  string `mapstructure:"url" json:"url"`
}

// Snapshot captures by fetching a JPEG snapshot URL over HTTP.
type Snapshot struct {
	delegateHolder

	HTTP *resty.Client

	mu      sync.Mutex
	devices []SnapshotDevice
	current string
	started bool
}

// NewSnapshot creates a snapshot camera over the configured devices. The
// first device is selected unless preferred names another one.
func NewSnapshot(devices []SnapshotDevice, preferred string, timeout time.Duration) *Snapshot {
	r := resty.New()
	r.SetTimeout(timeout)
	r.SetHeader("Accept", "image/jpeg, image/*")

	s := &Snapshot{HTTP: r, devices: append([]SnapshotDevice(nil), devices...)}
	for _, d := range devices {
		if d.ID == preferred {
			s.current = preferred
		}
	}
	if s.current == "" && len(devices) > 0 {
		s.current = devices[0].ID
	}
	return s
}

// Prepare fetches one frame from the selected device to check access.
func (s *Snapshot) Prepare(ctx context.Context) error {
	dev, ok := s.device()
	if !ok {
		return fmt.Errorf("%w: no snapshot devices configured", ErrUnavailable)
	}
	_, err := s.fetch(ctx, dev)
	return err
}

func (s *Snapshot) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Snapshot) Stop() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// Capture fetches one snapshot in the background.
func (s *Snapshot) Capture(id RequestID) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	dev, ok := s.device()
	go func() {
		switch {
		case !ok:
			s.deliver(id, nil, fmt.Errorf("%w: no device selected", ErrUnavailable))
		case !started:
			s.deliver(id, nil, fmt.Errorf("%w: camera not started", ErrDevice))
		default:
			data, err := s.fetch(context.Background(), dev)
			s.deliver(id, data, err)
		}
	}()
}

func (s *Snapshot) fetch(ctx context.Context, dev SnapshotDevice) ([]byte, error) {
	resp, err := s.HTTP.R().
		SetContext(ctx).
		Get(dev.URL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, dev.ID, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s returned %d", ErrPermissionDenied, dev.ID, code)
	case resp.IsError() || code < 200 || code > 299:
		return nil, fmt.Errorf("%w: %s returned %d", ErrDevice, dev.ID, code)
	}

	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty snapshot", ErrDevice, dev.ID)
	}
	return resp.Body(), nil
}

func (s *Snapshot) device() (SnapshotDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ID == s.current {
			return d, true
		}
	}
	return SnapshotDevice{}, false
}

// Devices lists the configured devices.
func (s *Snapshot) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, Device{ID: d.ID, Name: d.displayName()})
	}
	return out
}

// Current returns the selected device.
func (s *Snapshot) Current() (Device, bool) {
	d, ok := s.device()
	if !ok {
		return Device{}, false
	}
	return Device{ID: d.ID, Name: d.displayName()}, true
}

// Switch selects another configured device.
func (s *Snapshot) Switch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ID == id {
			s.current = id
			return nil
		}
	}
	return fmt.Errorf("%w: unknown device %q", ErrUnavailable, id)
}

func (d SnapshotDevice) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
