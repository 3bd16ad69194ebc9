// Package camera provides the image sources the capture orchestrator drives.
// Captures are asynchronous: Capture returns immediately and the result is
// delivered to the registered Delegate from another goroutine.
package camera

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnavailable means no usable capture device exists.
	ErrUnavailable = errors.New("camera unavailable")
	// ErrPermissionDenied means the device exists but access was refused.
	ErrPermissionDenied = errors.New("camera access denied")
	// ErrDevice wraps device level failures while configuring or capturing.
	ErrDevice = errors.New("camera device error")
)

// Device identifies one selectable capture device.
type Device struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// RequestID correlates a Capture call with its result. Results of
// concurrent captures may arrive in any order.
type RequestID uint64

// Delegate receives capture results and device list changes.
type Delegate interface {
	PhotoCaptured(id RequestID, data []byte)
	CaptureFailed(id RequestID, err error)
	DevicesChanged()
}

// Camera is an image source.
type Camera interface {
	// Prepare checks access and selects a device. It must succeed before Start.
	Prepare(ctx context.Context) error
	Start() error
	Stop() error
	// Capture requests one photo. Exactly one of PhotoCaptured or
	// CaptureFailed follows, carrying id.
	Capture(id RequestID)
	Devices() []Device
	Current() (Device, bool)
	Switch(id string) error
	SetDelegate(d Delegate)
}

// delegateHolder is embedded by implementations to guard delegate access.
type delegateHolder struct {
	mu sync.RWMutex
	d  Delegate
}

func (h *delegateHolder) SetDelegate(d Delegate) {
	h.mu.Lock()
	h.d = d
	h.mu.Unlock()
}

func (h *delegateHolder) delegate() Delegate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.d
}

func (h *delegateHolder) deliver(id RequestID, data []byte, err error) {
	d := h.delegate()
	if d == nil {
		return
	}
	if err != nil {
		d.CaptureFailed(id, err)
		return
	}
	d.PhotoCaptured(id, data)
}

func (h *delegateHolder) devicesChanged() {
	if d := h.delegate(); d != nil {
		d.DevicesChanged()
	}
}
