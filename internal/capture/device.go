package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrPermissionDenied means the user refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no capture device could be opened
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceBusy means another owner currently holds the device
	ErrDeviceBusy = errors.New("capture device busy")
)

// Device is an open capture stream producing mono float samples in [-1,1]
type Device interface {
	ID() string
	SampleRate() int
	// ReadSamples blocks until samples arrive, the device ends, or ctx is done
	ReadSamples(ctx context.Context) ([]float32, error)
	// Close stops capture and releases the device. Safe to call repeatedly.
	Close() error
}

// Source hands out capture devices to owners
type Source interface {
	Acquire(ctx context.Context, owner string) (Device, error)
}

// Arbiter enforces that a device is held by at most one owner at a time
type Arbiter struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewArbiter creates an empty arbiter
func NewArbiter() *Arbiter {
	return &Arbiter{holders: make(map[string]string)}
}

// Claim marks deviceID as held by owner
func (a *Arbiter) Claim(deviceID, owner string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if holder, ok := a.holders[deviceID]; ok {
		return fmt.Errorf("%w: %s is held by %s", ErrDeviceBusy, deviceID, holder)
	}
	a.holders[deviceID] = owner
	return nil
}

// Release frees deviceID if owner holds it
func (a *Arbiter) Release(deviceID, owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holders[deviceID] == owner {
		delete(a.holders, deviceID)
	}
}

// Holder reports who holds deviceID
func (a *Arbiter) Holder(deviceID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.holders[deviceID]
	return owner, ok
}

// Held returns the number of claimed devices
func (a *Arbiter) Held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.holders)
}

// claimed wraps a device so closing it also releases the arbiter claim
type claimed struct {
	Device
	once    sync.Once
	release func()
}

func (c *claimed) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Device.Close()
		c.release()
	})
	return err
}

func withClaim(d Device, a *Arbiter, owner string) Device {
	id := d.ID()
	return &claimed{Device: d, release: func() { a.Release(id, owner) }}
}

// DecodeFloat32LE converts little-endian IEEE-754 bytes to samples
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
