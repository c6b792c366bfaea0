package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/yegors/clara/pkg/logger"
)

// Publisher fans messages out to connected front ends
type Publisher interface {
	Publish(msgType string, data map[string]any)
}

const (
	MessageTypeCaptureRequest = "capture.request"
	MessageTypeCaptureRelease = "capture.release"

	ReasonPermissionDenied = "permission_denied"
	ReasonNoDevice         = "no_device"
)

// BrowserSource serves devices backed by browser microphone sockets. Acquire
// asks the front end to open a capture socket for the owner and waits for it.
type BrowserSource struct {
	arbiter    *Arbiter
	pub        Publisher
	timeout    time.Duration
	sampleRate int
	logger     *logger.Logger

	mu      sync.Mutex
	waiters map[string]chan attachResult
	ready   map[string]*StreamDevice
}

type attachResult struct {
	dev *StreamDevice
	err error
}

// NewBrowserSource creates a source that waits up to timeout for a socket
func NewBrowserSource(arbiter *Arbiter, pub Publisher, sampleRate int, timeout time.Duration, log *logger.Logger) *BrowserSource {
	return &BrowserSource{
		arbiter:    arbiter,
		pub:        pub,
		timeout:    timeout,
		sampleRate: sampleRate,
		logger:     log.Named("browser-capture"),
		waiters:    make(map[string]chan attachResult),
		ready:      make(map[string]*StreamDevice),
	}
}

func browserDeviceID(owner string) string {
	return "browser/" + owner
}

// Acquire claims the owner's browser microphone
func (s *BrowserSource) Acquire(ctx context.Context, owner string) (Device, error) {
	id := browserDeviceID(owner)
	if err := s.arbiter.Claim(id, owner); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if dev, ok := s.ready[owner]; ok {
		delete(s.ready, owner)
		s.mu.Unlock()
		return withClaim(dev, s.arbiter, owner), nil
	}
	ch := make(chan attachResult, 1)
	s.waiters[owner] = ch
	s.mu.Unlock()

	s.pub.Publish(MessageTypeCaptureRequest, map[string]any{
		"owner":       owner,
		"sample_rate": s.sampleRate,
	})
	s.logger.Debug("Waiting for browser capture socket", logger.String("owner", owner))

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var res attachResult
	select {
	case res = <-ch:
	case <-timer.C:
		res.err = fmt.Errorf("%w: no capture socket for %s within %s", ErrDeviceUnavailable, owner, s.timeout)
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	s.mu.Lock()
	if s.waiters[owner] == ch {
		delete(s.waiters, owner)
	}
	s.mu.Unlock()

	if res.err != nil {
		// a socket may have attached just as we gave up
		select {
		case late := <-ch:
			if late.dev != nil {
				late.dev.Close()
			}
		default:
		}
		s.arbiter.Release(id, owner)
		return nil, res.err
	}
	return withClaim(res.dev, s.arbiter, owner), nil
}

// Attach registers a newly opened capture socket for owner and returns the
// device the socket should feed
func (s *BrowserSource) Attach(owner string) *StreamDevice {
	dev := NewStreamDevice(browserDeviceID(owner), s.sampleRate)
	dev.onClose = func() {
		s.pub.Publish(MessageTypeCaptureRelease, map[string]any{"owner": owner})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[owner]; ok {
		delete(s.waiters, owner)
		ch <- attachResult{dev: dev}
		return dev
	}
	if prev, ok := s.ready[owner]; ok {
		prev.Close()
	}
	s.ready[owner] = dev
	return dev
}

// Deny reports that the browser could not provide a microphone for owner
func (s *BrowserSource) Deny(owner, reason string) {
	err := fmt.Errorf("%w: %s", ErrDeviceUnavailable, reason)
	if reason == ReasonPermissionDenied {
		err = ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[owner]; ok {
		delete(s.waiters, owner)
		ch <- attachResult{err: err}
	}
	s.logger.Info("Browser denied capture",
		logger.String("owner", owner),
		logger.String("reason", reason))
}

// StreamDevice is a Device fed by an external reader such as a websocket
type StreamDevice struct {
	id      string
	rate    int
	frames  chan []float32
	closed  chan struct{}
	ended   chan struct{}
	endErr  error
	closeMu sync.Once
	endMu   sync.Once
	onClose func()
}

// NewStreamDevice creates an unattached stream device
func NewStreamDevice(id string, rate int) *StreamDevice {
	return &StreamDevice{
		id:     id,
		rate:   rate,
		frames: make(chan []float32, 64),
		closed: make(chan struct{}),
		ended:  make(chan struct{}),
	}
}

func (d *StreamDevice) ID() string      { return d.id }
func (d *StreamDevice) SampleRate() int { return d.rate }

// Feed delivers samples to the reader. It returns false once the device is closed.
func (d *StreamDevice) Feed(samples []float32) bool {
	select {
	case <-d.closed:
		return false
	case d.frames <- samples:
		return true
	}
}

// End marks the feeding side as finished
func (d *StreamDevice) End(err error) {
	d.endMu.Do(func() {
		if err == nil {
			err = io.EOF
		}
		d.endErr = err
		close(d.ended)
	})
}

// ReadSamples returns the next block of fed samples
func (d *StreamDevice) ReadSamples(ctx context.Context) ([]float32, error) {
	select {
	case samples := <-d.frames:
		return samples, nil
	case <-d.closed:
		return nil, io.EOF
	case <-d.ended:
		// drain anything fed before the end
		select {
		case samples := <-d.frames:
			return samples, nil
		default:
		}
		return nil, d.endErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the device. The feeding side observes Closed.
func (d *StreamDevice) Close() error {
	d.closeMu.Do(func() {
		close(d.closed)
		if d.onClose != nil {
			d.onClose()
		}
	})
	return nil
}

// Closed is closed when the consumer releases the device
func (d *StreamDevice) Closed() <-chan struct{} {
	return d.closed
}
