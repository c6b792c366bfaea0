// Package livetest provides in-memory capture sources and live providers for
// exercising live sessions without a microphone or network.
package livetest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/internal/capture"
)

// Device is a capture device fed by the test
type Device struct {
	id      string
	samples chan []float32
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func (d *Device) ID() string      { return d.id }
func (d *Device) SampleRate() int { return audio.CaptureSampleRate }

// Feed queues samples for the session to read
func (d *Device) Feed(samples []float32) {
	select {
	case d.samples <- samples:
	case <-d.closed:
	}
}

func (d *Device) ReadSamples(ctx context.Context) ([]float32, error) {
	select {
	case s := <-d.samples:
		return s, nil
	case <-d.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Device) Close() error {
	d.once.Do(func() {
		close(d.closed)
		if d.onClose != nil {
			d.onClose()
		}
	})
	return nil
}

// IsClosed reports whether the session released the device
func (d *Device) IsClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// Source hands out Devices and counts how many are held
type Source struct {
	mu      sync.Mutex
	Err     error
	held    int
	devices []*Device
}

func (s *Source) Acquire(ctx context.Context, owner string) (capture.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	d := &Device{
		id:      "test/" + owner,
		samples: make(chan []float32, 16),
		closed:  make(chan struct{}),
	}
	d.onClose = func() {
		s.mu.Lock()
		s.held--
		s.mu.Unlock()
	}
	s.held++
	s.devices = append(s.devices, d)
	return d, nil
}

// Held returns the number of devices acquired and not yet closed
func (s *Source) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Last returns the most recently acquired device
func (s *Source) Last() *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) == 0 {
		return nil
	}
	return s.devices[len(s.devices)-1]
}

type item struct {
	msg ai.LiveMessage
	err error
}

// Conn is a scripted live connection
type Conn struct {
	in     chan item
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []audio.EncodedChunk
}

func newConn() *Conn {
	return &Conn{in: make(chan item, 64), closed: make(chan struct{})}
}

// Emit queues a server event
func (c *Conn) Emit(msg ai.LiveMessage) { c.in <- item{msg: msg} }

// Text queues a transcript event
func (c *Conn) Text(kind ai.LiveMessageKind, text string) {
	c.Emit(ai.LiveMessage{Kind: kind, Text: text})
}

// Fail queues a transport error
func (c *Conn) Fail(err error) { c.in <- item{err: err} }

// RemoteClose queues a clean close from the server
func (c *Conn) RemoteClose() { c.in <- item{err: io.EOF} }

func (c *Conn) SendAudio(chunk audio.EncodedChunk) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chunk)
	return nil
}

// Sent returns the audio chunks sent so far
func (c *Conn) Sent() []audio.EncodedChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.EncodedChunk(nil), c.sent...)
}

func (c *Conn) Receive() (ai.LiveMessage, error) {
	select {
	case it := <-c.in:
		return it.msg, it.err
	case <-c.closed:
		return ai.LiveMessage{}, io.EOF
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether the session closed the connection
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Provider returns a fresh Conn for each ConnectLive call
type Provider struct {
	mu      sync.Mutex
	Err     error
	configs []ai.LiveConfig
	conns   chan *Conn
	// Gate, when set, blocks ConnectLive until it is closed or ctx ends
	Gate chan struct{}
}

// NewProvider creates a provider that accepts every connection
func NewProvider() *Provider {
	return &Provider{conns: make(chan *Conn, 16)}
}

func (p *Provider) ConnectLive(ctx context.Context, cfg ai.LiveConfig) (ai.LiveConnection, error) {
	p.mu.Lock()
	p.configs = append(p.configs, cfg)
	err, gate := p.Err, p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	c := newConn()
	p.conns <- c
	return c, nil
}

// Configs returns every config ConnectLive was called with
func (p *Provider) Configs() []ai.LiveConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ai.LiveConfig(nil), p.configs...)
}

// NextConn waits for the next connection handed out
func (p *Provider) NextConn(timeout time.Duration) *Conn {
	select {
	case c := <-p.conns:
		return c
	case <-time.After(timeout):
		return nil
	}
}
