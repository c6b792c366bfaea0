package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/yegors/clara/internal/ai"
	"github.com/yegors/clara/internal/audio"
	"github.com/yegors/clara/internal/capture"
	"github.com/yegors/clara/pkg/logger"
)

var (
	// ErrTransport wraps any failure of the live connection
	ErrTransport = errors.New("live transport error")
	// ErrSessionActive is returned by Open when the session is not idle
	ErrSessionActive = errors.New("live session already active")
	// ErrClosedWhileConnecting is returned by Open when Close wins the race
	ErrClosedWhileConnecting = errors.New("live session closed while connecting")
)

// State is the lifecycle state of a Session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Observer receives session metrics
type Observer interface {
	SessionOpened(role string)
	SessionClosed(role string)
	FrameSent(role string)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string) {}
func (nopObserver) SessionClosed(string) {}
func (nopObserver) FrameSent(string)     {}

// Option configures a Session
type Option func(*Session)

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithFrameSamples sets the number of samples sent per capture frame
func WithFrameSamples(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.frameSamples = n
		}
	}
}

// Session owns one capture device and one live connection. Events from the
// connection are delivered to Handlers from a single goroutine in transport
// order.
type Session struct {
	role         string
	source       capture.Source
	provider     ai.LiveProvider
	frameSamples int
	observer     Observer
	logger       *logger.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	busy     bool
	conn     ai.LiveConnection
	device   capture.Device
	cancel   context.CancelFunc
	handlers Handlers
	failure  error
	done     chan struct{}
}

// NewSession creates an idle session. role identifies the owning controller
// and is used as the capture owner.
func NewSession(role string, source capture.Source, provider ai.LiveProvider, log *logger.Logger, opts ...Option) *Session {
	s := &Session{
		role:         role,
		source:       source,
		provider:     provider,
		frameSamples: 4096,
		observer:     nopObserver{},
		logger:       log.Named("live-session").With(logger.String("role", role)),
		done:         make(chan struct{}),
	}
	close(s.done)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the current session run has fully closed. It is
// already closed for a session that was never opened.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Open acquires the capture device, connects to the provider and starts
// streaming. Device errors from the capture source are returned unwrapped so
// callers can match them; connection failures wrap ErrTransport.
func (s *Session) Open(ctx context.Context, cfg ai.LiveConfig, h Handlers) error {
	s.mu.Lock()
	if s.busy || s.state == StateConnecting || s.state == StateOpen || s.state == StateErrored {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	dev, err := s.source.Acquire(ctx, s.role)
	if err != nil {
		s.logger.Warn("Capture device not acquired", logger.Error(err))
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.device = dev
	s.cancel = cancel
	s.handlers = h
	s.failure = nil
	s.done = make(chan struct{})
	s.mu.Unlock()

	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = dev.SampleRate()
	}

	s.logger.Info("Connecting live session",
		logger.String("model", cfg.Model),
		logger.String("device", dev.ID()))

	dialCtx, dialCancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-runCtx.Done():
			dialCancel()
		case <-dialCtx.Done():
		}
	}()
	conn, err := s.provider.ConnectLive(dialCtx, cfg)
	dialCancel()

	s.mu.Lock()
	if err != nil || s.gen != gen {
		closedMeanwhile := s.gen != gen
		if !closedMeanwhile {
			s.resetLocked(StateIdle)
		}
		s.mu.Unlock()
		cancel()
		dev.Close()
		if conn != nil {
			conn.Close()
		}
		if closedMeanwhile {
			return ErrClosedWhileConnecting
		}
		s.logger.Error("Live session connect failed", logger.Error(err))
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.observer.SessionOpened(s.role)
	s.logger.Info("Live session open")

	go s.processAudio(runCtx, gen, dev, conn)
	go s.processMessages(gen, conn, h)
	return nil
}

// resetLocked clears per-run resources and closes done. Caller holds mu.
func (s *Session) resetLocked(next State) {
	s.state = next
	s.conn = nil
	s.device = nil
	s.cancel = nil
	s.handlers = Handlers{}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Close stops capture, closes the connection and releases the device. It is
// a no-op when the session is idle or already closed and may be called from
// inside a handler.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateOpen {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == StateOpen
	s.gen++
	conn, dev, cancel := s.conn, s.device, s.cancel
	s.resetLocked(StateClosed)
	s.mu.Unlock()

	s.release(cancel, dev, conn)
	if wasOpen {
		s.observer.SessionClosed(s.role)
	}
	s.logger.Info("Live session closed")
	return nil
}

func (s *Session) release(cancel context.CancelFunc, dev capture.Device, conn ai.LiveConnection) {
	if cancel != nil {
		cancel()
	}
	if dev != nil {
		if err := dev.Close(); err != nil {
			s.logger.Warn("Failed to close capture device", logger.Error(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close live connection", logger.Error(err))
		}
	}
}

// alive reports whether events for run gen should still be dispatched
func (s *Session) alive(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == StateOpen
}

// processAudio pumps capture frames to the connection. A capture or send
// failure is recorded and the connection is closed so processMessages
// reports it.
func (s *Session) processAudio(ctx context.Context, gen uint64, dev capture.Device, conn ai.LiveConnection) {
	framer := audio.NewFramer(s.frameSamples)
	rate := dev.SampleRate()

	for {
		samples, err := dev.ReadSamples(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: capture stream ended", capture.ErrDeviceUnavailable)
			}
			s.abort(gen, conn, err)
			return
		}

		for _, frame := range framer.Push(samples) {
			if err := conn.SendAudio(audio.Encode(frame, rate)); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.abort(gen, conn, fmt.Errorf("%w: %v", ErrTransport, err))
				return
			}
			s.observer.FrameSent(s.role)
		}
	}
}

func (s *Session) abort(gen uint64, conn ai.LiveConnection, err error) {
	s.mu.Lock()
	if s.gen == gen && s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	s.logger.Error("Capture pump stopped", logger.Error(err))
	conn.Close()
}

// processMessages is the single dispatch goroutine for a session run
func (s *Session) processMessages(gen uint64, conn ai.LiveConnection, h Handlers) {
	for {
		msg, err := conn.Receive()
		if err != nil {
			s.fail(gen, err, h)
			return
		}
		if !s.alive(gen) {
			return
		}
		if ev, ok := eventFromMessage(msg); ok {
			h.dispatch(ev)
		}
	}
}

// fail tears the run down after a receive error. A clean remote close skips
// OnError and goes straight to Closed.
func (s *Session) fail(gen uint64, err error, h Handlers) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	if s.failure != nil {
		err = s.failure
	} else if !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
	}
	clean := errors.Is(err, io.EOF)
	conn, dev, cancel := s.conn, s.device, s.cancel
	if clean {
		s.gen++
		s.resetLocked(StateClosed)
	} else {
		s.state = StateErrored
		s.conn, s.device, s.cancel = nil, nil, nil
	}
	s.mu.Unlock()

	s.release(cancel, dev, conn)
	s.observer.SessionClosed(s.role)

	if clean {
		s.logger.Info("Live session closed by remote")
		h.dispatch(Event{Kind: EventClosed})
		return
	}

	s.logger.Error("Live session failed", logger.Error(err))
	h.dispatch(Event{Kind: EventError, Err: err})
	h.dispatch(Event{Kind: EventClosed})

	s.mu.Lock()
	if s.gen == gen {
		s.gen++
		s.resetLocked(StateClosed)
	}
	s.mu.Unlock()
}
