package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/yegors/clara/pkg/logger"
)

// Buffer is decoded audio ready to be played
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the number of samples per channel
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns how long the buffer plays for
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Voice is a handle to one buffer scheduled on an output
type Voice interface {
	ID() string
	// Stop silences the voice. Calling it more than once is harmless.
	Stop()
	// Done is closed when the voice finishes or is stopped
	Done() <-chan struct{}
}

// Output is a playback context with its own clock
type Output interface {
	// Now reads the output clock, measured from the context's start
	Now() time.Duration
	// Start schedules buf to begin at the given clock reading
	Start(buf *Buffer, at time.Duration) (Voice, error)
}

// ResetPolicy selects where the cursor goes after InterruptAll
type ResetPolicy int

const (
	// ResetToZero rewinds the cursor to 0. The next chunk then starts at the
	// current clock reading because scheduling takes max(cursor, now).
	ResetToZero ResetPolicy = iota
	// ResetToClock moves the cursor to the output clock reading
	ResetToClock
)

// ParseResetPolicy maps a config value to a policy
func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch s {
	case "", "zero":
		return ResetToZero, nil
	case "clock":
		return ResetToClock, nil
	default:
		return ResetToZero, fmt.Errorf("unknown reset policy: %s", s)
	}
}

// Observer receives scheduling notifications
type Observer interface {
	ChunkScheduled(d time.Duration)
	Interrupted(stopped int)
}

// Scheduler queues buffers back to back on a single output clock and tracks
// which voices are still playing.
type Scheduler struct {
	out      Output
	policy   ResetPolicy
	observer Observer
	logger   *logger.Logger

	mu     sync.Mutex
	next   time.Duration
	active map[Voice]struct{}
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithResetPolicy sets the cursor reset policy
func WithResetPolicy(p ResetPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithObserver registers an observer for metrics
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// NewScheduler creates a scheduler bound to out
func NewScheduler(out Output, log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		logger: log.Named("playback-scheduler"),
		active: make(map[Voice]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule queues buf using the output's current clock reading
func (s *Scheduler) Schedule(buf *Buffer) (time.Duration, error) {
	return s.ScheduleChunk(s.out.Now(), buf)
}

// ScheduleChunk starts buf at max(cursor, now) and advances the cursor by the
// buffer's duration. It returns the start time.
func (s *Scheduler) ScheduleChunk(now time.Duration, buf *Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := s.next
	if now > startAt {
		startAt = now
	}

	voice, err := s.out.Start(buf, startAt)
	if err != nil {
		return 0, fmt.Errorf("failed to start playback: %w", err)
	}

	d := buf.Duration()
	s.next = startAt + d
	s.active[voice] = struct{}{}
	go s.watch(voice)

	if s.observer != nil {
		s.observer.ChunkScheduled(d)
	}
	s.logger.Debug("Scheduled chunk",
		logger.String("voice_id", voice.ID()),
		logger.Duration("start_at", startAt),
		logger.Duration("duration", d))

	return startAt, nil
}

func (s *Scheduler) watch(v Voice) {
	<-v.Done()
	s.mu.Lock()
	delete(s.active, v)
	s.mu.Unlock()
}

// InterruptAll stops every active voice, empties the active set and resets
// the cursor according to the policy. It returns how many voices were stopped.
func (s *Scheduler) InterruptAll() int {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.active))
	for v := range s.active {
		voices = append(voices, v)
		delete(s.active, v)
	}
	switch s.policy {
	case ResetToClock:
		s.next = s.out.Now()
	default:
		s.next = 0
	}
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}

	if len(voices) > 0 {
		if s.observer != nil {
			s.observer.Interrupted(len(voices))
		}
		s.logger.Debug("Interrupted playback", logger.Int("stopped", len(voices)))
	}
	return len(voices)
}

// NextStartTime returns the cursor
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Active returns the number of voices still playing or queued
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Pending returns how much scheduled audio has not started by now
func (s *Scheduler) Pending(now time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next <= now {
		return 0
	}
	return s.next - now
}
