package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/clara/internal/audio"
)

// Publisher fans messages out to connected front ends
type Publisher interface {
	Publish(msgType string, data map[string]any)
}

const (
	MessageTypePlaybackStart = "playback.start"
	MessageTypePlaybackStop  = "playback.stop"
)

// BrowserSink is an Output that forwards scheduled buffers to the browser,
// which plays them at start_at seconds relative to the sink's epoch.
type BrowserSink struct {
	pub   Publisher
	epoch time.Time
	clock func() time.Time
}

// NewBrowserSink creates a sink whose clock starts now
func NewBrowserSink(pub Publisher) *BrowserSink {
	return &BrowserSink{pub: pub, epoch: time.Now(), clock: time.Now}
}

// Now returns the time elapsed since the sink was created
func (b *BrowserSink) Now() time.Duration {
	return b.clock().Sub(b.epoch)
}

// Start publishes buf and returns a voice that ends when the buffer would
// have finished playing
func (b *BrowserSink) Start(buf *Buffer, at time.Duration) (Voice, error) {
	v := newTimedVoice(uuid.NewString())
	b.pub.Publish(MessageTypePlaybackStart, map[string]any{
		"voice_id":    v.id,
		"start_at":    at.Seconds(),
		"sample_rate": buf.SampleRate,
		"channels":    len(buf.Channels),
		"data":        audio.BytesToTransportText(audio.FloatsToPCM16(interleave(buf.Channels))),
	})

	remaining := at + buf.Duration() - b.Now()
	if remaining < 0 {
		remaining = 0
	}
	v.timer = time.AfterFunc(remaining, v.finish)
	v.onStop = func() {
		b.pub.Publish(MessageTypePlaybackStop, map[string]any{"voice_id": v.id})
	}
	return v, nil
}

// timedVoice finishes on a timer or when stopped, whichever comes first
type timedVoice struct {
	id     string
	done   chan struct{}
	once   sync.Once
	timer  *time.Timer
	onStop func()
}

func newTimedVoice(id string) *timedVoice {
	return &timedVoice{id: id, done: make(chan struct{})}
}

func (v *timedVoice) ID() string            { return v.id }
func (v *timedVoice) Done() <-chan struct{} { return v.done }

func (v *timedVoice) finish() {
	v.once.Do(func() { close(v.done) })
}

func (v *timedVoice) Stop() {
	stopped := false
	v.once.Do(func() {
		stopped = true
		if v.timer != nil {
			v.timer.Stop()
		}
		close(v.done)
	})
	if stopped && v.onStop != nil {
		v.onStop()
	}
}

func interleave(channels [][]float32) []float32 {
	if len(channels) == 1 {
		return channels[0]
	}
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]float32, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			out = append(out, ch[i])
		}
	}
	return out
}
