//go:build speaker

package playback

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/google/uuid"
	"github.com/yegors/clara/internal/audio"
)

// SpeakerSink plays buffers on the local sound card through oto
type SpeakerSink struct {
	ctx   *oto.Context
	epoch time.Time
}

// NewSpeakerSink opens the default output device. oto allows one context per
// process, so create a single sink and share it.
func NewSpeakerSink(sampleRate, channels int) (*SpeakerSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return &SpeakerSink{ctx: ctx, epoch: time.Now()}, nil
}

func (s *SpeakerSink) Now() time.Duration {
	return time.Since(s.epoch)
}

// Start creates a player for buf and starts it when the clock reaches at
func (s *SpeakerSink) Start(buf *Buffer, at time.Duration) (Voice, error) {
	pcm := audio.FloatsToPCM16(interleave(buf.Channels))
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))

	v := newTimedVoice(uuid.NewString())
	delay := at - s.Now()
	if delay < 0 {
		delay = 0
	}
	startTimer := time.AfterFunc(delay, player.Play)
	v.timer = time.AfterFunc(delay+buf.Duration(), func() {
		v.finish()
		player.Close()
	})
	v.onStop = func() {
		startTimer.Stop()
		player.Pause()
		player.Close()
	}
	return v, nil
}
