//go:build !speaker

package playback

import (
	"errors"
	"time"
)

// SpeakerSink is unavailable without the speaker build tag
type SpeakerSink struct{}

// NewSpeakerSink reports that local playback was not compiled in
func NewSpeakerSink(sampleRate, channels int) (*SpeakerSink, error) {
	return nil, errors.New("speaker playback not compiled in (build with -tags speaker)")
}

func (s *SpeakerSink) Now() time.Duration { return 0 }

func (s *SpeakerSink) Start(buf *Buffer, at time.Duration) (Voice, error) {
	return nil, errors.New("speaker playback not compiled in")
}
