package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	// CaptureSampleRate is the rate microphone audio is sent at
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate the model returns audio at
	PlaybackSampleRate = 24000
)

// EncodedChunk is a transport-safe representation of PCM bytes
type EncodedChunk struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// PCMMIMEType returns the MIME tag for 16-bit PCM at rate
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// FloatsToPCM16 clamps samples to [-1,1], scales by 32767 and packs them
// as little-endian signed 16-bit integers.
func FloatsToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// PCM16ToFloats decodes interleaved little-endian PCM into one float slice
// per channel. Sample i of channel c is read from offset i*channels+c.
// Trailing bytes that do not form a whole frame are ignored.
func PCM16ToFloats(data []byte, channels int) [][]float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * 2
			out[c][i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
		}
	}
	return out
}

// BytesToTransportText encodes arbitrary bytes as standard base64
func BytesToTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// TransportTextToBytes reverses BytesToTransportText
func TransportTextToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid transport text: %w", err)
	}
	return b, nil
}

// Encode converts float samples into a chunk ready for the live transport
func Encode(samples []float32, rate int) EncodedChunk {
	return EncodedChunk{
		Data:     BytesToTransportText(FloatsToPCM16(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}
